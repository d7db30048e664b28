// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/z5labs/pdfrelay/correlation"
	"github.com/z5labs/pdfrelay/internal/logging"

	"go.uber.org/zap"
)

// Default topics.
const (
	DefaultErrorTopic   = "message-server-errors"
	DefaultEventTopic   = "message-server-events"
	DefaultRequestTopic = "message-server-requests"
)

type loggerOptions struct {
	log     *zap.Logger
	topic   string
	service string
}

// LoggerOption configures the ErrorLogger, EventLogger and RequestLogger.
type LoggerOption func(*loggerOptions)

// Logger configures the local logger.
func Logger(log *zap.Logger) LoggerOption {
	return func(lo *loggerOptions) {
		lo.log = log
	}
}

// Topic overrides the default topic.
func Topic(topic string) LoggerOption {
	return func(lo *loggerOptions) {
		if topic != "" {
			lo.topic = topic
		}
	}
}

// ServiceName is stamped on every record.
func ServiceName(name string) LoggerOption {
	return func(lo *loggerOptions) {
		lo.service = name
	}
}

type recorder struct {
	log     *zap.Logger
	emitter *Emitter
	topic   string
	service string
	now     func() time.Time
}

func newRecorder(e *Emitter, name, topic string, opts ...LoggerOption) recorder {
	lo := &loggerOptions{
		log:     zap.NewNop(),
		topic:   topic,
		service: "message-server",
	}
	for _, opt := range opts {
		opt(lo)
	}
	return recorder{
		log:     lo.log.Named(name),
		emitter: e,
		topic:   lo.topic,
		service: lo.service,
		now:     time.Now,
	}
}

func (r recorder) header(ctx context.Context) Header {
	id, _ := correlation.FromContext(ctx)
	return Header{
		CorrelationID: id.String(),
		Service:       r.service,
		OccurredAt:    r.now().UTC(),
	}
}

// ErrorLogger reports failures to the local log and the error topic.
type ErrorLogger struct {
	recorder
}

// NewErrorLogger returns an ErrorLogger publishing through e.
func NewErrorLogger(e *Emitter, opts ...LoggerOption) *ErrorLogger {
	return &ErrorLogger{recorder: newRecorder(e, "errors", DefaultErrorTopic, opts...)}
}

// LogError writes in to the local log and then emits it without waiting
// for the bus. The correlation id is read from ctx.
func (l *ErrorLogger) LogError(ctx context.Context, in ErrorInput) {
	rec := NewErrorRecord(l.header(ctx), in)

	logging.FromContext(ctx, l.log).Error(
		rec.ErrorMessage,
		zap.String("error_type", rec.ErrorType),
		zap.String("endpoint", rec.Endpoint),
		zap.String("stack", rec.StackTrace),
	)
	l.emitter.Emit(ctx, l.topic, rec)
}

// EventLogger reports business events to the local log and the event topic.
type EventLogger struct {
	recorder
}

// NewEventLogger returns an EventLogger publishing through e.
func NewEventLogger(e *Emitter, opts ...LoggerOption) *EventLogger {
	return &EventLogger{recorder: newRecorder(e, "events", DefaultEventTopic, opts...)}
}

// LogEvent writes in to the local log and then emits it without waiting
// for the bus. The correlation id is read from ctx.
func (l *EventLogger) LogEvent(ctx context.Context, in EventInput) {
	rec := NewEventRecord(l.header(ctx), in)

	logging.FromContext(ctx, l.log).Info(
		rec.EventDescription,
		zap.String("event_type", rec.EventType),
		zap.String("endpoint", rec.Endpoint),
	)
	l.emitter.Emit(ctx, l.topic, rec)
}

// RequestLogger reports completed requests to the local log and the request topic.
type RequestLogger struct {
	recorder
}

// NewRequestLogger returns a RequestLogger publishing through e.
func NewRequestLogger(e *Emitter, opts ...LoggerOption) *RequestLogger {
	return &RequestLogger{recorder: newRecorder(e, "requests", DefaultRequestTopic, opts...)}
}

// LogRequest writes in to the local log and then emits it without waiting
// for the bus. The correlation id is read from ctx.
func (l *RequestLogger) LogRequest(ctx context.Context, in RequestInput) {
	rec := NewRequestRecord(l.header(ctx), in)

	logging.FromContext(ctx, l.log).Info(
		fmt.Sprintf("%s %s - %d - %dms", rec.Method, rec.Endpoint, rec.StatusCode, in.Duration.Milliseconds()),
		zap.String("method", rec.Method),
		zap.String("endpoint", rec.Endpoint),
		zap.Int("status_code", rec.StatusCode),
	)
	l.emitter.Emit(ctx, l.topic, rec)
}
