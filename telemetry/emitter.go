// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"context"
	"time"

	"github.com/z5labs/pdfrelay/internal/try"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender delivers a record to a bus topic and reports whether it was acknowledged.
type Sender interface {
	Send(ctx context.Context, topic string, record any, correlationID string) bool
}

type emitterOptions struct {
	log         *zap.Logger
	maxInFlight int
	sendTimeout time.Duration
	synchronous bool
}

// EmitterOption configures an Emitter.
type EmitterOption func(*emitterOptions)

// EmitterLogger configures the local logger.
func EmitterLogger(log *zap.Logger) EmitterOption {
	return func(eo *emitterOptions) {
		eo.log = log
	}
}

// MaxInFlight bounds the number of concurrent sends. Records emitted
// while the limit is reached are dropped. Default is 256.
func MaxInFlight(n int) EmitterOption {
	return func(eo *emitterOptions) {
		eo.maxInFlight = n
	}
}

// SendTimeout bounds a single send. Default is 5 seconds.
func SendTimeout(d time.Duration) EmitterOption {
	return func(eo *emitterOptions) {
		eo.sendTimeout = d
	}
}

// Synchronous makes Emit send on the calling goroutine.
func Synchronous() EmitterOption {
	return func(eo *emitterOptions) {
		eo.synchronous = true
	}
}

// Emitter hands records to a Sender in the background.
type Emitter struct {
	log         *zap.Logger
	sender      Sender
	sendTimeout time.Duration
	synchronous bool

	g errgroup.Group
}

// NewEmitter returns an Emitter which delivers records through s.
func NewEmitter(s Sender, opts ...EmitterOption) *Emitter {
	eo := &emitterOptions{
		log:         zap.NewNop(),
		maxInFlight: 256,
		sendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(eo)
	}
	e := &Emitter{
		log:         eo.log.Named("telemetry"),
		sender:      s,
		sendTimeout: eo.sendTimeout,
		synchronous: eo.synchronous,
	}
	e.g.SetLimit(eo.maxInFlight)
	return e
}

// Emit delivers rec to topic. Unless the Emitter is synchronous it
// returns immediately and the send outlives the cancellation of ctx.
func (e *Emitter) Emit(ctx context.Context, topic string, rec Record) {
	if e.synchronous {
		e.dispatch(ctx, topic, rec)
		return
	}

	ctx = context.WithoutCancel(ctx)
	started := e.g.TryGo(func() error {
		e.dispatch(ctx, topic, rec)
		return nil
	})
	if started {
		return
	}
	e.log.Warn(
		"too many telemetry records in flight, dropping record",
		zap.String("topic", topic),
		zap.String("correlation_id", rec.header().CorrelationID),
	)
}

func (e *Emitter) dispatch(ctx context.Context, topic string, rec Record) {
	err := e.send(ctx, topic, rec)
	if err == nil {
		return
	}
	e.log.Error(
		"recovered from panic while sending telemetry record",
		zap.String("topic", topic),
		zap.Error(err),
	)
}

func (e *Emitter) send(ctx context.Context, topic string, rec Record) (err error) {
	defer try.Recover(&err)

	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	e.sender.Send(ctx, topic, rec, rec.header().CorrelationID)
	return nil
}

// Flush waits for every in flight send to finish or ctx to be done.
// Records must not be emitted concurrently with Flush.
func (e *Emitter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.g.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
