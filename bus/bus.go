// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package bus publishes telemetry records to an asynchronous message bus.
//
// A bus outage never fails the caller. If the publisher can not connect
// the Client stays disconnected and every Send reports false.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of the connection to the bus.
type State int32

const (
	Uninitialized State = iota
	Connected
	Disconnected
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "uninitialized"
	}
}

// Message is a single keyed record handed to a Publisher.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher is implemented by the bus drivers.
//
// Publish and Close are only ever called after Connect succeeded.
// Publish must be safe for concurrent use.
type Publisher interface {
	Connect(context.Context) error
	Publish(context.Context, Message) error
	Close() error
}

// ErrConnectTimeout is logged when the publisher does not connect
// within the configured connect timeout.
var ErrConnectTimeout = errors.New("timed out connecting to the bus")

// Header names attached to every published message.
const (
	CorrelationIDHeader = "correlation-id"
	ServiceHeader       = "service"
)

type options struct {
	log            *zap.Logger
	service        string
	connectTimeout time.Duration
	onSend         func(topic string, ok bool)
	now            func() time.Time
}

// Option configures a Client.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// ServiceName is stamped on every envelope and message header.
func ServiceName(name string) Option {
	return func(o *options) {
		o.service = name
	}
}

// ConnectTimeout bounds Initialize. Default is 3 seconds.
func ConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// OnSend registers a func which is called with the outcome
// of every Send, e.g. for metrics.
func OnSend(f func(topic string, ok bool)) Option {
	return func(o *options) {
		o.onSend = f
	}
}

// Client owns the bus connection and its state.
type Client struct {
	log            *zap.Logger
	tracer         trace.Tracer
	pub            Publisher
	service        string
	connectTimeout time.Duration
	onSend         func(string, bool)
	now            func() time.Time

	initOnce sync.Once
	state    atomic.Int32
}

// NewClient returns a Client which publishes through pub.
// A nil pub disables the bus.
func NewClient(pub Publisher, opts ...Option) *Client {
	o := &options{
		log:            zap.NewNop(),
		service:        "message-server",
		connectTimeout: 3 * time.Second,
		onSend:         func(string, bool) {},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		log:            o.log.Named("bus"),
		tracer:         otel.Tracer("bus"),
		pub:            pub,
		service:        o.service,
		connectTimeout: o.connectTimeout,
		onSend:         o.onSend,
		now:            o.now,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Healthy reports whether the bus is connected.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.State() == Connected
}

// Initialize connects the publisher. Failure to connect within the
// connect timeout leaves the client Disconnected and is only logged.
// Only the first call has any effect.
func (c *Client) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		c.initialize(ctx)
	})
}

func (c *Client) initialize(ctx context.Context) {
	if c.pub == nil {
		c.state.Store(int32(Disconnected))
		c.log.Warn("bus is disabled, telemetry records will only be logged locally")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.pub.Connect(ctx)
	}()

	select {
	case <-ctx.Done():
		c.state.Store(int32(Disconnected))
		c.log.Warn(
			"failed to connect to bus, continuing without it",
			zap.Duration("connect_timeout", c.connectTimeout),
			zap.Error(ErrConnectTimeout),
		)
		go c.closeLate(errCh)
	case err := <-errCh:
		if err != nil {
			c.state.Store(int32(Disconnected))
			c.log.Warn("failed to connect to bus, continuing without it", zap.Error(err))
			return
		}
		c.state.Store(int32(Connected))
		c.log.Info("connected to bus")
	}
}

// closeLate releases a connection which completed after Initialize gave up on it.
func (c *Client) closeLate(errCh <-chan error) {
	err := <-errCh
	if err != nil {
		return
	}
	err = c.pub.Close()
	if err != nil {
		c.log.Warn("failed to close late bus connection", zap.Error(err))
	}
}

// Send publishes record to topic. It reports whether the bus acknowledged
// the message and never returns an error to the caller.
//
// The record is encoded as a JSON object and enriched with the dispatch
// timestamp, the correlation id (null when empty) and the service name.
func (c *Client) Send(ctx context.Context, topic string, record any, correlationID string) (ok bool) {
	defer func() {
		c.onSend(topic, ok)
	}()

	log := c.log.With(zap.String("topic", topic), zap.String("correlation_id", correlationID))
	if c.State() != Connected {
		log.Warn("bus is not connected, dropping message")
		return false
	}

	spanCtx, span := c.tracer.Start(ctx, "Client.Send", trace.WithAttributes(
		attribute.String("bus.topic", topic),
	))
	defer span.End()

	msg, err := c.envelope(topic, record, correlationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode message")
		log.Error("failed to encode message", zap.String("error_type", "BusDeliveryError"), zap.Error(err))
		return false
	}

	err = c.pub.Publish(spanCtx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		log.Error("failed to publish message", zap.String("error_type", "BusDeliveryError"), zap.Error(err))
		return false
	}
	log.Debug("published message")
	return true
}

// EncodeError occurs when a record can not be encoded as a JSON object.
type EncodeError struct {
	Cause error
}

// Error implements the error interface.
func (e EncodeError) Error() string {
	return "failed to encode record as json object: " + e.Cause.Error()
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e EncodeError) Unwrap() error {
	return e.Cause
}

func (c *Client) envelope(topic string, record any, correlationID string) (Message, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return Message{}, EncodeError{Cause: err}
	}

	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	err = dec.Decode(&fields)
	if err != nil {
		return Message{}, EncodeError{Cause: err}
	}

	var id any
	if correlationID != "" {
		id = correlationID
	}
	fields["timestamp"] = c.now().UTC().Format(time.RFC3339Nano)
	fields["correlationId"] = id
	fields["service"] = c.service

	value, err := json.Marshal(fields)
	if err != nil {
		return Message{}, EncodeError{Cause: err}
	}

	msg := Message{
		Topic: topic,
		Value: value,
		Headers: map[string]string{
			CorrelationIDHeader: correlationID,
			ServiceHeader:       c.service,
		},
	}
	if correlationID != "" {
		msg.Key = []byte(correlationID)
	}
	return msg, nil
}

// Shutdown closes the publisher, if connected. Close failures are logged.
func (c *Client) Shutdown(ctx context.Context) {
	prev := State(c.state.Swap(int32(Disconnected)))
	if prev != Connected {
		return
	}

	err := c.pub.Close()
	if err != nil {
		c.log.Error("failed to close bus connection", zap.Error(err))
		return
	}
	c.log.Info("disconnected from bus")
}
