// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka provides a bus.Publisher backed by Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/z5labs/pdfrelay/bus"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultBroker is used when no brokers are configured.
const DefaultBroker = "localhost:9092"

type writer interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (brokerConn, error)

type brokerConn interface {
	Brokers() ([]kafka.Broker, error)
	Close() error
}

type options struct {
	log          *zap.Logger
	brokers      []string
	clientID     string
	writeTimeout time.Duration
	dial         dialFunc
	newWriter    func([]string, string, time.Duration) writer
}

// Option configures a Publisher.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Brokers configures the bootstrap brokers.
func Brokers(addrs ...string) Option {
	return func(o *options) {
		o.brokers = append(o.brokers, addrs...)
	}
}

// ClientID identifies this process to the brokers.
func ClientID(id string) Option {
	return func(o *options) {
		o.clientID = id
	}
}

// WriteTimeout bounds a single produce request. Default is 10 seconds.
func WriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// Publisher produces bus messages to Kafka topics. The topic of each
// message is taken from bus.Message.Topic and partitions are chosen by
// hashing the message key.
type Publisher struct {
	log          *zap.Logger
	brokers      []string
	clientID     string
	writeTimeout time.Duration
	dial         dialFunc
	newWriter    func([]string, string, time.Duration) writer

	w writer
}

// NewPublisher returns an unconnected Publisher.
func NewPublisher(opts ...Option) *Publisher {
	o := &options{
		log:          zap.NewNop(),
		clientID:     "message-server",
		writeTimeout: 10 * time.Second,
		newWriter:    newWriter,
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.brokers) == 0 {
		o.brokers = []string{DefaultBroker}
	}
	if o.dial == nil {
		o.dial = dialer(o.clientID)
	}
	return &Publisher{
		log:          o.log.Named("kafka"),
		brokers:      o.brokers,
		clientID:     o.clientID,
		writeTimeout: o.writeTimeout,
		dial:         o.dial,
		newWriter:    o.newWriter,
	}
}

func dialer(clientID string) dialFunc {
	d := &kafka.Dialer{
		ClientID:  clientID,
		DualStack: true,
	}
	return func(ctx context.Context, network, address string) (brokerConn, error) {
		return d.DialContext(ctx, network, address)
	}
}

func newWriter(brokers []string, clientID string, writeTimeout time.Duration) writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}
}

// ConnectError is returned when none of the brokers could be reached.
type ConnectError struct {
	Brokers []string
	Cause   error
}

// Error implements the error interface.
func (e ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to any kafka broker %v: %s", e.Brokers, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e ConnectError) Unwrap() error {
	return e.Cause
}

// Connect implements the bus.Publisher interface. It succeeds as soon
// as one of the bootstrap brokers returns the cluster metadata.
func (p *Publisher) Connect(ctx context.Context) error {
	var errs []error
	for _, addr := range p.brokers {
		err := p.probe(ctx, addr)
		if err == nil {
			p.w = p.newWriter(p.brokers, p.clientID, p.writeTimeout)
			p.log.Info("connected to kafka", zap.String("broker", addr))
			return nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return ConnectError{
		Brokers: p.brokers,
		Cause:   errors.Join(errs...),
	}
}

func (p *Publisher) probe(ctx context.Context, addr string) error {
	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Brokers()
	return err
}

// Publish implements the bus.Publisher interface.
func (p *Publisher) Publish(ctx context.Context, msg bus.Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

// Close implements the bus.Publisher interface. Buffered messages are
// flushed before the connection is released.
func (p *Publisher) Close() error {
	if p.w == nil {
		return nil
	}
	return p.w.Close()
}
