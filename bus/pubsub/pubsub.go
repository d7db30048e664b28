// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package pubsub provides a bus.Publisher backed by Google Cloud Pub/Sub.
// Bus topics map one to one onto Pub/Sub topic ids within a single project.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/z5labs/pdfrelay/bus"
	"github.com/z5labs/pdfrelay/internal/fixedpool"

	pubsub "cloud.google.com/go/pubsub/apiv1"
	pubsubpb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

type publisherClient interface {
	GetTopic(context.Context, *pubsubpb.GetTopicRequest, ...gax.CallOption) (*pubsubpb.Topic, error)
	Publish(context.Context, *pubsubpb.PublishRequest, ...gax.CallOption) (*pubsubpb.PublishResponse, error)
	Close() error
}

type options struct {
	log        *zap.Logger
	projectID  string
	topics     []string
	clientOpts []option.ClientOption
	newClient  func(context.Context, ...option.ClientOption) (publisherClient, error)
}

// Option configures a Publisher.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// ProjectID configures the Google Cloud project which owns the topics.
func ProjectID(id string) Option {
	return func(o *options) {
		o.projectID = id
	}
}

// Topics are verified to exist when connecting.
func Topics(ids ...string) Option {
	return func(o *options) {
		o.topics = append(o.topics, ids...)
	}
}

// ClientOptions are passed through to the underlying publisher client.
func ClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// Publisher publishes bus messages to Pub/Sub topics.
type Publisher struct {
	log        *zap.Logger
	projectID  string
	topics     []string
	clientOpts []option.ClientOption
	newClient  func(context.Context, ...option.ClientOption) (publisherClient, error)

	client publisherClient
}

// NewPublisher returns an unconnected Publisher.
func NewPublisher(opts ...Option) *Publisher {
	o := &options{
		log:       zap.NewNop(),
		newClient: newClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Publisher{
		log:        o.log.Named("pubsub"),
		projectID:  o.projectID,
		topics:     o.topics,
		clientOpts: o.clientOpts,
		newClient:  o.newClient,
	}
}

func newClient(ctx context.Context, opts ...option.ClientOption) (publisherClient, error) {
	opts = append(
		opts,
		option.WithGRPCDialOption(grpc.WithStatsHandler(otelgrpc.NewClientHandler())),
	)
	return pubsub.NewPublisherClient(ctx, opts...)
}

// ErrMissingProjectID is returned by Connect if no project id was configured.
var ErrMissingProjectID = errors.New("pubsub: missing project id")

// TopicError occurs when a configured topic can not be found.
type TopicError struct {
	Topic string
	Cause error
}

// Error implements the error interface.
func (e TopicError) Error() string {
	return fmt.Sprintf("pubsub: failed to get topic %s: %s", e.Topic, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e TopicError) Unwrap() error {
	return e.Cause
}

// Connect implements the bus.Publisher interface.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.projectID == "" {
		return ErrMissingProjectID
	}

	client, err := p.newClient(ctx, p.clientOpts...)
	if err != nil {
		return err
	}

	tasks := make([]fixedpool.Task, 0, len(p.topics))
	for _, topic := range p.topics {
		name := p.topicName(topic)
		tasks = append(tasks, func(ctx context.Context) error {
			_, err := client.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
			if err != nil {
				return TopicError{Topic: name, Cause: err}
			}
			return nil
		})
	}
	err = fixedpool.Wait(ctx, tasks...)
	if err != nil {
		client.Close()
		return err
	}
	p.client = client
	p.log.Info("connected to pubsub", zap.String("project_id", p.projectID))
	return nil
}

func (p *Publisher) topicName(topic string) string {
	return fmt.Sprintf("projects/%s/topics/%s", p.projectID, topic)
}

// Publish implements the bus.Publisher interface. The message key is used
// as the ordering key and headers are sent as message attributes.
func (p *Publisher) Publish(ctx context.Context, msg bus.Message) error {
	_, err := p.client.Publish(ctx, &pubsubpb.PublishRequest{
		Topic: p.topicName(msg.Topic),
		Messages: []*pubsubpb.PubsubMessage{
			{
				Data:        msg.Value,
				Attributes:  msg.Headers,
				OrderingKey: string(msg.Key),
			},
		},
	})
	return err
}

// Close implements the bus.Publisher interface.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
