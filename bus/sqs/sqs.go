// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sqs provides a bus.Publisher backed by AWS SQS. Each bus topic
// is a queue whose URL is the configured prefix joined with the topic.
package sqs

import (
	"context"
	"errors"
	"strings"

	"github.com/z5labs/pdfrelay/bus"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

type sqsClient interface {
	ListQueues(context.Context, *sqs.ListQueuesInput, ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type options struct {
	log             *zap.Logger
	region          string
	endpoint        string
	queueURLPrefix  string
	accessKeyID     string
	secretAccessKey string
	client          sqsClient
}

// Option configures a Publisher.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Region configures the AWS region.
func Region(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// Endpoint overrides the SQS endpoint, e.g. for LocalStack.
func Endpoint(url string) Option {
	return func(o *options) {
		o.endpoint = url
	}
}

// QueueURLPrefix is joined with the topic to build each queue URL,
// e.g. https://sqs.us-east-1.amazonaws.com/123456789012
func QueueURLPrefix(prefix string) Option {
	return func(o *options) {
		o.queueURLPrefix = strings.TrimSuffix(prefix, "/")
	}
}

// StaticCredentials configures an access key pair. Without it
// requests are sent anonymously.
func StaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *options) {
		o.accessKeyID = accessKeyID
		o.secretAccessKey = secretAccessKey
	}
}

// Publisher sends bus messages to SQS queues.
type Publisher struct {
	log            *zap.Logger
	queueURLPrefix string
	newClient      func() sqsClient

	client sqsClient
}

// NewPublisher returns an unconnected Publisher.
func NewPublisher(opts ...Option) *Publisher {
	o := &options{
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	p := &Publisher{
		log:            o.log.Named("sqs"),
		queueURLPrefix: o.queueURLPrefix,
		newClient: func() sqsClient {
			return newClient(o)
		},
	}
	if o.client != nil {
		p.newClient = func() sqsClient {
			return o.client
		}
	}
	return p
}

func newClient(o *options) sqsClient {
	sqsOpts := sqs.Options{
		Region:      o.region,
		Credentials: aws.AnonymousCredentials{},
	}
	if o.endpoint != "" {
		sqsOpts.BaseEndpoint = aws.String(o.endpoint)
	}
	if o.accessKeyID != "" {
		sqsOpts.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     o.accessKeyID,
				SecretAccessKey: o.secretAccessKey,
				Source:          "pdfrelay",
			}, nil
		})
	}
	return sqs.New(sqsOpts)
}

// ErrMissingQueueURLPrefix is returned by Connect if no queue URL prefix was configured.
var ErrMissingQueueURLPrefix = errors.New("sqs: missing queue url prefix")

// Connect implements the bus.Publisher interface. It verifies the
// endpoint and credentials by listing queues.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.queueURLPrefix == "" {
		return ErrMissingQueueURLPrefix
	}

	client := p.newClient()
	_, err := client.ListQueues(ctx, &sqs.ListQueuesInput{})
	if err != nil {
		return err
	}
	p.client = client
	p.log.Info("connected to sqs", zap.String("queue_url_prefix", p.queueURLPrefix))
	return nil
}

// QueueURL returns the URL of the queue backing topic.
func (p *Publisher) QueueURL(topic string) string {
	return p.queueURLPrefix + "/" + topic
}

// Publish implements the bus.Publisher interface. Headers are sent as
// string message attributes. For FIFO queues the message key is used as
// the message group id.
func (p *Publisher) Publish(ctx context.Context, msg bus.Message) error {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Headers))
	for k, v := range msg.Headers {
		if v == "" {
			continue
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.QueueURL(msg.Topic)),
		MessageBody:       aws.String(string(msg.Value)),
		MessageAttributes: attrs,
	}
	if strings.HasSuffix(msg.Topic, ".fifo") {
		group := string(msg.Key)
		if group == "" {
			group = msg.Topic
		}
		input.MessageGroupId = aws.String(group)
	}

	_, err := p.client.SendMessage(ctx, input)
	return err
}

// Close implements the bus.Publisher interface.
func (p *Publisher) Close() error {
	return nil
}
