// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/z5labs/pdfrelay/bus"

	pubsubpb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/option"
)

type getTopicFunc func(context.Context, *pubsubpb.GetTopicRequest, ...gax.CallOption) (*pubsubpb.Topic, error)

type publishFunc func(context.Context, *pubsubpb.PublishRequest, ...gax.CallOption) (*pubsubpb.PublishResponse, error)

type fakeClient struct {
	getTopic getTopicFunc
	publish  publishFunc
	closed   bool
}

func (c *fakeClient) GetTopic(ctx context.Context, req *pubsubpb.GetTopicRequest, opts ...gax.CallOption) (*pubsubpb.Topic, error) {
	if c.getTopic == nil {
		return &pubsubpb.Topic{Name: req.Topic}, nil
	}
	return c.getTopic(ctx, req, opts...)
}

func (c *fakeClient) Publish(ctx context.Context, req *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
	return c.publish(ctx, req, opts...)
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func withClient(c publisherClient) Option {
	return func(o *options) {
		o.newClient = func(context.Context, ...option.ClientOption) (publisherClient, error) {
			return c, nil
		}
	}
}

func TestPublisher_Connect(t *testing.T) {
	t.Run("will return ErrMissingProjectID", func(t *testing.T) {
		t.Run("if no project id is configured", func(t *testing.T) {
			p := NewPublisher(withClient(&fakeClient{}))

			err := p.Connect(context.Background())
			if !assert.ErrorIs(t, err, ErrMissingProjectID) {
				return
			}
		})
	})

	t.Run("will return a TopicError", func(t *testing.T) {
		t.Run("if a configured topic does not exist", func(t *testing.T) {
			notFound := errors.New("not found")
			client := &fakeClient{
				getTopic: func(ctx context.Context, req *pubsubpb.GetTopicRequest, opts ...gax.CallOption) (*pubsubpb.Topic, error) {
					return nil, notFound
				},
			}
			p := NewPublisher(
				ProjectID("my-project"),
				Topics("message-server-errors"),
				withClient(client),
			)

			err := p.Connect(context.Background())

			var terr TopicError
			if !assert.ErrorAs(t, err, &terr) {
				return
			}
			if !assert.Equal(t, "projects/my-project/topics/message-server-errors", terr.Topic) {
				return
			}
			if !assert.ErrorIs(t, err, notFound) {
				return
			}
			if !assert.True(t, client.closed) {
				return
			}
		})
	})
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("will publish to the fully qualified topic", func(t *testing.T) {
		t.Run("if the publisher is connected", func(t *testing.T) {
			var req *pubsubpb.PublishRequest
			client := &fakeClient{
				publish: func(ctx context.Context, pr *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
					req = pr
					return &pubsubpb.PublishResponse{MessageIds: []string{"1"}}, nil
				},
			}
			p := NewPublisher(ProjectID("my-project"), withClient(client))
			err := p.Connect(context.Background())
			if !assert.Nil(t, err) {
				return
			}

			err = p.Publish(context.Background(), bus.Message{
				Topic:   "message-server-events",
				Key:     []byte("abc-123"),
				Value:   []byte(`{}`),
				Headers: map[string]string{"service": "message-server"},
			})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "projects/my-project/topics/message-server-events", req.Topic) {
				return
			}
			if !assert.Len(t, req.Messages, 1) {
				return
			}
			if !assert.Equal(t, "abc-123", req.Messages[0].OrderingKey) {
				return
			}
			if !assert.Equal(t, "message-server", req.Messages[0].Attributes["service"]) {
				return
			}
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the publish request fails", func(t *testing.T) {
			publishErr := errors.New("unavailable")
			client := &fakeClient{
				publish: func(ctx context.Context, pr *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
					return nil, publishErr
				},
			}
			p := NewPublisher(ProjectID("my-project"), withClient(client))
			err := p.Connect(context.Background())
			if !assert.Nil(t, err) {
				return
			}

			err = p.Publish(context.Background(), bus.Message{Topic: "message-server-events"})
			if !assert.ErrorIs(t, err, publishErr) {
				return
			}
		})
	})
}
