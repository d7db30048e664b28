// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu       sync.Mutex
	connect  func(context.Context) error
	publish  func(context.Context, Message) error
	closeErr error
	closed   int
	messages []Message
}

func (p *fakePublisher) Connect(ctx context.Context) error {
	if p.connect == nil {
		return nil
	}
	return p.connect(ctx)
}

func (p *fakePublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publish != nil {
		err := p.publish(ctx, msg)
		if err != nil {
			return err
		}
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

func TestClient_Initialize(t *testing.T) {
	t.Run("will transition to Connected", func(t *testing.T) {
		t.Run("if the publisher connects", func(t *testing.T) {
			c := NewClient(&fakePublisher{})

			if !assert.Equal(t, Uninitialized, c.State()) {
				return
			}
			c.Initialize(context.Background())
			if !assert.Equal(t, Connected, c.State()) {
				return
			}
			if !assert.True(t, c.Healthy(context.Background())) {
				return
			}
		})
	})

	t.Run("will transition to Disconnected", func(t *testing.T) {
		t.Run("if the publisher fails to connect", func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			pub := &fakePublisher{
				connect: func(ctx context.Context) error {
					return errors.New("connection refused")
				},
			}
			c := NewClient(pub, Logger(zap.New(core)))

			c.Initialize(context.Background())
			if !assert.Equal(t, Disconnected, c.State()) {
				return
			}
			if !assert.Equal(t, 1, logs.FilterMessage("failed to connect to bus, continuing without it").Len()) {
				return
			}
		})

		t.Run("if the publisher does not connect within the connect timeout", func(t *testing.T) {
			release := make(chan struct{})
			defer close(release)

			pub := &fakePublisher{
				connect: func(ctx context.Context) error {
					<-release
					return nil
				},
			}
			c := NewClient(pub, ConnectTimeout(10*time.Millisecond))

			start := time.Now()
			c.Initialize(context.Background())
			if !assert.Less(t, time.Since(start), time.Second) {
				return
			}
			if !assert.Equal(t, Disconnected, c.State()) {
				return
			}
		})

		t.Run("if no publisher is configured", func(t *testing.T) {
			c := NewClient(nil)

			c.Initialize(context.Background())
			if !assert.Equal(t, Disconnected, c.State()) {
				return
			}
		})
	})

	t.Run("will only connect once", func(t *testing.T) {
		t.Run("if called multiple times", func(t *testing.T) {
			var calls int
			pub := &fakePublisher{
				connect: func(ctx context.Context) error {
					calls++
					return nil
				},
			}
			c := NewClient(pub)

			c.Initialize(context.Background())
			c.Initialize(context.Background())
			if !assert.Equal(t, 1, calls) {
				return
			}
		})
	})
}

func TestClient_Send(t *testing.T) {
	t.Run("will return false", func(t *testing.T) {
		t.Run("if the client was never initialized", func(t *testing.T) {
			pub := &fakePublisher{}
			c := NewClient(pub)

			ok := c.Send(context.Background(), "message-server-events", map[string]any{"eventType": "PDF_RECEIVED"}, "abc-123")
			if !assert.False(t, ok) {
				return
			}
			if !assert.Empty(t, pub.messages) {
				return
			}
		})

		t.Run("if the client is disconnected", func(t *testing.T) {
			pub := &fakePublisher{
				connect: func(ctx context.Context) error {
					return errors.New("connection refused")
				},
			}
			c := NewClient(pub)
			c.Initialize(context.Background())

			ok := c.Send(context.Background(), "message-server-events", map[string]any{}, "abc-123")
			if !assert.False(t, ok) {
				return
			}
		})

		t.Run("if the publisher fails", func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			pub := &fakePublisher{
				publish: func(ctx context.Context, m Message) error {
					return errors.New("broker unavailable")
				},
			}
			c := NewClient(pub, Logger(zap.New(core)))
			c.Initialize(context.Background())

			ok := c.Send(context.Background(), "message-server-events", map[string]any{}, "abc-123")
			if !assert.False(t, ok) {
				return
			}
			entries := logs.All()
			if !assert.Len(t, entries, 1) {
				return
			}
			if !assert.Equal(t, "BusDeliveryError", entries[0].ContextMap()["error_type"]) {
				return
			}
		})

		t.Run("if the record is not a json object", func(t *testing.T) {
			pub := &fakePublisher{}
			c := NewClient(pub)
			c.Initialize(context.Background())

			ok := c.Send(context.Background(), "message-server-events", "not an object", "abc-123")
			if !assert.False(t, ok) {
				return
			}
		})
	})

	t.Run("will publish an enriched envelope", func(t *testing.T) {
		t.Run("if the client is connected", func(t *testing.T) {
			pub := &fakePublisher{}
			var sends []bool
			c := NewClient(
				pub,
				ServiceName("message-server"),
				OnSend(func(topic string, ok bool) {
					sends = append(sends, ok)
				}),
			)
			c.now = func() time.Time {
				return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
			}
			c.Initialize(context.Background())

			ok := c.Send(context.Background(), "message-server-events", map[string]any{"eventType": "PDF_RECEIVED", "fileSize": 1024}, "abc-123")
			if !assert.True(t, ok) {
				return
			}
			if !assert.Equal(t, []bool{true}, sends) {
				return
			}
			if !assert.Len(t, pub.messages, 1) {
				return
			}

			msg := pub.messages[0]
			if !assert.Equal(t, "message-server-events", msg.Topic) {
				return
			}
			if !assert.Equal(t, []byte("abc-123"), msg.Key) {
				return
			}
			if !assert.Equal(t, map[string]string{"correlation-id": "abc-123", "service": "message-server"}, msg.Headers) {
				return
			}

			var value map[string]any
			err := json.Unmarshal(msg.Value, &value)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "PDF_RECEIVED", value["eventType"]) {
				return
			}
			if !assert.Equal(t, float64(1024), value["fileSize"]) {
				return
			}
			if !assert.Equal(t, "abc-123", value["correlationId"]) {
				return
			}
			if !assert.Equal(t, "message-server", value["service"]) {
				return
			}
			if !assert.Equal(t, "2025-01-02T03:04:05Z", value["timestamp"]) {
				return
			}
		})

		t.Run("if the correlation id is empty", func(t *testing.T) {
			pub := &fakePublisher{}
			c := NewClient(pub)
			c.Initialize(context.Background())

			ok := c.Send(context.Background(), "message-server-errors", map[string]any{}, "")
			if !assert.True(t, ok) {
				return
			}

			msg := pub.messages[0]
			if !assert.Nil(t, msg.Key) {
				return
			}

			var value map[string]any
			err := json.Unmarshal(msg.Value, &value)
			if !assert.Nil(t, err) {
				return
			}
			v, exists := value["correlationId"]
			if !assert.True(t, exists) {
				return
			}
			if !assert.Nil(t, v) {
				return
			}
		})
	})
}

func TestClient_Shutdown(t *testing.T) {
	t.Run("will close the publisher", func(t *testing.T) {
		t.Run("if the client is connected", func(t *testing.T) {
			pub := &fakePublisher{}
			c := NewClient(pub)
			c.Initialize(context.Background())

			c.Shutdown(context.Background())
			if !assert.Equal(t, 1, pub.closed) {
				return
			}
			if !assert.Equal(t, Disconnected, c.State()) {
				return
			}

			ok := c.Send(context.Background(), "message-server-events", map[string]any{}, "abc-123")
			if !assert.False(t, ok) {
				return
			}
		})
	})

	t.Run("will not close the publisher", func(t *testing.T) {
		t.Run("if the client never connected", func(t *testing.T) {
			pub := &fakePublisher{}
			c := NewClient(pub)

			c.Shutdown(context.Background())
			if !assert.Equal(t, 0, pub.closed) {
				return
			}
		})
	})

	t.Run("will not return an error", func(t *testing.T) {
		t.Run("if closing the publisher fails", func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			pub := &fakePublisher{closeErr: errors.New("close failed")}
			c := NewClient(pub, Logger(zap.New(core)))
			c.Initialize(context.Background())

			c.Shutdown(context.Background())
			if !assert.Equal(t, 1, logs.FilterMessage("failed to close bus connection").Len()) {
				return
			}
		})
	})
}
