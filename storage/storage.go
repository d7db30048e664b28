// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package storage fetches PDF artifacts from the upstream storage service.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/z5labs/pdfrelay/internal/try"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultBaseURL of the storage service.
const DefaultBaseURL = "http://localhost:5000"

type options struct {
	log     *zap.Logger
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// BaseURL of the storage service. Default is [DefaultBaseURL].
func BaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// HTTPClient used to reach the storage service. Its timeout bounds Fetch.
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// Artifact is a fetched PDF.
type Artifact struct {
	Data      []byte
	SourceURL string
}

// Size in bytes.
func (a *Artifact) Size() int {
	return len(a.Data)
}

// Client of the storage service.
type Client struct {
	log     *zap.Logger
	tracer  trace.Tracer
	baseURL string
	http    *http.Client
}

// NewClient returns a Client.
func NewClient(opts ...Option) *Client {
	o := &options{
		log:     zap.NewNop(),
		baseURL: DefaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		log:     o.log.Named("storage"),
		tracer:  otel.Tracer("storage"),
		baseURL: o.baseURL,
		http:    o.client,
	}
}

// URL returns the location of the artifact stored under correlationID.
func (c *Client) URL(correlationID string) string {
	u, err := url.JoinPath(c.baseURL, "pdf-storage", correlationID)
	if err != nil {
		return c.baseURL + "/pdf-storage/" + url.PathEscape(correlationID)
	}
	return u
}

// StatusError is returned when the storage service responds with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e StatusError) Error() string {
	return fmt.Sprintf("storage responded to %s with status code %d", e.URL, e.StatusCode)
}

// Fetch retrieves the artifact stored under correlationID.
func (c *Client) Fetch(ctx context.Context, correlationID string) (_ *Artifact, err error) {
	u := c.URL(correlationID)
	spanCtx, span := c.tracer.Start(ctx, "Client.Fetch", trace.WithAttributes(
		attribute.String("storage.url", u),
	))
	defer span.End()
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch artifact")
	}()

	req, err := http.NewRequestWithContext(spanCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer try.Close(&err, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("storage.artifact_size", len(b)))
	c.log.Debug("fetched artifact", zap.String("url", u), zap.Int("size", len(b)))
	return &Artifact{Data: b, SourceURL: u}, nil
}
