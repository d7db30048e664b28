// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package notify relays artifacts to an outbound notification webhook
// as multipart/form-data with a file part and a payload_json part.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"

	"github.com/z5labs/pdfrelay/internal/try"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultUsername is shown as the author of every notification.
const DefaultUsername = "PDF Notifier (Microservice)"

// ErrNotConfigured is returned by Send when no webhook URL is configured.
var ErrNotConfigured = errors.New("notify: webhook url is not configured")

type options struct {
	log        *zap.Logger
	webhookURL string
	client     *http.Client
}

// Option configures a Client.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WebhookURL configures the webhook every notification is posted to.
func WebhookURL(u string) Option {
	return func(o *options) {
		o.webhookURL = u
	}
}

// HTTPClient used to reach the webhook. Its timeout bounds Send.
func HTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// Notification is a single webhook message with one attached file.
type Notification struct {
	FileName    string
	ContentType string
	Data        []byte
	Content     string
	Username    string
}

// Client of the notification webhook.
type Client struct {
	log        *zap.Logger
	tracer     trace.Tracer
	webhookURL string
	http       *http.Client
}

// NewClient returns a Client.
func NewClient(opts ...Option) *Client {
	o := &options{
		log:    zap.NewNop(),
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		log:        o.log.Named("notify"),
		tracer:     otel.Tracer("notify"),
		webhookURL: o.webhookURL,
		http:       o.client,
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c.webhookURL != ""
}

// StatusError is returned when the webhook responds with a non-2xx status.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e StatusError) Error() string {
	return fmt.Sprintf("webhook responded with status code %d", e.StatusCode)
}

type payload struct {
	Content  string `json:"content"`
	Username string `json:"username"`
}

// Send posts n to the webhook and returns the response status code.
func (c *Client) Send(ctx context.Context, n Notification) (status int, err error) {
	if !c.Configured() {
		return 0, ErrNotConfigured
	}

	spanCtx, span := c.tracer.Start(ctx, "Client.Send", trace.WithAttributes(
		attribute.String("notify.file_name", n.FileName),
		attribute.Int("notify.file_size", len(n.Data)),
	))
	defer span.End()
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send notification")
	}()

	body, contentType, err := encode(n)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(spanCtx, http.MethodPost, c.webhookURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer try.Close(&err, resp.Body)
	io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, StatusError{StatusCode: resp.StatusCode}
	}
	c.log.Debug("sent notification", zap.String("file_name", n.FileName), zap.Int("status_code", resp.StatusCode))
	return resp.StatusCode, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encode(n Notification) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := n.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(n.FileName)))
	h.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	_, err = fw.Write(n.Data)
	if err != nil {
		return nil, "", err
	}

	username := n.Username
	if username == "" {
		username = DefaultUsername
	}
	b, err := json.Marshal(payload{Content: n.Content, Username: username})
	if err != nil {
		return nil, "", err
	}
	err = mw.WriteField("payload_json", string(b))
	if err != nil {
		return nil, "", err
	}

	err = mw.Close()
	if err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// FileName derives the relayed file name from the requested one: the
// part before the first dot, the correlation id and the last extension,
// which defaults to pdf. For example, report.v2.pdf with id abc becomes
// report-abc.pdf.
func FileName(original, correlationID string) string {
	base, _, _ := strings.Cut(original, ".")
	ext := strings.TrimPrefix(path.Ext(original), ".")
	if ext == "" {
		ext = "pdf"
	}
	return fmt.Sprintf("%s-%s.%s", base, correlationID, ext)
}
