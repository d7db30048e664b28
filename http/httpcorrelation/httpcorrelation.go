// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpcorrelation provides the middleware which assigns every
// inbound request a correlation id, echoes it in the X-Correlation-ID
// response header and records the request once the response is committed.
package httpcorrelation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/z5labs/pdfrelay/correlation"
	"github.com/z5labs/pdfrelay/internal/logging"
	"github.com/z5labs/pdfrelay/telemetry"

	"go.uber.org/zap"
)

// RequestRecorder records completed requests.
type RequestRecorder interface {
	LogRequest(context.Context, telemetry.RequestInput)
}

// Completion describes a committed response.
type Completion struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
}

type options struct {
	log             *zap.Logger
	hostname        string
	maxBodySnapshot int64
	onComplete      []func(Completion)
	now             func() time.Time
}

// Option configures the middleware.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Hostname is included in the start and completion log lines.
// Default is the Host of each request.
func Hostname(name string) Option {
	return func(o *options) {
		o.hostname = name
	}
}

// MaxBodySnapshot bounds how much of the request body is recorded.
// Default is 64 KiB.
func MaxBodySnapshot(n int64) Option {
	return func(o *options) {
		o.maxBodySnapshot = n
	}
}

// OnComplete registers a func called once per request at commit time, e.g. for metrics.
func OnComplete(f func(Completion)) Option {
	return func(o *options) {
		o.onComplete = append(o.onComplete, f)
	}
}

// Handler is the correlation middleware.
type Handler struct {
	log             *zap.Logger
	next            http.Handler
	rec             RequestRecorder
	hostname        string
	maxBodySnapshot int64
	onComplete      []func(Completion)
	now             func() time.Time
}

// Middleware returns a func which wraps an http.Handler with a Handler.
func Middleware(rec RequestRecorder, opts ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHandler(next, rec, opts...)
	}
}

// NewHandler wraps next.
func NewHandler(next http.Handler, rec RequestRecorder, opts ...Option) *Handler {
	o := &options{
		log:             zap.NewNop(),
		maxBodySnapshot: 64 << 10,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Handler{
		log:             o.log.Named("httpcorrelation"),
		next:            next,
		rec:             rec,
		hostname:        o.hostname,
		maxBodySnapshot: o.maxBodySnapshot,
		onComplete:      o.onComplete,
		now:             o.now,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	id, origin := correlation.Resolve(r.Header)
	ctx := correlation.NewContext(r.Context(), id)
	r = r.WithContext(ctx)

	hostname := h.hostname
	if hostname == "" {
		hostname = r.Host
	}
	log := logging.FromContext(ctx, h.log)
	log.Info(
		"request started",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Stringer("correlation_id_origin", origin),
		zap.Time("started_at", start.UTC()),
		zap.String("hostname", hostname),
	)

	body := h.snapshot(r)

	w.Header().Set(correlation.Header, id.String())

	cw := &commitWriter{
		ResponseWriter: w,
		onCommit: func(status int) {
			h.complete(ctx, log, r, hostname, body, status, h.now().Sub(start))
		},
	}
	defer func() {
		v := recover()
		if v == nil {
			cw.commit(http.StatusOK)
			return
		}
		cw.commit(http.StatusInternalServerError)
		panic(v)
	}()

	h.next.ServeHTTP(cw, r)
}

func (h *Handler) complete(ctx context.Context, log *zap.Logger, r *http.Request, hostname string, body any, status int, d time.Duration) {
	success := status >= 200 && status < 400
	log.Info(
		"request completed",
		zap.Int("status_code", status),
		zap.Duration("duration", d),
		zap.String("hostname", hostname),
		zap.Bool("success", success),
	)

	for _, f := range h.onComplete {
		f(Completion{
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: status,
			Duration:   d,
		})
	}

	h.rec.LogRequest(ctx, telemetry.RequestInput{
		Method:      r.Method,
		Endpoint:    r.URL.Path,
		StatusCode:  status,
		Duration:    d,
		RequestBody: body,
		ClientIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
	})
}

// snapshot reads up to maxBodySnapshot bytes of the request body and
// puts them back in front of the unread remainder.
func (h *Handler) snapshot(r *http.Request) any {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	b, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySnapshot))
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(b), r.Body),
		Closer: r.Body,
	}
	if err != nil || len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

type readCloser struct {
	io.Reader
	io.Closer
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// commitWriter calls onCommit exactly once, right before the
// status line is written or when the handler returns without writing.
type commitWriter struct {
	http.ResponseWriter

	once     sync.Once
	onCommit func(status int)
}

func (w *commitWriter) commit(status int) {
	w.once.Do(func() {
		w.onCommit(status)
	})
}

// WriteHeader implements the http.ResponseWriter interface.
func (w *commitWriter) WriteHeader(status int) {
	if status < http.StatusOK && status != http.StatusSwitchingProtocols {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	w.commit(status)
	w.ResponseWriter.WriteHeader(status)
}

// Write implements the http.ResponseWriter interface.
func (w *commitWriter) Write(b []byte) (int, error) {
	w.commit(http.StatusOK)
	return w.ResponseWriter.Write(b)
}

// Flush implements the http.Flusher interface.
func (w *commitWriter) Flush() {
	w.commit(http.StatusOK)
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap allows http.ResponseController to reach the underlying writer.
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
