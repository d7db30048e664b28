// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package http provides the HTTP server runtime with health endpoints
// and graceful draining.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/z5labs/pdfrelay/http/httphealth"
	"github.com/z5labs/pdfrelay/http/httpvalidate"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runtimeOptions struct {
	port              uint
	mux               *http.ServeMux
	middleware        []func(http.Handler) http.Handler
	log               *zap.Logger
	readiness         *httphealth.Readiness
	liveness          *httphealth.Liveness
	drainTimeout      time.Duration
	readHeaderTimeout time.Duration
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeOptions)

// ListenOnPort will configure the HTTP server to listen on the given port.
//
// Default port is 8080.
func ListenOnPort(port uint) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.port = port
	}
}

// Logger configures the logger used by the runtime.
func Logger(log *zap.Logger) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.log = log
	}
}

// Handle registers a http.Handler for the given path pattern.
func Handle(pattern string, h http.Handler) RuntimeOption {
	return func(ro *runtimeOptions) {
		registerEndpoint(ro.mux, pattern, h)
	}
}

// HandleFunc registers a http.HandlerFunc for the given path pattern.
func HandleFunc(pattern string, f func(http.ResponseWriter, *http.Request)) RuntimeOption {
	return func(ro *runtimeOptions) {
		registerEndpoint(ro.mux, pattern, http.HandlerFunc(f))
	}
}

// Middleware wraps every request served by the runtime, including the
// health endpoints and unmatched paths. The first middleware given is the
// outermost.
func Middleware(mws ...func(http.Handler) http.Handler) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.middleware = append(ro.middleware, mws...)
	}
}

// Readiness shares the readiness metric served at /health/readiness.
func Readiness(r *httphealth.Readiness) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.readiness = r
	}
}

// Liveness shares the liveness metric served at /health/liveness.
func Liveness(l *httphealth.Liveness) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.liveness = l
	}
}

// DrainTimeout bounds how long in-flight requests are given to complete
// once the runtime is asked to stop. Default is 10 seconds.
func DrainTimeout(d time.Duration) RuntimeOption {
	return func(ro *runtimeOptions) {
		if d > 0 {
			ro.drainTimeout = d
		}
	}
}

// ReadHeaderTimeout bounds reading request headers. Default is 10 seconds.
func ReadHeaderTimeout(d time.Duration) RuntimeOption {
	return func(ro *runtimeOptions) {
		if d > 0 {
			ro.readHeaderTimeout = d
		}
	}
}

// DrainError is returned when in-flight requests do not complete
// within the drain timeout.
type DrainError struct {
	Timeout time.Duration
	Cause   error
}

// Error implements the error interface.
func (e DrainError) Error() string {
	return fmt.Sprintf("failed to drain in-flight requests within %s: %s", e.Timeout, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e DrainError) Unwrap() error {
	return e.Cause
}

// Runtime serves HTTP until its context is cancelled.
type Runtime struct {
	port   uint
	listen func(string, string) (net.Listener, error)

	log *zap.Logger

	h                 http.Handler
	drainTimeout      time.Duration
	readHeaderTimeout time.Duration

	started   *httphealth.Started
	liveness  *httphealth.Liveness
	readiness *httphealth.Readiness
}

// NewRuntime returns a Runtime with the health endpoints registered.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	ros := &runtimeOptions{
		port:              8080,
		mux:               http.NewServeMux(),
		log:               zap.NewNop(),
		readiness:         &httphealth.Readiness{},
		liveness:          &httphealth.Liveness{},
		drainTimeout:      10 * time.Second,
		readHeaderTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(ros)
	}

	var h http.Handler = ros.mux
	for i := len(ros.middleware) - 1; i >= 0; i-- {
		h = ros.middleware[i](h)
	}

	rt := &Runtime{
		port:              ros.port,
		listen:            net.Listen,
		log:               ros.log.Named("http"),
		h:                 h,
		drainTimeout:      ros.drainTimeout,
		readHeaderTimeout: ros.readHeaderTimeout,
		started:           &httphealth.Started{},
		liveness:          ros.liveness,
		readiness:         ros.readiness,
	}

	health := map[string]httphealth.Metric{
		"/health/startup":   rt.started,
		"/health/liveness":  rt.liveness,
		"/health/readiness": rt.readiness,
	}
	for path, m := range health {
		registerEndpoint(
			ros.mux,
			path,
			httpvalidate.Request(
				httphealth.NewHandler(m),
				httpvalidate.ForMethods(http.MethodGet),
			),
		)
	}

	return rt
}

// Handler returns the handler served by the runtime, before tracing is applied.
func (rt *Runtime) Handler() http.Handler {
	return rt.h
}

// Run serves until ctx is cancelled and then drains in-flight requests.
func (rt *Runtime) Run(ctx context.Context) error {
	ls, err := rt.listen("tcp", fmt.Sprintf(":%d", rt.port))
	if err != nil {
		rt.log.Error("failed to listen for connections", zap.Error(err))
		return err
	}

	s := &http.Server{
		Handler: otelhttp.NewHandler(
			rt.h,
			"server",
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		),
		ReadHeaderTimeout: rt.readHeaderTimeout,
		ErrorLog:          zap.NewStdLog(rt.log),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		rt.readiness.NotReady()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), rt.drainTimeout)
		defer cancel()

		rt.log.Info("draining in-flight requests", zap.Duration("timeout", rt.drainTimeout))
		err := s.Shutdown(ctx)
		if err != nil {
			rt.log.Error("failed to drain in-flight requests", zap.Error(err))
			return DrainError{Timeout: rt.drainTimeout, Cause: err}
		}
		rt.log.Info("shut down http server")
		return nil
	})
	g.Go(func() error {
		rt.started.Started()
		rt.liveness.Alive()
		rt.readiness.Ready()
		rt.log.Info("started http server", zap.Uint("port", rt.port))
		err := s.Serve(ls)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	err = g.Wait()
	if err == nil {
		return nil
	}
	rt.log.Error("http server encountered unexpected error", zap.Error(err))
	return err
}

func registerEndpoint(mux *http.ServeMux, path string, h http.Handler) {
	mux.Handle(
		path,
		otelhttp.WithRouteTag(path, h),
	)
}
