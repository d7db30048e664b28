// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpclient provides a production ready http.Client.
package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type circuitOptions struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	tripCount   uint32
	statusCodes []int
}

func withCircuitOption(f func(*circuitOptions)) Option {
	return func(o *options) {
		if o.co == nil {
			o.co = &circuitOptions{tripCount: 5}
		}
		f(o.co)
	}
}

// HalfOpenRequests is the number of requests let through while the circuit is half open.
func HalfOpenRequests(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.maxRequests = n
	})
}

// OpenStateTimeout is how long the circuit stays open before going half open.
func OpenStateTimeout(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.timeout = d
	})
}

// CountResetInterval is the cyclic period of the closed state after
// which the failure counts are cleared.
func CountResetInterval(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.interval = d
	})
}

// TripAfter opens the circuit after n consecutive failures. Default is 5.
func TripAfter(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.tripCount = n
	})
}

// TripOn counts responses with one of the given status codes as failures.
// Default is any 5xx status code.
func TripOn(codes ...int) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.statusCodes = append(co.statusCodes, codes...)
	})
}

type options struct {
	timeout time.Duration
	rt      http.RoundTripper

	name string
	log  *zap.Logger

	co *circuitOptions
}

// Option configures the http.Client returned by New.
type Option func(*options)

// Name identifies the client in logs and circuit breaker state changes.
func Name(s string) Option {
	return func(o *options) {
		o.name = s
	}
}

// RoundTripper sets the base http.RoundTripper. Default is http.DefaultTransport.
func RoundTripper(rt http.RoundTripper) Option {
	return func(wo *options) {
		wo.rt = rt
	}
}

// Timeout provides a global timeout value for the http.Client.
func Timeout(d time.Duration) Option {
	return func(wo *options) {
		wo.timeout = d
	}
}

// Logger configures the logger used for request and circuit logs.
func Logger(log *zap.Logger) Option {
	return func(wo *options) {
		wo.log = log
	}
}

// New returns an http.Client whose transport is instrumented with
// OpenTelemetry, logs every round trip and, if any circuit option is
// given, is protected by a circuit breaker.
func New(opts ...Option) *http.Client {
	o := &options{
		rt:  http.DefaultTransport,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.log.Named("httpclient")
	if o.name != "" {
		logger = logger.With(zap.String("http_client", o.name))
	}

	var rt http.RoundTripper = &logRoundTripper{
		base: o.rt,
		log:  logger,
	}

	if o.co != nil {
		rt = newCircuitRoundTripper(o.name, o.co, rt, logger)
	}

	return &http.Client{
		Timeout:   o.timeout,
		Transport: otelhttp.NewTransport(rt),
	}
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := rt.log.With(
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
	)
	log.Debug("request sent")

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		log.Warn("request failed", zap.Duration("latency", time.Since(start)), zap.Error(err))
		return nil, err
	}
	log.Debug(
		"response received",
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

type statusCodeError struct {
	code int
}

func (e statusCodeError) Error() string {
	return fmt.Sprintf("received failure status code: %d", e.code)
}

type circuitRoundTripper struct {
	base    http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	failure func(int) bool
}

func newCircuitRoundTripper(name string, co *circuitOptions, base http.RoundTripper, log *zap.Logger) *circuitRoundTripper {
	codes := make(map[int]struct{}, len(co.statusCodes))
	for _, code := range co.statusCodes {
		codes[code] = struct{}{}
	}
	failure := func(code int) bool {
		if len(codes) == 0 {
			return code >= http.StatusInternalServerError
		}
		_, ok := codes[code]
		return ok
	}

	return &circuitRoundTripper{
		base:    base,
		failure: failure,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: co.maxRequests,
			Interval:    co.interval,
			Timeout:     co.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= co.tripCount
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				switch to {
				case gobreaker.StateOpen:
					log.Error("circuit has been opened")
				case gobreaker.StateHalfOpen:
					log.Warn(
						"circuit is now half open and letting some requests through",
						zap.Uint32("max_requests_allowed_through", co.maxRequests),
					)
				case gobreaker.StateClosed:
					log.Info("circuit has been closed")
				}
			},
		}),
	}
}

// RoundTrip implements the http.RoundTripper interface. Failure status
// codes count against the circuit but the response is still returned.
func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	_, err := rt.cb.Execute(func() (interface{}, error) {
		var err error
		resp, err = rt.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if rt.failure(resp.StatusCode) {
			return nil, statusCodeError{code: resp.StatusCode}
		}
		return nil, nil
	})
	if _, ok := err.(statusCodeError); ok {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
