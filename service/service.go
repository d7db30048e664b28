// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package service assembles the relay service from its Config.
package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/z5labs/pdfrelay/app"
	"github.com/z5labs/pdfrelay/bus"
	"github.com/z5labs/pdfrelay/bus/kafka"
	"github.com/z5labs/pdfrelay/bus/pubsub"
	"github.com/z5labs/pdfrelay/bus/sqs"
	httprt "github.com/z5labs/pdfrelay/http"
	"github.com/z5labs/pdfrelay/http/httpclient"
	"github.com/z5labs/pdfrelay/http/httpcorrelation"
	"github.com/z5labs/pdfrelay/http/httphealth"
	"github.com/z5labs/pdfrelay/http/httpvalidate"
	"github.com/z5labs/pdfrelay/internal/logging"
	"github.com/z5labs/pdfrelay/internal/metrics"
	"github.com/z5labs/pdfrelay/internal/otelconfig"
	"github.com/z5labs/pdfrelay/notify"
	"github.com/z5labs/pdfrelay/relay"
	"github.com/z5labs/pdfrelay/storage"
	"github.com/z5labs/pdfrelay/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// UnknownBusDriverError is returned for an unsupported bus driver.
type UnknownBusDriverError struct {
	Driver string
}

// Error implements the error interface.
func (e UnknownBusDriverError) Error() string {
	return fmt.Sprintf("unknown bus driver: %s", e.Driver)
}

// service holds the assembled components.
type service struct {
	log       *zap.Logger
	tp        otelconfig.TracerProvider
	metrics   *metrics.Collector
	bus       *bus.Client
	emitter   *telemetry.Emitter
	endpoint  http.Handler
	readiness *httphealth.Readiness
	runtime   *httprt.Runtime
}

// Init builds the relay service described by cfg. It is an app.BuilderFunc.
func Init(ctx context.Context, cfg Config) (app.App, error) {
	cfg = cfg.withDefaults()

	s, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := app.WithLifecycleHooks(s.runtime, app.Lifecycle{
		PreRun: app.HookFunc(func(ctx context.Context) error {
			s.bus.Initialize(ctx)
			return nil
		}),
		PostRun: app.MultiHook(
			app.HookFunc(s.emitter.Flush),
			app.HookFunc(func(ctx context.Context) error {
				s.bus.Shutdown(ctx)
				return nil
			}),
			app.HookFunc(s.tp.Shutdown),
			app.HookFunc(func(context.Context) error {
				s.log.Info("shut down service")
				s.log.Sync()
				return nil
			}),
		),
	})
	a = app.WithShutdownDeadline(a, cfg.Shutdown.Timeout, s.log)
	a = app.WithSignalNotifications(a, os.Interrupt, syscall.SIGTERM)
	return app.Recover(a), nil
}

func build(ctx context.Context, cfg Config) (*service, error) {
	return buildWith(ctx, cfg, newPublisher)
}

func buildWith(ctx context.Context, cfg Config, publisher func(Config, *zap.Logger) (bus.Publisher, error)) (*service, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("service", cfg.Service.Name))

	initializer, err := cfg.OTel.Initializer(cfg.Service.Name)
	if err != nil {
		return nil, err
	}
	tp, err := initializer.Init(ctx)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	collector := metrics.New()

	pub, err := publisher(cfg, log)
	if err != nil {
		return nil, err
	}
	busClient := bus.NewClient(
		pub,
		bus.Logger(log),
		bus.ServiceName(cfg.Service.Name),
		bus.ConnectTimeout(cfg.Bus.ConnectTimeout),
		bus.OnSend(collector.RecordBusSend),
	)
	emitter := telemetry.NewEmitter(
		busClient,
		telemetry.EmitterLogger(log),
		telemetry.MaxInFlight(cfg.Bus.MaxInFlight),
		telemetry.SendTimeout(cfg.Bus.SendTimeout),
	)
	loggerOpts := func(topic string) []telemetry.LoggerOption {
		return []telemetry.LoggerOption{
			telemetry.Logger(log),
			telemetry.Topic(topic),
			telemetry.ServiceName(cfg.Service.Name),
		}
	}
	errorLogger := telemetry.NewErrorLogger(emitter, loggerOpts(cfg.Bus.Topics.Errors)...)
	eventLogger := telemetry.NewEventLogger(emitter, loggerOpts(cfg.Bus.Topics.Events)...)
	requestLogger := telemetry.NewRequestLogger(emitter, loggerOpts(cfg.Bus.Topics.Requests)...)

	storageClient := storage.NewClient(
		storage.Logger(log),
		storage.BaseURL(cfg.Storage.BaseURL),
		storage.HTTPClient(newHTTPClient("storage", cfg.Storage.Timeout, cfg.Storage.Circuit, log)),
	)
	notifyClient := notify.NewClient(
		notify.Logger(log),
		notify.WebhookURL(cfg.Notify.WebhookURL),
		notify.HTTPClient(newHTTPClient("notify", cfg.Notify.Timeout, cfg.Notify.Circuit, log)),
	)
	if !notifyClient.Configured() {
		log.Warn("no webhook url configured, every job will fail to relay")
	}

	handler := relay.NewHandler(
		storageClient,
		notifyClient,
		errorLogger,
		eventLogger,
		relay.Logger(log),
		relay.ServiceName(cfg.Service.Name),
		relay.WithObserver(collector),
	)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	correlate := httpcorrelation.Middleware(
		requestLogger,
		httpcorrelation.Logger(log),
		httpcorrelation.Hostname(hostname),
		httpcorrelation.OnComplete(func(c httpcorrelation.Completion) {
			collector.RecordRequest(c.Method, routeLabel(c.Path), c.StatusCode, c.Duration)
		}),
	)

	readiness := &httphealth.Readiness{}
	rt := httprt.NewRuntime(
		httprt.ListenOnPort(cfg.HTTP.Port),
		httprt.Logger(log),
		httprt.Readiness(readiness),
		httprt.DrainTimeout(cfg.HTTP.DrainTimeout),
		httprt.ReadHeaderTimeout(cfg.HTTP.ReadHeaderTimeout),
		httprt.Middleware(correlate),
		httprt.Handle(relay.Path, httpvalidate.Request(
			handler,
			httpvalidate.ForMethods(http.MethodPost),
			httpvalidate.MaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		)),
		httprt.Handle(metricsPath, collector.Handler()),
	)

	return &service{
		log:       log,
		tp:        tp,
		metrics:   collector,
		bus:       busClient,
		emitter:   emitter,
		endpoint:  rt.Handler(),
		readiness: readiness,
		runtime:   rt,
	}, nil
}

const metricsPath = "/metrics"

// routeLabel keeps the request metric labels bounded to the served routes.
func routeLabel(path string) string {
	switch path {
	case relay.Path, metricsPath, "/health/startup", "/health/liveness", "/health/readiness":
		return path
	default:
		return "unmatched"
	}
}

func newHTTPClient(name string, timeout time.Duration, circuit CircuitConfig, log *zap.Logger) *http.Client {
	opts := []httpclient.Option{
		httpclient.Name(name),
		httpclient.Timeout(timeout),
		httpclient.Logger(log),
	}
	if circuit.TripAfter > 0 {
		opts = append(opts, httpclient.TripAfter(circuit.TripAfter))
	}
	if circuit.OpenTimeout > 0 {
		opts = append(opts, httpclient.OpenStateTimeout(circuit.OpenTimeout))
	}
	if circuit.ResetInterval > 0 {
		opts = append(opts, httpclient.CountResetInterval(circuit.ResetInterval))
	}
	if circuit.HalfOpenRequests > 0 {
		opts = append(opts, httpclient.HalfOpenRequests(circuit.HalfOpenRequests))
	}
	return httpclient.New(opts...)
}

func newPublisher(cfg Config, log *zap.Logger) (bus.Publisher, error) {
	switch cfg.Bus.Driver {
	case "none":
		return nil, nil
	case "kafka":
		return kafka.NewPublisher(
			kafka.Logger(log),
			kafka.Brokers(cfg.Bus.Kafka.Brokers...),
			kafka.ClientID(cfg.Bus.Kafka.ClientID),
			kafka.WriteTimeout(cfg.Bus.Kafka.WriteTimeout),
		), nil
	case "pubsub":
		return pubsub.NewPublisher(
			pubsub.Logger(log),
			pubsub.ProjectID(cfg.Bus.PubSub.ProjectID),
			pubsub.Topics(cfg.Bus.Topics.Errors, cfg.Bus.Topics.Events, cfg.Bus.Topics.Requests),
		), nil
	case "sqs":
		opts := []sqs.Option{
			sqs.Logger(log),
			sqs.Region(cfg.Bus.SQS.Region),
			sqs.Endpoint(cfg.Bus.SQS.Endpoint),
			sqs.QueueURLPrefix(cfg.Bus.SQS.QueueURLPrefix),
		}
		if cfg.Bus.SQS.AccessKeyID != "" {
			opts = append(opts, sqs.StaticCredentials(cfg.Bus.SQS.AccessKeyID, cfg.Bus.SQS.SecretAccessKey))
		}
		return sqs.NewPublisher(opts...), nil
	default:
		return nil, UnknownBusDriverError{Driver: cfg.Bus.Driver}
	}
}
