// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelconfig builds OpenTelemetry tracer providers.
package otelconfig

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider is a trace.TracerProvider which must be shut down
// to flush buffered spans.
type TracerProvider interface {
	trace.TracerProvider

	Shutdown(context.Context) error
}

// Initializer creates a TracerProvider.
type Initializer interface {
	Init(context.Context) (TracerProvider, error)
}

// Common holds settings shared by every exporter.
type Common struct {
	ServiceName string `config:"serviceName"`
}

func (c Common) resource(ctx context.Context, opts ...resource.Option) (*resource.Resource, error) {
	opts = append(
		opts,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(c.ServiceName),
		),
	)
	return resource.New(ctx, opts...)
}

// Noop does not export spans.
var Noop = noopConfiger{}

type noopConfiger struct{}

type noopProvider struct {
	noop.TracerProvider
}

func (noopProvider) Shutdown(context.Context) error { return nil }

// Init implements the Initializer interface.
func (noopConfiger) Init(context.Context) (TracerProvider, error) {
	return noopProvider{TracerProvider: noop.NewTracerProvider()}, nil
}

// LocalConfig writes spans as JSON to Out.
type LocalConfig struct {
	Common

	Out io.Writer
}

// Local returns an Initializer which writes spans to stdout.
func Local(serviceName string) LocalConfig {
	return LocalConfig{
		Common: Common{ServiceName: serviceName},
		Out:    os.Stdout,
	}
}

// Init implements the Initializer interface.
func (cfg LocalConfig) Init(ctx context.Context) (TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(cfg.Out),
	)
	if err != nil {
		return nil, err
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// UnknownExporterError is returned for an unsupported exporter name.
type UnknownExporterError struct {
	Exporter string
}

// Error implements the error interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown otel exporter: %s", e.Exporter)
}

// Config selects and configures an exporter.
type Config struct {
	Exporter string `config:"exporter"`

	OTLP struct {
		Target string `config:"target"`
	} `config:"otlp"`

	GCP struct {
		ProjectID string `config:"projectId"`
	} `config:"gcp"`
}

// Initializer returns the Initializer selected by cfg.Exporter.
// An empty exporter or "none" disables tracing.
func (cfg Config) Initializer(serviceName string) (Initializer, error) {
	common := Common{ServiceName: serviceName}
	switch cfg.Exporter {
	case "", "none":
		return Noop, nil
	case "stdout":
		return Local(serviceName), nil
	case "otlp":
		return OTLPConfig{Common: common, Target: cfg.OTLP.Target}, nil
	case "gcp":
		return GoogleCloudConfig{Common: common, ProjectID: cfg.GCP.ProjectID}, nil
	default:
		return nil, UnknownExporterError{Exporter: cfg.Exporter}
	}
}
