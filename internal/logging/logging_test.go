// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/z5labs/pdfrelay/correlation"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Run("will return an UnknownFormatError", func(t *testing.T) {
		t.Run("if the format is not supported", func(t *testing.T) {
			_, err := New(Config{Format: "xml"})

			var ferr UnknownFormatError
			if !assert.ErrorAs(t, err, &ferr) {
				return
			}
			if !assert.Equal(t, "xml", ferr.Format) {
				return
			}
		})
	})

	t.Run("will only write error entries to the error file", func(t *testing.T) {
		t.Run("if both log files are configured", func(t *testing.T) {
			dir := t.TempDir()
			cfg := Config{
				Level:     zapcore.InfoLevel,
				File:      filepath.Join(dir, "combined.log"),
				ErrorFile: filepath.Join(dir, "error.log"),
			}

			log, err := New(cfg)
			if !assert.Nil(t, err) {
				return
			}
			log.Info("server listening")
			log.Error("failed to fetch pdf")
			log.Sync()

			combined, err := os.ReadFile(cfg.File)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, 2, strings.Count(string(combined), "\n")) {
				return
			}

			errs, err := os.ReadFile(cfg.ErrorFile)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, 1, strings.Count(string(errs), "\n")) {
				return
			}
			if !assert.Contains(t, string(errs), "failed to fetch pdf") {
				return
			}
		})
	})
}

func TestMaskFields(t *testing.T) {
	t.Run("will mask the field", func(t *testing.T) {
		t.Run("if it is passed at the call site", func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			log := zap.New(MaskFields(core, "email_address"))

			log.Info("job received", zap.String("email_address", "user@example.com"), zap.String("platform", "discord"))

			entries := logs.All()
			if !assert.Len(t, entries, 1) {
				return
			}
			fields := entries[0].ContextMap()
			if !assert.Equal(t, Masked, fields["email_address"]) {
				return
			}
			if !assert.Equal(t, "discord", fields["platform"]) {
				return
			}
		})

		t.Run("if it is attached with With", func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			log := zap.New(MaskFields(core, "email_address")).With(zap.String("email_address", "user@example.com"))

			log.Info("job received")

			entries := logs.All()
			if !assert.Len(t, entries, 1) {
				return
			}
			if !assert.Equal(t, Masked, entries[0].ContextMap()["email_address"]) {
				return
			}
		})
	})
}

func TestFromContext(t *testing.T) {
	t.Run("will add the correlation id", func(t *testing.T) {
		t.Run("if the context carries one", func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			ctx := correlation.NewContext(context.Background(), "abc-123")

			FromContext(ctx, zap.New(core)).Info("hello")

			entries := logs.All()
			if !assert.Len(t, entries, 1) {
				return
			}
			if !assert.Equal(t, "abc-123", entries[0].ContextMap()["correlation_id"]) {
				return
			}
		})
	})

	t.Run("will add the trace and span ids", func(t *testing.T) {
		t.Run("if the context carries a valid span context", func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: trace.TraceID{1},
				SpanID:  trace.SpanID{1},
			})
			ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

			FromContext(ctx, zap.New(core)).Info("hello")

			fields := logs.All()[0].ContextMap()
			if !assert.Equal(t, spanCtx.TraceID().String(), fields["trace_id"]) {
				return
			}
			if !assert.Equal(t, spanCtx.SpanID().String(), fields["span_id"]) {
				return
			}
		})
	})
}
