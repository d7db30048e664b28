// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package logging

import (
	"context"

	"github.com/z5labs/pdfrelay/correlation"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// FromContext returns log annotated with the correlation id and,
// if a span is recording in ctx, its trace and span ids.
func FromContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if id, ok := correlation.FromContext(ctx); ok {
		fields = append(fields, zap.String("correlation_id", id.String()))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(
			fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}
