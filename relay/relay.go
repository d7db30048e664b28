// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package relay implements the job endpoint: fetch the PDF named by the
// job from storage, relay it to the notification webhook and record the
// outcome. The first failing step ends the job.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/z5labs/pdfrelay/internal/logging"
	"github.com/z5labs/pdfrelay/notify"
	"github.com/z5labs/pdfrelay/storage"
	"github.com/z5labs/pdfrelay/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Path of the job endpoint.
const Path = "/api/pdf/process-message"

// Event types.
const (
	PDFFetchedFromStorage   = "PDF_FETCHED_FROM_STORAGE"
	PDFReceived             = "PDF_RECEIVED"
	PDFSentToDiscord        = "PDF_SENT_TO_DISCORD"
	MessageProcessedSuccess = "MESSAGE_PROCESSED_SUCCESS"
)

// Fetcher retrieves the artifact of a job.
type Fetcher interface {
	URL(correlationID string) string
	Fetch(ctx context.Context, correlationID string) (*storage.Artifact, error)
}

// Relayer forwards an artifact to the notification webhook.
type Relayer interface {
	Configured() bool
	Send(context.Context, notify.Notification) (int, error)
}

// ErrorRecorder records failures.
type ErrorRecorder interface {
	LogError(context.Context, telemetry.ErrorInput)
}

// EventRecorder records business events.
type EventRecorder interface {
	LogEvent(context.Context, telemetry.EventInput)
}

// Observer receives job metrics.
type Observer interface {
	RecordJob(outcome string)
	ObserveStep(step string, d time.Duration, ok bool)
}

type noopObserver struct{}

func (noopObserver) RecordJob(string) {}
func (noopObserver) ObserveStep(string, time.Duration, bool) {}

// State of a job as it moves through the handler.
type State int

const (
	Received State = iota
	Validated
	ArtifactFetched
	Relayed
	Completed
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Validated:
		return "validated"
	case ArtifactFetched:
		return "artifact_fetched"
	case Relayed:
		return "relayed"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// ConfigurationError is reported when no webhook is configured.
type ConfigurationError struct {
	Setting string
}

// Error implements the error interface.
func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured, unable to relay the pdf", e.Setting)
}

type options struct {
	log      *zap.Logger
	service  string
	observer Observer
}

// Option configures a Handler.
type Option func(*options)

// Logger configures the local logger.
func Logger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// ServiceName is recorded on every job.
func ServiceName(name string) Option {
	return func(o *options) {
		o.service = name
	}
}

// WithObserver registers an Observer for job metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// Handler serves the job endpoint.
type Handler struct {
	log      *zap.Logger
	tracer   trace.Tracer
	service  string
	fetcher  Fetcher
	relayer  Relayer
	errors   ErrorRecorder
	events   EventRecorder
	observer Observer
	now      func() time.Time
}

// NewHandler returns a Handler.
func NewHandler(fetcher Fetcher, relayer Relayer, errs ErrorRecorder, events EventRecorder, opts ...Option) *Handler {
	o := &options{
		log:      zap.NewNop(),
		service:  "message-server",
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Handler{
		log:      o.log.Named("relay"),
		tracer:   otel.Tracer("relay"),
		service:  o.service,
		fetcher:  fetcher,
		relayer:  relayer,
		errors:   errs,
		events:   events,
		observer: o.observer,
		now:      time.Now,
	}
}

// job carries the per request state through the steps.
type job struct {
	JobRequest

	method string
	state  State
	start  time.Time
	log    *zap.Logger
}

func (j *job) transition(to State) {
	j.log.Debug("job state changed", zap.Stringer("from", j.state), zap.Stringer("to", to))
	j.state = to
}

// failure is the single error produced by a failed step.
type failure struct {
	errorType string
	message   string
	cause     error
	context   map[string]any
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	spanCtx, span := h.tracer.Start(r.Context(), "Handler.ServeHTTP")
	defer span.End()

	log := logging.FromContext(spanCtx, h.log)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("failed to read request body", zap.Error(err))
		body = nil
	}

	j := &job{
		JobRequest: DecodeJobRequest(body),
		method:     r.Method,
		state:      Received,
		log:        log,
	}
	j.CreatedAt = h.now()
	j.Service = h.service
	j.Endpoint = r.URL.Path
	j.log.Info(
		"processing job",
		zap.String("job_correlation_id", j.CorrelationID),
		zap.String("email_address", deref(j.EmailAddress)),
	)

	err = j.Validate()
	if err != nil {
		h.rejectInvalid(spanCtx, w, j, body)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.String("relay.job_correlation_id", j.CorrelationID))
	j.transition(Validated)
	j.start = h.now()

	artifact, f := h.fetch(spanCtx, j)
	if f != nil {
		h.fail(spanCtx, w, span, j, f)
		return
	}
	j.transition(ArtifactFetched)

	status, f := h.relay(spanCtx, j, artifact)
	if f != nil {
		h.fail(spanCtx, w, span, j, f)
		return
	}
	j.transition(Relayed)

	h.succeed(spanCtx, w, j, artifact, status)
}

func (h *Handler) rejectInvalid(ctx context.Context, w http.ResponseWriter, j *job, body []byte) {
	j.Success = Failed
	j.transition(Completed)

	var recorded any = string(body)
	if json.Valid(body) {
		recorded = json.RawMessage(body)
	}
	h.errors.LogError(ctx, telemetry.ErrorInput{
		ErrorType: telemetry.ValidationError,
		Message:   "Missing CorrelationId or PdfFileName",
		Endpoint:  j.Endpoint,
		Method:    j.method,
		Context: map[string]any{
			"body": recorded,
		},
	})
	h.observer.RecordJob(telemetry.ValidationError)

	writeJSON(w, j.log, http.StatusBadRequest, map[string]any{
		"message": "Missing CorrelationId or PdfFileName.",
	})
}

func (h *Handler) fetch(ctx context.Context, j *job) (*storage.Artifact, *failure) {
	j.log.Info("fetching pdf from storage", zap.String("job_correlation_id", j.CorrelationID))

	start := h.now()
	artifact, err := h.fetcher.Fetch(ctx, j.CorrelationID)
	h.observer.ObserveStep("fetch", h.now().Sub(start), err == nil)
	if err != nil {
		f := &failure{
			errorType: telemetry.PDFRetrievalError,
			message:   fmt.Sprintf("failed to fetch pdf from storage: %s", err),
			cause:     err,
			context: map[string]any{
				"correlationId": j.CorrelationID,
				"storageUrl":    h.fetcher.URL(j.CorrelationID),
			},
		}
		var serr storage.StatusError
		if errors.As(err, &serr) {
			f.context["statusCode"] = serr.StatusCode
		}
		return nil, f
	}

	h.events.LogEvent(ctx, telemetry.EventInput{
		EventType:   PDFFetchedFromStorage,
		Description: fmt.Sprintf("pdf fetched from storage - size: %d bytes", artifact.Size()),
		Endpoint:    j.Endpoint,
		Method:      j.method,
		Metadata: map[string]any{
			"correlationId": j.CorrelationID,
			"fileSize":      artifact.Size(),
			"storageUrl":    artifact.SourceURL,
		},
	})
	h.events.LogEvent(ctx, telemetry.EventInput{
		EventType:   PDFReceived,
		Description: fmt.Sprintf("pdf received - name: %s, size: %d bytes", deref(j.PdfFileName), artifact.Size()),
		Endpoint:    j.Endpoint,
		Method:      j.method,
		Metadata: map[string]any{
			"correlationId": j.CorrelationID,
			"fileName":      deref(j.PdfFileName),
			"fileSize":      artifact.Size(),
		},
	})
	return artifact, nil
}

// Content of the notification posted for j.
func Content(correlationID, platformType, body string) string {
	return fmt.Sprintf("**DELIVERY NOTICE:** ID %s | Platform %s\n\n%s", correlationID, platformType, body)
}

func (h *Handler) relay(ctx context.Context, j *job, artifact *storage.Artifact) (int, *failure) {
	if !h.relayer.Configured() {
		err := ConfigurationError{Setting: "DISCORD_WEBHOOK_URL"}
		return 0, &failure{
			errorType: telemetry.ConfigurationError,
			message:   err.Error(),
			cause:     err,
			context: map[string]any{
				"correlationId": j.CorrelationID,
			},
		}
	}

	fileName := notify.FileName(deref(j.PdfFileName), j.CorrelationID)
	j.log.Info("relaying pdf to webhook", zap.String("file_name", fileName))

	start := h.now()
	status, err := h.relayer.Send(ctx, notify.Notification{
		FileName: fileName,
		Data:     artifact.Data,
		Content:  Content(j.CorrelationID, deref(j.PlatformType), deref(j.MessageBody)),
		Username: notify.DefaultUsername,
	})
	h.observer.ObserveStep("relay", h.now().Sub(start), err == nil)
	if err != nil {
		f := &failure{
			errorType: telemetry.DiscordSendError,
			message:   fmt.Sprintf("failed to send pdf to discord: %s", err),
			cause:     err,
			context: map[string]any{
				"correlationId": j.CorrelationID,
				"fileName":      deref(j.PdfFileName),
				"platformType":  j.PlatformType,
			},
		}
		if status != 0 {
			f.context["statusCode"] = status
		}
		return 0, f
	}

	h.events.LogEvent(ctx, telemetry.EventInput{
		EventType:   PDFSentToDiscord,
		Description: fmt.Sprintf("pdf sent to discord - file: %s", fileName),
		Endpoint:    j.Endpoint,
		Method:      j.method,
		Metadata: map[string]any{
			"correlationId": j.CorrelationID,
			"fileName":      fileName,
			"platformType":  j.PlatformType,
			"discordStatus": status,
			"fileSize":      artifact.Size(),
		},
	})
	return status, nil
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, span trace.Span, j *job, f *failure) {
	j.ExecutionTimeMs = milliseconds(h.now().Sub(j.start))
	j.Success = Failed
	j.transition(Completed)

	span.RecordError(f.cause)
	span.SetStatus(codes.Error, f.message)

	f.context["executionTimeMs"] = j.ExecutionTimeMs
	f.context["requestData"] = j.LogObject()
	h.errors.LogError(ctx, telemetry.ErrorInput{
		ErrorType: f.errorType,
		Message:   f.message,
		Endpoint:  j.Endpoint,
		Method:    j.method,
		Context:   f.context,
	})
	h.observer.RecordJob(f.errorType)

	writeJSON(w, j.log, http.StatusInternalServerError, map[string]any{
		"message":       "Error processing message",
		"error":         f.message,
		"correlationId": j.CorrelationID,
	})
}

func (h *Handler) succeed(ctx context.Context, w http.ResponseWriter, j *job, artifact *storage.Artifact, status int) {
	j.ExecutionTimeMs = milliseconds(h.now().Sub(j.start))
	j.Success = Succeeded
	j.transition(Completed)

	execMs := strconv.FormatFloat(j.ExecutionTimeMs, 'f', 2, 64)
	h.events.LogEvent(ctx, telemetry.EventInput{
		EventType:   MessageProcessedSuccess,
		Description: fmt.Sprintf("job processed in %sms", execMs),
		Endpoint:    j.Endpoint,
		Method:      j.method,
		Metadata: map[string]any{
			"correlationId":   j.CorrelationID,
			"platformType":    j.PlatformType,
			"executionTimeMs": j.ExecutionTimeMs,
			"discordStatus":   status,
			"pdfFileSize":     artifact.Size(),
		},
	})
	h.observer.RecordJob("success")

	writeJSON(w, j.log, http.StatusOK, map[string]any{
		"message":         fmt.Sprintf("Job %s successfully fetched PDF buffer.", j.CorrelationID),
		"pdfFileSize":     fmt.Sprintf("%d bytes", artifact.Size()),
		"platformType":    j.PlatformType,
		"discordStatus":   status,
		"executionTimeMs": json.Number(execMs),
	})
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / float64(time.Millisecond)
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error("failed to write response", zap.Error(err))
	}
}
