// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package telemetry provides the structured error, event and request
// loggers. Every record is written to the local log and then handed to
// the bus without the caller waiting on delivery.
package telemetry

import (
	"maps"
	"time"
)

// Level of a telemetry record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Error types reported in ErrorRecord.ErrorType.
const (
	UnknownError       = "UnknownError"
	ValidationError    = "ValidationError"
	ConfigurationError = "ConfigurationError"
	PDFRetrievalError  = "PDFRetrievalError"
	DiscordSendError   = "DiscordSendError"
	BusDeliveryError   = "BusDeliveryError"
)

// Header is shared by every record variant.
type Header struct {
	Level         Level     `json:"level"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Service       string    `json:"service,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Record is implemented by ErrorRecord, EventRecord and RequestRecord only.
type Record interface {
	header() Header
}

func (h Header) header() Header {
	return h
}

// ErrorInput describes a failure. Message and ErrorMessage are aliases,
// as are Stack and StackTrace; the first non-empty one wins.
type ErrorInput struct {
	ErrorType    string
	Message      string
	ErrorMessage string
	Stack        string
	StackTrace   string
	Context      map[string]any
	Endpoint     string
	Method       string
}

// ErrorRecord is published to the error topic.
type ErrorRecord struct {
	Header

	ErrorType    string         `json:"errorType"`
	ErrorMessage string         `json:"errorMessage"`
	StackTrace   string         `json:"stackTrace,omitempty"`
	Context      map[string]any `json:"context"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Method       string         `json:"method,omitempty"`
}

// NewErrorRecord normalizes in into an ErrorRecord.
func NewErrorRecord(h Header, in ErrorInput) ErrorRecord {
	h.Level = LevelError
	return ErrorRecord{
		Header:       h,
		ErrorType:    firstNonEmpty(in.ErrorType, UnknownError),
		ErrorMessage: firstNonEmpty(in.Message, in.ErrorMessage),
		StackTrace:   firstNonEmpty(in.Stack, in.StackTrace),
		Context:      cloneOrEmpty(in.Context),
		Endpoint:     in.Endpoint,
		Method:       in.Method,
	}
}

// EventInput describes a business event. Description and
// EventDescription are aliases.
type EventInput struct {
	EventType        string
	Description      string
	EventDescription string
	Metadata         map[string]any
	Endpoint         string
	Method           string
}

// EventRecord is published to the event topic.
type EventRecord struct {
	Header

	EventType        string         `json:"eventType"`
	EventDescription string         `json:"eventDescription"`
	Metadata         map[string]any `json:"metadata"`
	Endpoint         string         `json:"endpoint,omitempty"`
	Method           string         `json:"method,omitempty"`
}

// NewEventRecord normalizes in into an EventRecord.
func NewEventRecord(h Header, in EventInput) EventRecord {
	h.Level = LevelInfo
	return EventRecord{
		Header:           h,
		EventType:        in.EventType,
		EventDescription: firstNonEmpty(in.Description, in.EventDescription),
		Metadata:         cloneOrEmpty(in.Metadata),
		Endpoint:         in.Endpoint,
		Method:           in.Method,
	}
}

// RequestInput describes a completed inbound request. Endpoint and
// Path are aliases.
type RequestInput struct {
	Method       string
	Endpoint     string
	Path         string
	StatusCode   int
	Duration     time.Duration
	RequestBody  any
	ResponseBody any
	ClientIP     string
	UserAgent    string
}

// RequestRecord is published to the request topic.
type RequestRecord struct {
	Header

	Method       string  `json:"method"`
	Endpoint     string  `json:"endpoint"`
	StatusCode   int     `json:"statusCode"`
	DurationMs   float64 `json:"duration"`
	RequestBody  any     `json:"requestBody"`
	ResponseBody any     `json:"responseBody"`
	ClientIP     string  `json:"clientIp,omitempty"`
	UserAgent    string  `json:"userAgent,omitempty"`
}

// NewRequestRecord normalizes in into a RequestRecord.
func NewRequestRecord(h Header, in RequestInput) RequestRecord {
	h.Level = LevelInfo
	return RequestRecord{
		Header:       h,
		Method:       in.Method,
		Endpoint:     firstNonEmpty(in.Endpoint, in.Path),
		StatusCode:   in.StatusCode,
		DurationMs:   float64(in.Duration.Microseconds()) / 1000,
		RequestBody:  orEmptyObject(in.RequestBody),
		ResponseBody: orEmptyObject(in.ResponseBody),
		ClientIP:     in.ClientIP,
		UserAgent:    in.UserAgent,
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func cloneOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func orEmptyObject(v any) any {
	if v == nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return cloneOrEmpty(m)
	}
	return v
}
