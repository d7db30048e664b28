// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package relay

import (
	"encoding/json"
	"errors"
	"time"
)

// Outcome of a job. The zero value means the job has not finished.
type Outcome int

const (
	Unknown Outcome = iota
	Succeeded
	Failed
)

// MarshalJSON encodes Unknown as null and the others as booleans.
func (o Outcome) MarshalJSON() ([]byte, error) {
	switch o {
	case Succeeded:
		return []byte("true"), nil
	case Failed:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// JobRequest is the body of a relay request plus the bookkeeping
// accumulated while it is processed.
type JobRequest struct {
	CorrelationID    string  `json:"CorrelationId"`
	EmailAddress     *string `json:"EmailAddress"`
	MessageRecipient *string `json:"MessageRecipient"`
	Subject          *string `json:"Subject"`
	MessageBody      *string `json:"MessageBody"`
	PlatformType     *string `json:"PlatformType"`
	PdfFileName      *string `json:"PdfFileName"`

	Success         Outcome   `json:"-"`
	ExecutionTimeMs float64   `json:"-"`
	CreatedAt       time.Time `json:"-"`
	Service         string    `json:"-"`
	Endpoint        string    `json:"-"`
}

// ErrMissingFields is returned by Validate.
var ErrMissingFields = errors.New("missing CorrelationId or PdfFileName")

// DecodeJobRequest parses b into a JobRequest. Field names must match
// exactly, so "correlationId" does not satisfy CorrelationId. A body which
// is not a JSON object, or which carries a known field of the wrong type,
// is treated as empty, which Validate then rejects. Empty optional fields
// are normalized to nil.
func DecodeJobRequest(b []byte) JobRequest {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(b, &fields)
	if err != nil {
		return JobRequest{}
	}

	var job JobRequest
	err = errors.Join(
		decodeField(fields, "CorrelationId", &job.CorrelationID),
		decodeOptional(fields, "EmailAddress", &job.EmailAddress),
		decodeOptional(fields, "MessageRecipient", &job.MessageRecipient),
		decodeOptional(fields, "Subject", &job.Subject),
		decodeOptional(fields, "MessageBody", &job.MessageBody),
		decodeOptional(fields, "PlatformType", &job.PlatformType),
		decodeOptional(fields, "PdfFileName", &job.PdfFileName),
	)
	if err != nil {
		return JobRequest{}
	}
	return job
}

func decodeField(fields map[string]json.RawMessage, key string, v *string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func decodeOptional(fields map[string]json.RawMessage, key string, v **string) error {
	var s *string
	if raw, ok := fields[key]; ok {
		err := json.Unmarshal(raw, &s)
		if err != nil {
			return err
		}
	}
	if s != nil && *s == "" {
		s = nil
	}
	*v = s
	return nil
}

// Validate reports ErrMissingFields unless both CorrelationID and PdfFileName are set.
func (j *JobRequest) Validate() error {
	if j.CorrelationID == "" || j.PdfFileName == nil {
		return ErrMissingFields
	}
	return nil
}

// LogObject returns the subset of the job recorded alongside errors.
func (j *JobRequest) LogObject() map[string]any {
	return map[string]any{
		"correlationId":   j.CorrelationID,
		"service":         j.Service,
		"endpoint":        j.Endpoint,
		"timestamp":       j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"success":         j.Success,
		"executionTimeMs": j.ExecutionTimeMs,
		"platformType":    j.PlatformType,
		"pdfFileName":     j.PdfFileName,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
