// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package correlation carries the identity that ties every log line and
// telemetry record of a single inbound request together.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// Header is the primary request and response header.
	Header = "X-Correlation-ID"

	// LegacyHeader is still honoured on inbound requests.
	LegacyHeader = "Correlation-ID"
)

// ID identifies a single request across every record it produces.
type ID string

// String implements the fmt.Stringer interface.
func (id ID) String() string {
	return string(id)
}

// Origin reports where an ID came from.
type Origin int

const (
	// OriginServer means the ID was generated by this process.
	OriginServer Origin = iota

	// OriginClient means the ID was supplied by the caller.
	OriginClient
)

// String implements the fmt.Stringer interface.
func (o Origin) String() string {
	if o == OriginClient {
		return "client"
	}
	return "server"
}

// New generates a fresh UUIDv4 based ID.
func New() ID {
	return ID(uuid.NewString())
}

// Resolve returns the ID carried by the given headers, preferring
// [Header] over [LegacyHeader]. If neither is present a new ID is
// generated with [New].
func Resolve(h http.Header) (ID, Origin) {
	for _, name := range []string{Header, LegacyHeader} {
		v := strings.TrimSpace(h.Get(name))
		if v != "" {
			return ID(v), OriginClient
		}
	}
	return New(), OriginServer
}

type ctxKey struct{}

// NewContext returns a copy of ctx which carries id.
func NewContext(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID carried by ctx, if any.
func FromContext(ctx context.Context) (ID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKey{}).(ID)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
