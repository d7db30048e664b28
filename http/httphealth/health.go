// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httphealth exposes process health metrics over HTTP.
package httphealth

import (
	"context"
	"net/http"
	"sync/atomic"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// Binary is a Metric that is either healthy or not.
// The zero value is unhealthy.
type Binary struct {
	healthy atomic.Bool
}

// Set the health state.
func (b *Binary) Set(healthy bool) {
	b.healthy.Store(healthy)
}

// Healthy implements the Metric interface.
func (b *Binary) Healthy(ctx context.Context) bool {
	return b.healthy.Load()
}

// Started reports healthy once the server has begun serving.
type Started struct {
	Binary
}

// Started marks the server as started.
func (s *Started) Started() {
	s.Set(true)
}

// Liveness reports whether the process is alive.
type Liveness struct {
	Binary
}

// Alive marks the process as alive.
func (l *Liveness) Alive() {
	l.Set(true)
}

// Dead marks the process as dead.
func (l *Liveness) Dead() {
	l.Set(false)
}

// Readiness reports whether the server should receive traffic.
type Readiness struct {
	Binary
}

// Ready marks the server as ready for traffic.
func (r *Readiness) Ready() {
	r.Set(true)
}

// NotReady marks the server as not ready for traffic.
func (r *Readiness) NotReady() {
	r.Set(false)
}

// AndMetric represents multiple Metrics all and'd together.
type AndMetric []Metric

// And returns a Metric which is healthy only when all of metrics are.
func And(metrics ...Metric) AndMetric {
	return AndMetric(metrics)
}

// Healthy implements the Metric interface.
func (m AndMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m {
		if !metric.Healthy(ctx) {
			return false
		}
	}
	return true
}

// NewHandler wraps a Metric into an http.Handler.
//
// If m.Healthy returns true, then HTTP status code 200 is
// returned, else, HTTP status code 503 is returned.
func NewHandler(m Metric) http.Handler {
	if h, ok := m.(http.Handler); ok {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Healthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
}
