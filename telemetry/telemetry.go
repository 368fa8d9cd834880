// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package telemetry defines the event-observation contract the dispatcher
// emits to, and a no-op default implementation. Exporting those events to
// Prometheus, OTLP, or Jaeger is explicitly out of scope here; a deployment
// wires its own collector behind this interface.
package telemetry

import (
	"context"
	"time"
)

// Outcome classifies how a dispatched request finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeTimeout
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Telemetry receives the five dispatcher-lifecycle events a session
// produces. Every method must be safe to call concurrently and must not
// block the dispatch path; a slow collector should buffer internally.
type Telemetry interface {
	// RequestReceived fires when an inbound request is about to be
	// dispatched. Notifications do not trigger it.
	RequestReceived(ctx context.Context, sessionID, method string)
	// RequestResponded fires once a dispatched request has produced a
	// terminal outcome, with the time spent in the handler.
	RequestResponded(ctx context.Context, sessionID, method string, outcome Outcome, duration time.Duration)
	// Timeout fires when a request's configured deadline elapsed before the
	// handler returned.
	Timeout(ctx context.Context, sessionID, method string)
	// Cancelled fires when a notifications/cancelled was observed for an
	// in-flight request.
	Cancelled(ctx context.Context, sessionID, method, reason string)
	// TransportError fires when the underlying transport failed outside the
	// scope of any single request (e.g. the connection dropped).
	TransportError(ctx context.Context, sessionID string, err error)
}

// Noop is a Telemetry that discards every event. It is the default
// collaborator when a deployment does not configure one.
var Noop Telemetry = noop{}

type noop struct{}

func (noop) RequestReceived(context.Context, string, string)                          {}
func (noop) RequestResponded(context.Context, string, string, Outcome, time.Duration) {}
func (noop) Timeout(context.Context, string, string)                                  {}
func (noop) Cancelled(context.Context, string, string, string)                        {}
func (noop) TransportError(context.Context, string, error)                            {}
