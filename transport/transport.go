// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the duplex message-oriented channel
// abstraction of spec.md §4.2, and its two required concrete
// implementations (stream, streamable-HTTP) plus an additional WebSocket
// transport supplementing the ecosystem (spec.md §4.2.3 in SPEC_FULL.md).
package transport

import (
	"context"
	"errors"

	"github.com/mcprt/core/protocol"
)

// ErrClosed is returned by Send/Receive once Close has been called.
var ErrClosed = errors.New("transport: closed")

// Transport is a duplex, message-framed channel: callers never see partial
// envelopes. Receive blocks until an envelope is available or the transport
// closes; it MUST unblock and return ErrClosed or io.EOF (or a wrapped form
// of either) when Close is invoked concurrently (spec.md §4.2: "pending
// receives MUST terminate when close() is invoked").
type Transport interface {
	// Send writes one envelope. It blocks if the underlying channel applies
	// back-pressure.
	Send(ctx context.Context, env *protocol.Envelope) error
	// Receive reads the next envelope, blocking until one is available,
	// ctx is done, or the transport closes.
	Receive(ctx context.Context) (*protocol.Envelope, error)
	// Close shuts the transport down. It is safe to call more than once.
	Close() error
	// Done is closed once the transport has closed, for callers that want
	// to select on liveness without calling a blocking Receive.
	Done() <-chan struct{}
}

// SessionIdentified is implemented by transports that carry a server-minted
// session identity (the streamable-HTTP server and client transports and
// the WebSocket transport).
type SessionIdentified interface {
	SessionID() string
}
