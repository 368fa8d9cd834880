// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcprt

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcprt/core/protocol"
	"github.com/mcprt/core/session"
)

// CallErrorKind classifies why an outbound call failed, the closed sum type
// from spec.md §7: every Call either returns a result or fails with exactly
// one of these kinds.
type CallErrorKind int

const (
	// ProtocolError means the peer misbehaved or replied with a malformed
	// envelope.
	ProtocolError CallErrorKind = iota
	// TransportErrorKind means the connection dropped or an I/O error
	// occurred while the call was in flight.
	TransportErrorKind
	// Timeout means the call's configured deadline elapsed before a
	// response arrived.
	Timeout
	// Cancelled means the call was cancelled locally before completion.
	Cancelled
	// HandlerError means the peer's handler ran and returned a business-
	// layer failure, forwarded as-is in the response's error field.
	HandlerError
	// NotSupported means the call was rejected locally because the peer
	// never advertised the required capability, without touching the
	// transport.
	NotSupported
)

func (k CallErrorKind) String() string {
	switch k {
	case ProtocolError:
		return "protocol_error"
	case TransportErrorKind:
		return "transport_error"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case HandlerError:
		return "handler_error"
	case NotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// CallError is the single error type an outbound Call can fail with. Kind
// is comparable with errors.Is against the sentinel values below; Err is the
// underlying cause, and Data carries the RPCError.Data payload when Kind is
// HandlerError.
type CallError struct {
	Kind CallErrorKind
	Err  error
	Data any
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcprt: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("mcprt: %s", e.Kind)
}

func (e *CallError) Unwrap() error { return e.Err }

// Is reports whether target is a *CallError with the same Kind, so callers
// can write errors.Is(err, mcprt.ErrTimeout) and similar.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel CallErrors for use with errors.Is. Only Kind is compared.
var (
	ErrProtocol      = &CallError{Kind: ProtocolError}
	ErrTransport     = &CallError{Kind: TransportErrorKind}
	ErrTimeout       = &CallError{Kind: Timeout}
	ErrCancelled     = &CallError{Kind: Cancelled}
	ErrHandlerFailed = &CallError{Kind: HandlerError}
	ErrNotSupported  = &CallError{Kind: NotSupported}
)

// classifyError maps an error returned by session.Session.Call into the
// closed CallError taxonomy.
func classifyError(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, session.ErrMethodNotSupported) {
		return &CallError{Kind: NotSupported, Err: err}
	}
	var rpcErr *protocol.RPCError
	if errors.As(err, &rpcErr) {
		return &CallError{Kind: HandlerError, Err: rpcErr, Data: rpcErr.Data}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: Timeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &CallError{Kind: Cancelled, Err: err}
	}
	return &CallError{Kind: TransportErrorKind, Err: err}
}
