// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package dispatch maps incoming JSON-RPC method names to registered
// handlers, enforces capability gating, and synthesizes the
// progress/cancellation side channel described in spec.md §4.3 and §4.6.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/protocol"
)

// Peer is the subset of session behavior a handler needs to call back into:
// sending notifications (progress, list-changed, logging messages) and, for
// server-to-client features like sampling/createMessage, issuing requests of
// its own. session.Session implements this interface; dispatch never
// imports the session package, to keep the dependency one-directional.
type Peer interface {
	// Notify sends a Notification with the given method and params.
	Notify(ctx context.Context, method string, params any) error
	// Call issues an outbound Request and awaits its result, subject to
	// deadline.
	Call(ctx context.Context, method string, params any, deadline time.Duration) (protocol.RawMessage, error)
	// PeerCapabilities returns the capability set the other side declared
	// during initialize.
	PeerCapabilities() *capability.Set
	// OwnCapabilities returns the capability set this side declared.
	OwnCapabilities() *capability.Set
	// SessionID is the transport-level session identifier, or "" for
	// transports (like the stream transport) that have none.
	SessionID() string
	// LogLevel returns the minimum severity this peer currently wants
	// relayed via notifications/message, as set by the last logging/setLevel
	// call (spec.md §4.6). The zero value, LogDebug, is the most permissive
	// and is what a session starts with before setLevel is ever called.
	LogLevel() LogLevel
	// SetLogLevel installs a new minimum severity, per logging/setLevel.
	SetLogLevel(LogLevel)
}

// Call bundles everything a handler needs: the raw request, a decoded
// progress token if the caller opted in, a cancellation check, and the Peer
// to call back on.
type Call struct {
	Peer   Peer
	Method string
	Params protocol.RawMessage
	Cursor string // params.cursor as received; "" if none/first page. Registry.Dispatch verifies it for Paginated methods.

	progressToken any
	cancelled     func() bool
}

// NewCall builds a Call for an inbound request or notification. progressToken
// is the decoded _meta.progressToken (nil if absent); cancelled, if non-nil,
// is polled by Call.Cancelled to observe advisory cancellation requests.
func NewCall(peer Peer, method string, params protocol.RawMessage, cursor string, progressToken any, cancelled func() bool) *Call {
	return &Call{
		Peer:          peer,
		Method:        method,
		Params:        params,
		Cursor:        cursor,
		progressToken: progressToken,
		cancelled:     cancelled,
	}
}

// ProgressToken returns the caller-supplied _meta.progressToken, and whether
// one was present.
func (c *Call) ProgressToken() (any, bool) {
	return c.progressToken, c.progressToken != nil
}

// Cancelled reports whether the in-flight request has been asked to cancel.
// Handlers that run long computations SHOULD poll this periodically
// (spec.md §9 "Cancellation without preemption").
func (c *Call) Cancelled() bool {
	if c.cancelled == nil {
		return false
	}
	return c.cancelled()
}

// Progress emits a notifications/progress event tied to this call's
// progress token. It returns ErrNoProgressToken if the caller did not opt
// in.
func (c *Call) Progress(ctx context.Context, message string, progress, total float64) error {
	token, ok := c.ProgressToken()
	if !ok {
		return ErrNoProgressToken
	}
	params := map[string]any{
		"progressToken": token,
		"progress":      progress,
	}
	if total != 0 {
		params["total"] = total
	}
	if message != "" {
		params["message"] = message
	}
	return c.Peer.Notify(ctx, "notifications/progress", params)
}

// ErrNoProgressToken is returned by Call.Progress when the caller did not
// set _meta.progressToken.
var ErrNoProgressToken = fmt.Errorf("dispatch: request did not carry a progress token")

// HandlerFunc handles one dispatcher slot. It receives the decoded *Call and
// returns a JSON-marshalable result, or an error. A non-nil error with no
// special type is reported to the peer as InternalError with sanitized data;
// returning a *protocol.RPCError lets the handler choose the wire code
// directly (the "Handler errors" case in spec.md §7).
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Registration describes one registered method slot.
type Registration struct {
	Handler HandlerFunc
	// RequiredFeature, if non-empty, names the capability.Set feature that
	// must be declared by the *receiver* (the side running this Registry)
	// for the method to be dispatchable at all, per spec.md §4.5.
	RequiredFeature string
	// Paginated marks list methods, so the registry can apply the opaque
	// cursor contract uniformly (spec.md §4.6).
	Paginated bool
	// Streaming marks handlers that may emit progress notifications before
	// their final result. It is informational only: neither the registry
	// nor the streamable-HTTP transport reads it, and that transport answers
	// every POSTed request with an SSE stream regardless of this flag.
	Streaming bool
	// Timeout overrides the registry's default for this method. Zero means
	// "use the registry default".
	Timeout time.Duration
}

// Registry is the dispatcher's method table. It is safe for concurrent
// registration and dispatch, though in practice handlers are registered
// once at startup before Dispatch is ever called.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]Registration

	timeouts *TimeoutPolicy
	cursors  *CursorCodec
}

// NewRegistry returns an empty Registry using the given timeout policy. If
// policy is nil, DefaultTimeoutPolicy() is used. A fresh CursorCodec is
// generated for opaque pagination cursors.
func NewRegistry(policy *TimeoutPolicy) (*Registry, error) {
	if policy == nil {
		policy = DefaultTimeoutPolicy()
	}
	codec, err := NewCursorCodec(nil)
	if err != nil {
		return nil, err
	}
	return &Registry{slots: make(map[string]Registration), timeouts: policy, cursors: codec}, nil
}

// Register installs a handler for method. It panics on a duplicate
// registration, since that is always a programming error at startup, never
// a runtime condition to recover from.
func (r *Registry) Register(method string, reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slots[method]; exists {
		panic(fmt.Sprintf("dispatch: method %q already registered", method))
	}
	r.slots[method] = reg
}

// Lookup returns the registration for method, if any.
func (r *Registry) Lookup(method string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.slots[method]
	return reg, ok
}

// Timeout returns the effective timeout for method.
func (r *Registry) Timeout(method string) time.Duration {
	r.mu.RLock()
	reg, ok := r.slots[method]
	r.mu.RUnlock()
	if ok && reg.Timeout != 0 {
		return r.timeouts.capped(reg.Timeout)
	}
	return r.timeouts.For(method)
}

// Cursors exposes the registry's opaque-cursor codec, so handlers can mint
// nextCursor values and decode the incoming ones that Dispatch has already
// verified.
func (r *Registry) Cursors() *CursorCodec { return r.cursors }

// Dispatch looks up method, checks the capability gate, and invokes the
// handler. It never panics outward: a panicking handler is converted to an
// InternalError response (spec.md §4.3 "If the handler panics ... reply
// InternalError with sanitized data").
func (r *Registry) Dispatch(ctx context.Context, call *Call) (result any, rpcErr *protocol.RPCError) {
	reg, ok := r.Lookup(call.Method)
	if !ok {
		return nil, protocol.NewRPCError(protocol.CodeMethodNotFound, fmt.Sprintf("unknown method %q", call.Method), nil)
	}
	if reg.RequiredFeature != "" && !call.Peer.OwnCapabilities().Supports(reg.RequiredFeature) {
		return nil, protocol.NewRPCError(protocol.CodeMethodNotFound, fmt.Sprintf("method %q requires a capability this side did not advertise", call.Method), nil)
	}
	if reg.Paginated && call.Cursor != "" {
		if _, err := r.cursors.Decode(call.Cursor); err != nil {
			return nil, protocol.NewRPCError(protocol.CodeInvalidParams, err.Error(), nil)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rpcErr = protocol.NewRPCError(protocol.CodeInternalError, "internal error", fmt.Sprintf("handler panic: %v", p))
			result = nil
		}
	}()

	out, err := reg.Handler(ctx, call)
	if err != nil {
		if re, ok := err.(*protocol.RPCError); ok {
			return nil, re
		}
		return nil, protocol.NewRPCError(protocol.CodeInternalError, "internal error", err.Error())
	}
	return out, nil
}

// CanDispatchLocally checks, without touching the transport, whether an
// outgoing call to method is permitted given the peer's declared
// capabilities. This implements the cheap local rejection in spec.md §4.5:
// "a client calling resources/subscribe when the server did not advertise
// resources.subscribe MUST observe MethodNotFound locally".
func (r *Registry) CanDispatchLocally(peerCaps *capability.Set, method string) bool {
	reg, ok := r.Lookup(method)
	if !ok {
		// Not every outbound method needs a local registration (e.g. a
		// client calling a server-only method); feature gating alone
		// suffices when reg.RequiredFeature is known by the caller.
		return true
	}
	if reg.RequiredFeature == "" {
		return true
	}
	return peerCaps.Supports(reg.RequiredFeature)
}
