// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package session ties together the transport, lifecycle, capability, and
// dispatch packages into a single running connection: one Session per logical
// peer, driving a read loop that classifies each inbound envelope and a
// Call/Notify surface for outbound traffic (spec.md §3, §4.3).
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/dispatch"
	"github.com/mcprt/core/lifecycle"
	"github.com/mcprt/core/protocol"
	"github.com/mcprt/core/telemetry"
	"github.com/mcprt/core/transport"
)

// ErrMethodNotSupported is wrapped into the error Session.Call returns when
// the peer never advertised the capability a method requires, letting the
// engine layer's classifyError map it to CallError{Kind: NotSupported}
// without a round trip to the transport (spec.md §4.5).
var ErrMethodNotSupported = errors.New("session: method not supported by peer")

// Implementation identifies a client or server implementation, carried in
// the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeParams is the payload of the "initialize" request, sent by the
// client.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    *capability.Set `json:"capabilities"`
	ClientInfo      *Implementation `json:"clientInfo"`
}

// InitializeResult is the payload of the server's response to "initialize".
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    *capability.Set `json:"capabilities"`
	ServerInfo      *Implementation `json:"serverInfo"`
	Instructions    string          `json:"instructions,omitempty"`
}

// ServerHooks lets a server-side Session participate in the handshake:
// Negotiate is consulted once per session with the client's offered
// InitializeParams, and returns the capabilities/instructions this side
// will advertise.
type ServerHooks struct {
	Negotiate func(ctx context.Context, params *InitializeParams) (caps *capability.Set, serverInfo *Implementation, instructions string, err error)
}

// Session owns one Transport and drives its read loop for the lifetime of
// the connection. It implements dispatch.Peer, so Registry handlers can call
// back into it without dispatch importing this package.
type Session struct {
	transport transport.Transport
	side      lifecycle.Side
	registry  *dispatch.Registry
	logger    *slog.Logger

	lifecycle *lifecycle.Machine
	pending   *pendingTable
	inflight  *inflightTable
	telemetry telemetry.Telemetry

	mu           sync.RWMutex
	ownCaps      *capability.Set
	peerCaps     *capability.Set
	negotiated   string
	serverHooks  *ServerHooks
	logLevel     dispatch.LogLevel
	lastActivity time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// New returns a Session bound to t, ready to Run. ownCaps describes the
// features this side offers; it is advertised during the handshake.
func New(t transport.Transport, side lifecycle.Side, registry *dispatch.Registry, ownCaps *capability.Set, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		transport: t,
		side:      side,
		registry:  registry,
		logger:    logger,
		lifecycle: lifecycle.New(side),
		pending:   newPendingTable(),
		inflight:  newInflightTable(),
		telemetry: telemetry.Noop,
		ownCaps:   ownCaps,
		done:      make(chan struct{}),
	}
	s.lastActivity = time.Now()
	return s
}

// SetServerHooks installs the handshake callback for a server-side Session.
// It must be called before Run.
func (s *Session) SetServerHooks(h *ServerHooks) { s.serverHooks = h }

// SetTelemetry installs the event collaborator used to report dispatch
// outcomes. It must be called before Run; the default is telemetry.Noop.
func (s *Session) SetTelemetry(t telemetry.Telemetry) {
	if t == nil {
		t = telemetry.Noop
	}
	s.telemetry = t
}

// SessionID implements dispatch.Peer.
func (s *Session) SessionID() string {
	if ident, ok := s.transport.(transport.SessionIdentified); ok {
		return ident.SessionID()
	}
	return ""
}

// OwnCapabilities implements dispatch.Peer.
func (s *Session) OwnCapabilities() *capability.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownCaps
}

// PeerCapabilities implements dispatch.Peer.
func (s *Session) PeerCapabilities() *capability.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerCaps
}

// NegotiatedVersion returns the protocol revision agreed during the
// handshake, or "" before initialize completes.
func (s *Session) NegotiatedVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negotiated
}

// LifecycleState exposes the underlying state machine's current state.
func (s *Session) LifecycleState() lifecycle.State { return s.lifecycle.State() }

// LogLevel implements dispatch.Peer: it returns the minimum severity this
// session wants relayed via notifications/message, last set via
// logging/setLevel. The zero value, dispatch.LogDebug, is the most
// permissive and is what every session starts with.
func (s *Session) LogLevel() dispatch.LogLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logLevel
}

// SetLogLevel implements dispatch.Peer.
func (s *Session) SetLogLevel(l dispatch.LogLevel) {
	s.mu.Lock()
	s.logLevel = l
	s.mu.Unlock()
}

// LastActivity reports when this session last received an envelope from its
// peer, used by the engine's idle-session reaper (Server.reapIdleSessions;
// spec.md §3).
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) touchActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Snapshot captures the session's current state for persistence in a Store,
// keyed externally by the transport's session id (spec.md §4.3).
func (s *Session) Snapshot() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &State{
		NegotiatedVersion: s.negotiated,
		PeerCapabilities:  s.peerCaps,
		OwnCapabilities:   s.ownCaps,
		LogLevel:          s.logLevel.String(),
		LastActivity:      s.lastActivity,
		LifecycleState:    s.lifecycle.State(),
	}
}

// Done is closed once Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the read loop until the transport closes or ctx is cancelled.
// It returns the terminal error, if any (io.EOF and ErrClosed are reported
// as nil since they represent an orderly shutdown).
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()
	for {
		env, err := s.transport.Receive(ctx)
		if err != nil {
			if err == transport.ErrClosed || errors.Is(err, io.EOF) {
				return nil
			}
			var rpcErr *protocol.RPCError
			if errors.As(err, &rpcErr) && rpcErr.Code == protocol.CodeParseError {
				// One malformed line, not a dead transport (spec.md §4.2.1):
				// log it and keep reading. The decode failed before an id
				// could be recovered, so there is no request to reply to.
				s.logger.Warn("discarding malformed line", "error", rpcErr)
				continue
			}
			s.telemetry.TransportError(ctx, s.SessionID(), err)
			return err
		}
		s.touchActivity()
		s.route(ctx, env)
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() { close(s.done) })
	s.lifecycle.Close()
	for _, p := range s.pending.drain() {
		p.deliver(outcome{err: fmt.Errorf("session: closed with request still pending")})
	}
}

// Close tears the session down, failing every pending outbound call.
func (s *Session) Close() error {
	err := s.transport.Close()
	s.teardown()
	return err
}

func (s *Session) route(ctx context.Context, env *protocol.Envelope) {
	switch {
	case env.IsResponse():
		s.handleResponse(env)
	case env.IsRequest():
		go s.handleRequest(ctx, env)
	case env.IsNotification():
		s.handleNotification(ctx, env)
	}
}

func (s *Session) handleResponse(env *protocol.Envelope) {
	p, ok := s.pending.remove(env.ID)
	if !ok {
		s.logger.Warn("response for unknown or already-resolved request", "id", env.ID.String())
		return
	}
	if env.Error != nil {
		p.deliver(outcome{err: env.Error})
		return
	}
	p.deliver(outcome{result: env.Result})
}

func (s *Session) handleNotification(ctx context.Context, env *protocol.Envelope) {
	switch env.Method {
	case "notifications/initialized":
		if err := s.lifecycle.BeginOperating(); err != nil {
			s.logger.Warn("notifications/initialized out of order", "error", err)
		}
		return
	case "notifications/cancelled":
		var params struct {
			RequestID protocol.ID `json:"requestId"`
			Reason    string      `json:"reason"`
		}
		if err := protocol.RawUnmarshal(env.Params, &params); err == nil {
			if method, ok := s.inflight.cancel(params.RequestID); ok {
				s.telemetry.Cancelled(ctx, s.SessionID(), method, params.Reason)
			}
		}
		return
	}

	if !s.lifecycle.AllowsInbound(env.Method) {
		s.logger.Debug("dropping notification received before Operating", "method", env.Method)
		return
	}
	if _, ok := s.registry.Lookup(env.Method); ok {
		call := dispatch.NewCall(s, env.Method, env.Params, "", env.ProgressToken, nil)
		if _, rpcErr := s.registry.Dispatch(ctx, call); rpcErr != nil {
			s.logger.Warn("notification handler failed", "method", env.Method, "error", rpcErr)
		}
	}
}

func (s *Session) handleRequest(ctx context.Context, env *protocol.Envelope) {
	if env.Method == "initialize" {
		s.handleInitialize(ctx, env)
		return
	}

	if !s.lifecycle.AllowsInbound(env.Method) {
		s.sendError(ctx, env.ID, protocol.NewRPCError(protocol.CodeInvalidRequest,
			fmt.Sprintf("method %q is not permitted in lifecycle state %s", env.Method, s.lifecycle.State()), nil))
		return
	}

	inflight := s.inflight.start(env.ID, env.Method)
	defer s.inflight.finish(env.ID)

	sessionID := s.SessionID()
	s.telemetry.RequestReceived(ctx, sessionID, env.Method)
	started := time.Now()

	deadline := s.registry.Timeout(env.Method)
	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	call := dispatch.NewCall(s, env.Method, env.Params, extractCursor(env.Params), env.ProgressToken, inflight.Cancelled)

	result, rpcErr := s.registry.Dispatch(callCtx, call)
	if rpcErr != nil {
		telemetryOutcome := telemetry.OutcomeError
		if inflight.Cancelled() {
			telemetryOutcome = telemetry.OutcomeCancelled
		} else if callCtx.Err() != nil {
			telemetryOutcome = telemetry.OutcomeTimeout
			s.telemetry.Timeout(ctx, sessionID, env.Method)
		}
		s.telemetry.RequestResponded(ctx, sessionID, env.Method, telemetryOutcome, time.Since(started))
		s.sendError(ctx, env.ID, rpcErr)
		return
	}
	s.telemetry.RequestResponded(ctx, sessionID, env.Method, telemetry.OutcomeSuccess, time.Since(started))
	s.sendResult(ctx, env.ID, result)
}

// extractCursor pulls the optional "cursor" string field out of a list
// method's params, leaving verification (via the registry's CursorCodec) to
// Registry.Dispatch for Paginated methods; a missing or malformed field
// yields "", treated as a first-page request.
func extractCursor(params protocol.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p struct {
		Cursor string `json:"cursor"`
	}
	if err := protocol.RawUnmarshal(params, &p); err != nil {
		return ""
	}
	return p.Cursor
}

func (s *Session) handleInitialize(ctx context.Context, env *protocol.Envelope) {
	if s.side != lifecycle.Server {
		s.sendError(ctx, env.ID, protocol.NewRPCError(protocol.CodeInvalidRequest, "client sessions do not accept initialize requests", nil))
		return
	}
	if err := s.lifecycle.BeginInitialize(); err != nil {
		s.sendError(ctx, env.ID, protocol.NewRPCError(protocol.CodeInvalidRequest, err.Error(), nil))
		return
	}

	var params InitializeParams
	if err := protocol.RawUnmarshal(env.Params, &params); err != nil {
		s.sendError(ctx, env.ID, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed initialize params", err.Error()))
		return
	}

	negotiated := capability.NegotiateServer(params.ProtocolVersion)

	var caps *capability.Set
	var serverInfo *Implementation
	var instructions string
	if s.serverHooks != nil && s.serverHooks.Negotiate != nil {
		var err error
		caps, serverInfo, instructions, err = s.serverHooks.Negotiate(ctx, &params)
		if err != nil {
			s.sendError(ctx, env.ID, protocol.NewRPCError(protocol.CodeInternalError, "initialize rejected", err.Error()))
			return
		}
	} else {
		caps = s.OwnCapabilities()
		serverInfo = &Implementation{Name: "mcprt", Version: "0.1.0"}
	}

	s.mu.Lock()
	s.peerCaps = params.Capabilities
	s.ownCaps = caps
	s.negotiated = negotiated
	s.mu.Unlock()

	result := &InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    caps,
		ServerInfo:      serverInfo,
		Instructions:    instructions,
	}
	if err := s.lifecycle.CompleteInitialize(); err != nil {
		s.sendError(ctx, env.ID, protocol.NewRPCError(protocol.CodeInternalError, err.Error(), nil))
		return
	}
	s.sendResult(ctx, env.ID, result)
}

// Initialize drives the client side of the handshake: it sends "initialize",
// awaits the result, validates the negotiated protocol revision, and sends
// notifications/initialized once satisfied.
func (s *Session) Initialize(ctx context.Context, clientInfo *Implementation, offered *capability.Set) (*InitializeResult, error) {
	if s.side != lifecycle.Client {
		return nil, fmt.Errorf("session: only client sessions drive Initialize")
	}
	if err := s.lifecycle.BeginInitialize(); err != nil {
		return nil, err
	}

	params := &InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    offered,
		ClientInfo:      clientInfo,
	}
	raw, err := protocol.RawMarshal(params)
	if err != nil {
		return nil, fmt.Errorf("session: marshaling initialize params: %w", err)
	}

	resultRaw, err := s.call(ctx, "initialize", raw, 30*time.Second)
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := protocol.RawUnmarshal(resultRaw, &result); err != nil {
		return nil, fmt.Errorf("session: decoding initialize result: %w", err)
	}
	if err := capability.NegotiateClient(protocol.ProtocolRevision, result.ProtocolVersion); err != nil {
		s.Close()
		return nil, err
	}

	s.mu.Lock()
	s.peerCaps = result.Capabilities
	s.ownCaps = offered
	s.negotiated = result.ProtocolVersion
	s.mu.Unlock()

	if err := s.lifecycle.CompleteInitialize(); err != nil {
		return nil, err
	}
	if err := s.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, err
	}
	if err := s.lifecycle.BeginOperating(); err != nil {
		return nil, err
	}
	return &result, nil
}

// Call implements dispatch.Peer: it issues an outbound request and awaits
// the correlated response, honoring deadline (0 means no deadline beyond
// ctx).
func (s *Session) Call(ctx context.Context, method string, params any, deadline time.Duration) (protocol.RawMessage, error) {
	if !s.lifecycle.AllowsOutbound(method) {
		return nil, fmt.Errorf("session: method %q not permitted in lifecycle state %s", method, s.lifecycle.State())
	}
	if !s.registry.CanDispatchLocally(s.PeerCapabilities(), method) {
		return nil, fmt.Errorf("session: %w: peer did not advertise a capability required by %q", ErrMethodNotSupported, method)
	}
	raw, err := protocol.RawMarshal(params)
	if err != nil {
		return nil, fmt.Errorf("session: marshaling params for %q: %w", method, err)
	}
	return s.call(ctx, method, raw, deadline)
}

func (s *Session) call(ctx context.Context, method string, params protocol.RawMessage, deadline time.Duration) (protocol.RawMessage, error) {
	id := s.pending.nextID()
	p := newPendingRequest(method, nil)
	s.pending.insert(id, p)

	env := protocol.NewRequest(id, method, params)
	if err := s.send(ctx, env); err != nil {
		s.pending.remove(id)
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	select {
	case o := <-p.resolve:
		if o.err != nil {
			return nil, o.err
		}
		return o.result, nil
	case <-callCtx.Done():
		s.pending.remove(id)
		s.sendCancel(context.Background(), id, "deadline exceeded")
		return nil, callCtx.Err()
	case <-s.done:
		return nil, fmt.Errorf("session: closed while awaiting response to %q", method)
	}
}

func (s *Session) sendCancel(ctx context.Context, id protocol.ID, reason string) {
	params := map[string]any{"requestId": id, "reason": reason}
	_ = s.Notify(ctx, "notifications/cancelled", params)
}

// Notify implements dispatch.Peer.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	raw, err := protocol.RawMarshal(params)
	if err != nil {
		return fmt.Errorf("session: marshaling params for %q: %w", method, err)
	}
	return s.send(ctx, protocol.NewNotification(method, raw))
}

func (s *Session) send(ctx context.Context, env *protocol.Envelope) error {
	if env.IsResponse() {
		if rt, ok := s.transport.(interface {
			SendForRequest(context.Context, *protocol.Envelope, protocol.ID) error
		}); ok {
			return rt.SendForRequest(ctx, env, env.ID)
		}
	}
	return s.transport.Send(ctx, env)
}

func (s *Session) sendResult(ctx context.Context, id protocol.ID, result any) {
	raw, err := protocol.RawMarshal(result)
	if err != nil {
		s.sendError(ctx, id, protocol.NewRPCError(protocol.CodeInternalError, "failed to marshal result", err.Error()))
		return
	}
	if err := s.send(ctx, protocol.NewResultResponse(id, raw)); err != nil {
		s.logger.Warn("failed to send result", "id", id.String(), "error", err)
	}
}

func (s *Session) sendError(ctx context.Context, id protocol.ID, rpcErr *protocol.RPCError) {
	if !id.IsValid() {
		s.logger.Warn("dropping error for request with no valid id", "error", rpcErr)
		return
	}
	if err := s.send(ctx, protocol.NewErrorResponse(id, rpcErr)); err != nil {
		s.logger.Warn("failed to send error response", "id", id.String(), "error", err)
	}
}
