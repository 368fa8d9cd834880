// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcprt

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/dispatch"
	"github.com/mcprt/core/lifecycle"
	"github.com/mcprt/core/session"
	"github.com/mcprt/core/telemetry"
	"github.com/mcprt/core/transport"
)

// Negotiator lets a Server customize what it advertises once it has seen
// the client's offered InitializeParams. A nil Negotiator advertises the
// Server's own Capabilities/Implementation unconditionally.
type Negotiator func(ctx context.Context, params *session.InitializeParams) (caps *capability.Set, info *Implementation, instructions string, err error)

// Server is the server-side engine. One Server's Registry and Capabilities
// are shared across every connected Session; ServeStream and HTTPHandler
// each bind a fresh Session per connection.
type Server struct {
	Implementation Implementation
	Capabilities   *capability.Set
	Registry       *dispatch.Registry

	Negotiator Negotiator

	logger    *slog.Logger
	telemetry telemetry.Telemetry

	sessionStore session.Store
	idleTimeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewServer builds a Server ready to accept connections via ServeStream or
// an http.Handler built with HTTPHandler.
func NewServer(impl Implementation, caps *capability.Set, registry *dispatch.Registry, opts ...Option) *Server {
	o := newOptions(opts)
	registerBuiltins(registry)
	return &Server{
		Implementation: impl,
		Capabilities:   caps,
		Registry:       registry,
		logger:         o.logger,
		telemetry:      o.telemetry,
		sessionStore:   o.sessionStore,
		idleTimeout:    o.idleTimeout,
		sessions:       make(map[string]*session.Session),
	}
}

func (s *Server) hooks() *session.ServerHooks {
	if s.Negotiator == nil {
		return nil
	}
	return &session.ServerHooks{
		Negotiate: func(ctx context.Context, params *session.InitializeParams) (*capability.Set, *Implementation, string, error) {
			return s.Negotiator(ctx, params)
		},
	}
}

// newSession builds and configures a server-side Session bound to t,
// without starting its read loop.
func (s *Server) newSession(t transport.Transport) *session.Session {
	sess := session.New(t, lifecycle.Server, s.Registry, s.Capabilities, s.logger)
	sess.SetTelemetry(s.telemetry)
	sess.SetServerHooks(s.hooks())
	return sess
}

// ServeStream runs one Session over t until ctx is cancelled or the
// transport closes, blocking the caller. Typical use is one goroutine per
// accepted connection (e.g. a stdio pipe, or an accepted net.Conn wrapped in
// a transport.StreamTransport).
func (s *Server) ServeStream(ctx context.Context, t transport.Transport) error {
	sess := s.newSession(t)
	defer sess.Close()
	return sess.Run(ctx)
}

// HTTPHandler returns an http.Handler implementing the streamable-HTTP
// transport (spec.md §4.2.2): each new session POSTing an initialize
// request gets a fresh Session run in the background, keyed by the
// Mcp-Session-Id the transport layer mints. ctx bounds the lifetime of
// every session the handler spawns; cancel it to tear all of them down.
func (s *Server) HTTPHandler(ctx context.Context, opts *transport.ServerHandlerOptions) http.Handler {
	h := transport.NewHandler(func(r *http.Request) (*transport.ServerTransport, error) {
		st := transport.NewServerTransport(transport.NewSessionID())
		sess := s.newSession(st)
		s.trackSession(ctx, sess)
		go func() {
			sess.Run(ctx)
			s.untrackSession(ctx, sess.SessionID())
		}()
		return st, nil
	}, opts)

	if s.idleTimeout > 0 {
		go s.reapIdleSessions(ctx, h)
	}
	return h
}

// trackSession records sess in the in-process registry and persists its
// initial SessionState to the configured Store (spec.md §4.3).
func (s *Server) trackSession(ctx context.Context, sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.SessionID()] = sess
	s.mu.Unlock()
	if s.sessionStore != nil {
		_ = s.sessionStore.Store(ctx, sess.SessionID(), sess.Snapshot())
	}
}

// untrackSession drops sess's bookkeeping once its Run loop has returned.
func (s *Server) untrackSession(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.sessionStore != nil {
		_ = s.sessionStore.Delete(ctx, id)
	}
}

// reapIdleSessions periodically snapshots every tracked session's state into
// the Store and closes any session that has seen no inbound traffic for
// longer than s.idleTimeout, per spec.md §3's last-activity expiry for the
// HTTP transport.
func (s *Server) reapIdleSessions(ctx context.Context, h *transport.Handler) {
	ticker := time.NewTicker(s.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			var stale []string
			for id, sess := range s.sessions {
				if s.sessionStore != nil {
					_ = s.sessionStore.Store(ctx, id, sess.Snapshot())
				}
				if now.Sub(sess.LastActivity()) > s.idleTimeout {
					stale = append(stale, id)
				}
			}
			s.mu.Unlock()
			for _, id := range stale {
				h.CloseSession(id)
				s.untrackSession(ctx, id)
			}
		}
	}
}
