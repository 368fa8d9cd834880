// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package mcprt is the engine package: it wires protocol, transport,
// lifecycle, capability, and dispatch into the two entry points an
// application actually constructs, Client and Server (spec.md §2 "Engine").
package mcprt

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/dispatch"
	"github.com/mcprt/core/lifecycle"
	"github.com/mcprt/core/session"
	"github.com/mcprt/core/telemetry"
	"github.com/mcprt/core/transport"
)

// registerBuiltins installs the handlers every engine offers regardless of
// what the caller registered: ping (spec.md §4.3's keepalive, empty
// params/result) and logging/setLevel (spec.md §4.6). Both are no-ops if the
// caller's registry already has an entry under that name.
func registerBuiltins(r *dispatch.Registry) {
	if _, ok := r.Lookup("ping"); !ok {
		r.Register("ping", dispatch.Registration{
			Handler: func(ctx context.Context, call *dispatch.Call) (any, error) {
				return struct{}{}, nil
			},
		})
	}
	dispatch.RegisterLogging(r)
}

// Implementation identifies a client or server, re-exported from session so
// callers don't need to import that package for this one field.
type Implementation = session.Implementation

// Option configures a Client or Server at construction time.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	telemetry    telemetry.Telemetry
	sessionStore session.Store
	idleTimeout  time.Duration
}

func newOptions(opts []Option) *options {
	o := &options{logger: slog.Default(), telemetry: telemetry.Noop, sessionStore: session.NewMemoryStore()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSessionStore installs the session.Store Server.HTTPHandler uses to
// persist SessionState across requests, keyed by the Mcp-Session-Id the
// transport mints (spec.md §4.3). The default is an in-memory store with no
// durability across process restarts.
func WithSessionStore(store session.Store) Option {
	return func(o *options) { o.sessionStore = store }
}

// WithIdleTimeout bounds how long an HTTP session may go without inbound
// traffic before Server's reaper closes it and evicts its SessionState
// (spec.md §3). Zero, the default, disables idle reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithLogger sets the *slog.Logger handed to each session. The default is
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry installs the Telemetry collaborator receiving dispatch
// events. The default is telemetry.Noop.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// Client is the client-side engine: one Session bound to a Transport, plus
// the registry of handlers the server may call back into (sampling, roots,
// elicitation).
type Client struct {
	Implementation Implementation
	Capabilities   *capability.Set

	registry *dispatch.Registry
	sess     *session.Session
}

// NewClient builds a Client ready to Connect. registry holds the handlers
// this side exposes to the server (e.g. sampling/createMessage); pass an
// empty *dispatch.Registry (via dispatch.NewRegistry(nil)) if this client
// exposes none.
func NewClient(impl Implementation, caps *capability.Set, registry *dispatch.Registry) *Client {
	registerBuiltins(registry)
	return &Client{
		Implementation: impl,
		Capabilities:   caps,
		registry:       registry,
	}
}

// Connect binds the client to t, runs the read loop in the background, and
// drives the initialize handshake to completion. The returned context
// cancellation (or a transport close) tears the session down.
func (c *Client) Connect(ctx context.Context, t transport.Transport, opts ...Option) (*session.InitializeResult, error) {
	o := newOptions(opts)
	c.sess = session.New(t, lifecycle.Client, c.registry, c.Capabilities, o.logger)
	c.sess.SetTelemetry(o.telemetry)

	go c.sess.Run(ctx)

	result, err := c.sess.Initialize(ctx, &c.Implementation, c.Capabilities)
	if err != nil {
		return nil, classifyError(err)
	}
	return result, nil
}

// Call issues an outbound request to the server and returns its raw JSON
// result; decode it with protocol.RawUnmarshal into whatever shape the
// method's result takes.
func (c *Client) Call(ctx context.Context, method string, params any, deadline time.Duration) ([]byte, error) {
	raw, err := c.sess.Call(ctx, method, params, deadline)
	if err != nil {
		return nil, classifyError(err)
	}
	return raw, nil
}

// Notify sends a one-way notification to the server.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := c.sess.Notify(ctx, method, params); err != nil {
		return classifyError(err)
	}
	return nil
}

// Close tears down the underlying session and transport.
func (c *Client) Close() error { return c.sess.Close() }

// LifecycleState exposes the session's current lifecycle.State.
func (c *Client) LifecycleState() lifecycle.State { return c.sess.LifecycleState() }
