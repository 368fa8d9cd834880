// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package lifecycle implements the three-phase MCP lifecycle state machine
// shared by both client and server views of a session, per spec.md §4.4.
package lifecycle

import (
	"fmt"
	"sync"
)

// State is one of the six lifecycle states.
type State int

const (
	Uninitialized State = iota
	Initializing
	Initialized
	Operating
	ShuttingDown
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case Operating:
		return "operating"
	case ShuttingDown:
		return "shutting_down"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Side distinguishes which peer's view a Machine represents: the client
// initiates "initialize" and sends "notifications/initialized"; the server
// receives both. The transitions are otherwise symmetric (spec.md §4.4
// table).
type Side int

const (
	Client Side = iota
	Server
)

// Machine is a mutex-guarded lifecycle state holder. It does not itself send
// or receive any message; callers drive it from the session's reader/writer
// loops and query it before acting, per invariant I1.
type Machine struct {
	side Side

	mu        sync.Mutex
	state     State
	initBegun bool
}

// New returns a Machine in state Uninitialized for the given side.
func New(side Side) *Machine {
	return &Machine{side: side, state: Uninitialized}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TransportOpened transitions Uninitialized -> Initializing. It is a no-op
// (returns nil) if already past Uninitialized, since transport-open is not
// independently observable by both peers in all transports.
func (m *Machine) TransportOpened() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Uninitialized {
		m.state = Initializing
	}
	return nil
}

// BeginInitialize records that an "initialize" request has been sent
// (client) or received (server). It is a protocol violation to call this
// twice (invariant I2): the second call returns an error.
func (m *Machine) BeginInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initBegun {
		return fmt.Errorf("lifecycle: duplicate initialize request (state is %s)", m.state)
	}
	switch m.state {
	case Uninitialized, Initializing:
		m.initBegun = true
		m.state = Initializing
		return nil
	default:
		return fmt.Errorf("lifecycle: duplicate initialize request (state is %s)", m.state)
	}
}

// CompleteInitialize transitions Initializing -> Initialized, once the
// initialize response has been sent (server) or received (client).
func (m *Machine) CompleteInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initializing {
		return fmt.Errorf("lifecycle: unexpected initialize completion in state %s", m.state)
	}
	m.state = Initialized
	return nil
}

// BeginOperating transitions Initialized -> Operating, triggered by sending
// (client) or receiving (server) notifications/initialized.
func (m *Machine) BeginOperating() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Initialized {
		return fmt.Errorf("lifecycle: notifications/initialized received out of order in state %s", m.state)
	}
	m.state = Operating
	return nil
}

// BeginShutdown transitions Operating -> ShuttingDown.
func (m *Machine) BeginShutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed || m.state == ShuttingDown {
		return nil
	}
	m.state = ShuttingDown
	return nil
}

// Close transitions unconditionally to Closed, from any state, matching the
// "any -> Closed on transport fatal error" row of spec.md's table.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Closed
}

// AllowsOutbound implements invariant I1: no method other than "initialize"
// may be sent before Operating, except "ping" which is allowed from
// Initialized onward.
func (m *Machine) AllowsOutbound(method string) bool {
	m.mu.Lock()
	s := m.state
	m.mu.Unlock()
	return allows(s, method)
}

// AllowsInbound applies the same gate to a received request. The MCP spec
// treats both directions symmetrically once Operating is reached; during
// the handshake only the side that is expected to act may do so, which is
// enforced by BeginInitialize/BeginOperating rather than here.
func (m *Machine) AllowsInbound(method string) bool {
	return m.AllowsOutbound(method)
}

func allows(s State, method string) bool {
	if method == "initialize" {
		return s == Uninitialized || s == Initializing
	}
	if method == "ping" {
		return s == Initialized || s == Operating
	}
	return s == Operating
}
