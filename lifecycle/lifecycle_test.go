// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package lifecycle

import "testing"

func TestHappyPath(t *testing.T) {
	m := New(Client)
	if m.State() != Uninitialized {
		t.Fatalf("initial state = %s", m.State())
	}
	if err := m.BeginInitialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.CompleteInitialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.BeginOperating(); err != nil {
		t.Fatal(err)
	}
	if m.State() != Operating {
		t.Fatalf("state = %s, want operating", m.State())
	}
}

func TestDuplicateInitializeRejected(t *testing.T) {
	m := New(Server)
	if err := m.BeginInitialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.CompleteInitialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.BeginOperating(); err != nil {
		t.Fatal(err)
	}
	if err := m.BeginInitialize(); err == nil {
		t.Fatal("second initialize should be rejected (invariant I2)")
	}
}

func TestGateBeforeOperating(t *testing.T) {
	m := New(Client)
	if m.AllowsOutbound("tools/call") {
		t.Fatal("tools/call should be refused before Operating (I1)")
	}
	if !m.AllowsOutbound("initialize") {
		t.Fatal("initialize should be allowed from Uninitialized")
	}
	if m.AllowsOutbound("ping") {
		t.Fatal("ping should not be allowed before Initialized")
	}
	m.BeginInitialize()
	m.CompleteInitialize()
	if !m.AllowsOutbound("ping") {
		t.Fatal("ping should be allowed once Initialized")
	}
}

func TestCloseFromAnyState(t *testing.T) {
	for _, s := range []State{Uninitialized, Initializing, Initialized, Operating, ShuttingDown} {
		m := New(Client)
		m.state = s
		m.Close()
		if m.State() != Closed {
			t.Fatalf("from %s: Close() left state %s", s, m.State())
		}
	}
}
