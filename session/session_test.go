// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/dispatch"
	"github.com/mcprt/core/lifecycle"
	"github.com/mcprt/core/protocol"
	"github.com/mcprt/core/transport"
)

func pipePair(t *testing.T) (transport.Transport, transport.Transport) {
	t.Helper()
	a, b := net.Pipe()
	return transport.NewStreamTransport(a, 0), transport.NewStreamTransport(b, 0)
}

func newTestRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	reg, err := dispatch.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestHandshakeAndEcho(t *testing.T) {
	clientT, serverT := pipePair(t)

	clientCaps := &capability.Set{}
	serverCaps := &capability.Set{Tools: &capability.ToolsCapability{}}

	clientReg := newTestRegistry(t)
	serverReg := newTestRegistry(t)
	serverReg.Register("tools/call", dispatch.Registration{
		RequiredFeature: capability.FeatureToolsCall,
		Handler: func(ctx context.Context, call *dispatch.Call) (any, error) {
			return map[string]any{"echoed": true}, nil
		},
	})

	client := New(clientT, lifecycle.Client, clientReg, clientCaps, nil)
	server := New(serverT, lifecycle.Server, serverReg, serverCaps, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go server.Run(ctx)
	go client.Run(ctx)
	defer client.Close()
	defer server.Close()

	result, err := client.Initialize(ctx, &Implementation{Name: "test-client", Version: "0.0.1"}, clientCaps)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if result.ProtocolVersion != protocol.ProtocolRevision {
		t.Fatalf("got protocol version %q, want %q", result.ProtocolVersion, protocol.ProtocolRevision)
	}
	if client.LifecycleState() != lifecycle.Operating {
		t.Fatalf("got client state %s, want Operating", client.LifecycleState())
	}

	deadline := time.Now().Add(time.Second)
	for server.LifecycleState() != lifecycle.Operating && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.LifecycleState() != lifecycle.Operating {
		t.Fatalf("got server state %s, want Operating", server.LifecycleState())
	}

	raw, err := client.Call(ctx, "tools/call", map[string]any{"name": "noop"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got struct {
		Echoed bool `json:"echoed"`
	}
	if err := protocol.RawUnmarshal(raw, &got); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !got.Echoed {
		t.Fatal("expected echoed=true in tool result")
	}
}

func TestCallRejectedBeforeOperating(t *testing.T) {
	clientT, serverT := pipePair(t)
	defer serverT.Close()

	client := New(clientT, lifecycle.Client, newTestRegistry(t), &capability.Set{}, nil)
	defer client.Close()

	_, err := client.Call(context.Background(), "tools/call", nil, time.Second)
	if err == nil {
		t.Fatal("expected Call to be rejected before initialize completes")
	}
}

func TestVersionMismatchClosesSession(t *testing.T) {
	clientT, serverT := pipePair(t)

	client := New(clientT, lifecycle.Client, newTestRegistry(t), &capability.Set{}, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go client.Run(ctx)

	// Fake a server that always proposes an unsupported protocol version.
	go func() {
		env, err := serverT.Receive(ctx)
		if err != nil {
			return
		}
		result := &InitializeResult{
			ProtocolVersion: "1999-01-01",
			Capabilities:    &capability.Set{},
			ServerInfo:      &Implementation{Name: "bad-server"},
		}
		raw, _ := protocol.RawMarshal(result)
		serverT.Send(ctx, protocol.NewResultResponse(env.ID, raw))
	}()

	_, err := client.Initialize(ctx, &Implementation{Name: "test-client"}, &capability.Set{})
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if client.LifecycleState() != lifecycle.Closed {
		t.Fatalf("got state %s, want Closed after version mismatch", client.LifecycleState())
	}
}
