// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcprt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/dispatch"
	"github.com/mcprt/core/transport"
)

func newRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	reg, err := dispatch.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestClientServerHandshakeAndCall(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	clientT := transport.NewStreamTransport(clientConn, 0)
	serverT := transport.NewStreamTransport(serverConn, 0)

	serverReg := newRegistry(t)
	serverReg.Register("tools/call", dispatch.Registration{
		RequiredFeature: capability.FeatureToolsCall,
		Handler: func(ctx context.Context, call *dispatch.Call) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	srv := NewServer(Implementation{Name: "test-server", Version: "0.1.0"},
		&capability.Set{Tools: &capability.ToolsCapability{}}, serverReg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go srv.ServeStream(ctx, serverT)

	client := NewClient(Implementation{Name: "test-client", Version: "0.1.0"}, &capability.Set{}, newRegistry(t))
	result, err := client.Connect(ctx, clientT)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if result.ServerInfo.Name != "test-server" {
		t.Fatalf("got server name %q, want test-server", result.ServerInfo.Name)
	}

	raw, err := client.Call(ctx, "tools/call", map[string]any{"name": "noop"}, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected a non-empty result")
	}
}

func TestCallErrorClassifiesNotSupported(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	clientT := transport.NewStreamTransport(clientConn, 0)
	serverT := transport.NewStreamTransport(serverConn, 0)

	srv := NewServer(Implementation{Name: "s", Version: "0"}, &capability.Set{}, newRegistry(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go srv.ServeStream(ctx, serverT)

	client := NewClient(Implementation{Name: "c", Version: "0"}, &capability.Set{}, newRegistry(t))
	if _, err := client.Connect(ctx, clientT); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	_, err := client.Call(ctx, "tools/call", nil, time.Second)
	if err == nil {
		t.Fatal("expected an error calling an unregistered method")
	}
	ce, ok := err.(*CallError)
	if !ok {
		t.Fatalf("got error of type %T, want *CallError", err)
	}
	if ce.Kind != HandlerError {
		t.Fatalf("got kind %s, want %s", ce.Kind, HandlerError)
	}
}
