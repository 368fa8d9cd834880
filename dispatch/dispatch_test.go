// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/protocol"
)

type fakePeer struct {
	own, peer *capability.Set
	level     LogLevel
}

func (f *fakePeer) Notify(ctx context.Context, method string, params any) error { return nil }
func (f *fakePeer) Call(ctx context.Context, method string, params any, deadline time.Duration) (protocol.RawMessage, error) {
	return nil, nil
}
func (f *fakePeer) PeerCapabilities() *capability.Set { return f.peer }
func (f *fakePeer) OwnCapabilities() *capability.Set  { return f.own }
func (f *fakePeer) SessionID() string                 { return "" }
func (f *fakePeer) LogLevel() LogLevel                { return f.level }
func (f *fakePeer) SetLogLevel(l LogLevel)            { f.level = l }

func TestDispatchUnknownMethod(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	call := &Call{Peer: &fakePeer{own: &capability.Set{}}, Method: "tools/call"}
	_, rerr := reg.Dispatch(context.Background(), call)
	if rerr == nil || rerr.Code != protocol.CodeMethodNotFound {
		t.Fatalf("Dispatch(unknown) = %v, want MethodNotFound", rerr)
	}
}

func TestDispatchCapabilityGate(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	reg.Register("resources/subscribe", Registration{
		RequiredFeature: capability.FeatureResourcesSubscribe,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return map[string]any{}, nil
		},
	})

	noSub := &fakePeer{own: &capability.Set{Resources: &capability.ResourcesCapability{Subscribe: false}}}
	_, rerr := reg.Dispatch(context.Background(), &Call{Peer: noSub, Method: "resources/subscribe"})
	if rerr == nil || rerr.Code != protocol.CodeMethodNotFound {
		t.Fatalf("Dispatch without capability = %v, want MethodNotFound", rerr)
	}

	withSub := &fakePeer{own: &capability.Set{Resources: &capability.ResourcesCapability{Subscribe: true}}}
	_, rerr = reg.Dispatch(context.Background(), &Call{Peer: withSub, Method: "resources/subscribe"})
	if rerr != nil {
		t.Fatalf("Dispatch with capability failed: %v", rerr)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	reg.Register("tools/call", Registration{Handler: func(ctx context.Context, call *Call) (any, error) {
		panic("boom")
	}})
	_, rerr := reg.Dispatch(context.Background(), &Call{Peer: &fakePeer{own: &capability.Set{}}, Method: "tools/call"})
	if rerr == nil || rerr.Code != protocol.CodeInternalError {
		t.Fatalf("Dispatch(panicking handler) = %v, want InternalError", rerr)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	codec, err := NewCursorCodec(nil)
	if err != nil {
		t.Fatal(err)
	}
	cur := codec.Encode(42)
	off, err := codec.Decode(cur)
	if err != nil || off != 42 {
		t.Fatalf("Decode(Encode(42)) = %d, %v", off, err)
	}
}

func TestCursorRejectsForeign(t *testing.T) {
	codec1, _ := NewCursorCodec(nil)
	codec2, _ := NewCursorCodec(nil)
	cur := codec1.Encode(7)
	if _, err := codec2.Decode(cur); err != ErrUnknownCursor {
		t.Fatalf("Decode(foreign cursor) = %v, want ErrUnknownCursor", err)
	}
}

func TestTypedToolValidatesArgs(t *testing.T) {
	type echoArgs struct {
		Message string `json:"message"`
	}
	desc, handler, err := NewTypedTool("echo", "echoes the message", func(ctx context.Context, call *Call, args echoArgs) (string, error) {
		return args.Message, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if desc.Name != "echo" {
		t.Fatalf("desc.Name = %q", desc.Name)
	}
	call := &Call{Peer: &fakePeer{own: &capability.Set{}}, Params: protocol.RawMessage(`{"message":"hi"}`)}
	out, err := handler(context.Background(), call)
	if err != nil {
		t.Fatal(err)
	}
	if out.(string) != "hi" {
		t.Fatalf("out = %v, want hi", out)
	}

	badCall := &Call{Peer: &fakePeer{own: &capability.Set{}}, Params: protocol.RawMessage(`{"message":"hi","extra":1}`)}
	if _, err := handler(context.Background(), badCall); err == nil {
		t.Fatal("expected error for unknown field in arguments")
	}
}

func TestTimeoutPolicyDefaults(t *testing.T) {
	p := DefaultTimeoutPolicy()
	if p.For("tools/call") != 60*time.Second {
		t.Fatalf("tools/call timeout = %v", p.For("tools/call"))
	}
	if p.For("ping") != 5*time.Second {
		t.Fatalf("ping timeout = %v", p.For("ping"))
	}
	if p.For("unknown/method") != p.Default {
		t.Fatalf("unknown method timeout = %v, want default", p.For("unknown/method"))
	}
}
