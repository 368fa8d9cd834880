// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcprt/core/protocol"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewStreamTransport(pipeConn{a}, 0)
	server := NewStreamTransport(pipeConn{b}, 0)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := protocol.NewRequest(protocol.StringID("1"), "ping", nil)
	go func() {
		if err := client.Send(ctx, req); err != nil {
			t.Errorf("client.Send: %v", err)
		}
	}()

	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("server.Receive: %v", err)
	}
	if got.Method != "ping" {
		t.Fatalf("got method %q, want ping", got.Method)
	}
}

// pipeConn adapts net.Conn to io.ReadWriteCloser (already satisfied, this
// wrapper only exists for clarity at call sites above).
type pipeConn struct{ net.Conn }

func TestStreamTransportReceiveUnblocksOnClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	client := NewStreamTransport(pipeConn{a}, 0)

	done := make(chan error, 1)
	go func() {
		_, err := client.Receive(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		if err != ErrClosed && err != io.EOF {
			t.Fatalf("got %v, want ErrClosed or io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}

func TestStreamTransportMalformedLineIsNotFatal(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewStreamTransport(pipeConn{a}, 0)
	server := NewStreamTransport(pipeConn{b}, 0)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		client.w.Write([]byte("not json\n"))
		env := protocol.NewNotification("ok", nil)
		data, _ := protocol.Encode(env)
		client.w.Write(append(data, '\n'))
	}()

	if _, err := server.Receive(ctx); err == nil {
		t.Fatal("expected decode error for malformed line")
	}
	env, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive after malformed line: %v", err)
	}
	if env.Method != "ok" {
		t.Fatalf("got method %q, want ok", env.Method)
	}
}

func TestSessionRateLimiter(t *testing.T) {
	l := NewSessionRateLimiter(time.Hour, 2)
	if !l.Allow("s1") || !l.Allow("s1") {
		t.Fatal("expected first two requests within burst to be allowed")
	}
	if l.Allow("s1") {
		t.Fatal("expected third request to be rate-limited")
	}
	if !l.Allow("s2") {
		t.Fatal("expected a different session to have its own bucket")
	}
	l.Forget("s1")
	if !l.Allow("s1") {
		t.Fatal("expected forgotten session to get a fresh bucket")
	}
}

func TestStreamableHTTPSessionLifecycle(t *testing.T) {
	server := NewServerTransport("sess-1")
	defer server.Close()

	ts := httptest.NewServer(server)
	defer ts.Close()

	req := protocol.NewRequest(protocol.StringID("1"), "ping", nil)
	data, err := protocol.Encode(req)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		env, err := server.Receive(ctx)
		if err != nil {
			t.Errorf("server.Receive: %v", err)
			return
		}
		resp := protocol.NewResultResponse(env.ID, protocol.RawMessage(`{"ok":true}`))
		if err := server.SendForRequest(ctx, resp, env.ID); err != nil {
			t.Errorf("SendForRequest: %v", err)
		}
	}()

	httpReq, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get(SessionIDHeader) != "sess-1" {
		t.Fatalf("got session header %q, want sess-1", resp.Header.Get(SessionIDHeader))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	env, err := protocol.Decode(extractSSEData(body))
	if err != nil {
		t.Fatalf("decoding SSE payload: %v", err)
	}
	if env.Result == nil {
		t.Fatal("expected a result in the response event")
	}
}

// extractSSEData pulls the JSON payload out of the single "data: ..." line
// of a minimal SSE frame, for test assertions only.
func extractSSEData(frame []byte) []byte {
	const prefix = "data: "
	for _, line := range bytes.Split(frame, []byte("\n")) {
		if bytes.HasPrefix(line, []byte(prefix)) {
			return bytes.TrimPrefix(line, []byte(prefix))
		}
	}
	return nil
}
