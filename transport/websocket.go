// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcprt/core/protocol"
)

// wsSubprotocol is the WebSocket subprotocol name this runtime negotiates,
// distinguishing MCP traffic from unrelated WebSocket use of the same port.
const wsSubprotocol = "mcp"

// WebSocketTransport implements Transport over a single gorilla/websocket
// connection, directly adapted from the teacher's websocketConn
// (mcp/websocket.go). It is an additional transport beyond the two spec.md
// §4.2 requires (stream, streamable-HTTP), supplementing the ecosystem per
// SPEC_FULL.md §4.2.3.
type WebSocketTransport struct {
	conn      *websocket.Conn
	sessionID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	incoming  chan readResult
}

func newWebSocketTransport(conn *websocket.Conn, sessionID string) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:      conn,
		sessionID: sessionID,
		done:      make(chan struct{}),
		incoming:  make(chan readResult, 16),
	}
	go t.readLoop()
	return t
}

// DialWebSocket opens a client-side WebSocketTransport to url (ws:// or
// wss://). dialer may be nil to use websocket.DefaultDialer.
func DialWebSocket(ctx context.Context, url string, dialer *websocket.Dialer, header http.Header) (*WebSocketTransport, error) {
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	dialer.Subprotocols = []string{wsSubprotocol}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	return newWebSocketTransport(conn, NewSessionID()), nil
}

// SessionID implements SessionIdentified.
func (t *WebSocketTransport) SessionID() string { return t.sessionID }

func (t *WebSocketTransport) readLoop() {
	defer close(t.incoming)
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case t.incoming <- readResult{err: fmt.Errorf("transport: websocket read: %w", err)}:
			case <-t.done:
			}
			return
		}
		if messageType != websocket.TextMessage {
			select {
			case t.incoming <- readResult{err: fmt.Errorf("transport: unexpected websocket frame type %d", messageType)}:
			case <-t.done:
				return
			}
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			select {
			case t.incoming <- readResult{err: err}:
			case <-t.done:
				return
			}
			continue
		}
		select {
		case t.incoming <- readResult{env: env}:
		case <-t.done:
			return
		}
	}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encoding envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

// Receive implements Transport.
func (t *WebSocketTransport) Receive(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	case res, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		if res.err != nil {
			return nil, res.err
		}
		return res.env, nil
	}
}

// Close implements Transport.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

// Done implements Transport.
func (t *WebSocketTransport) Done() <-chan struct{} { return t.done }

// WebSocketUpgrader upgrades incoming HTTP requests to WebSocketTransport
// sessions, checking for the "mcp" subprotocol. onAccept, if set, is
// called with each freshly-accepted transport.
type WebSocketUpgrader struct {
	upgrader    websocket.Upgrader
	onAccept    func(*WebSocketTransport)
	checkOrigin func(*http.Request) bool
}

// NewWebSocketUpgrader returns an upgrader that invokes onAccept for each
// accepted connection. checkOrigin may be nil to allow all origins;
// production deployments behind a browser-facing endpoint SHOULD supply
// one, since WebSocket connections are not covered by CORS.
func NewWebSocketUpgrader(onAccept func(*WebSocketTransport), checkOrigin func(*http.Request) bool) *WebSocketUpgrader {
	u := &WebSocketUpgrader{onAccept: onAccept, checkOrigin: checkOrigin}
	u.upgrader = websocket.Upgrader{
		Subprotocols: []string{wsSubprotocol},
		CheckOrigin: func(r *http.Request) bool {
			if u.checkOrigin == nil {
				return true
			}
			return u.checkOrigin(r)
		},
	}
	return u
}

func (u *WebSocketUpgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
		return
	}
	t := newWebSocketTransport(conn, NewSessionID())
	if u.onAccept != nil {
		u.onAccept(t)
	}
}
