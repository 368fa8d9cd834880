// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mcprt/core/protocol"
)

// SessionIDHeader is the header both sides use to bind requests to a
// streamable-HTTP logical session (spec.md §6).
const SessionIDHeader = "Mcp-Session-Id"

// NewSessionID mints an opaque, unguessable session identifier.
func NewSessionID() string {
	var b [18]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("transport: reading random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ServerHandlerOptions configures NewHandler.
type ServerHandlerOptions struct {
	// RateLimiter, if non-nil, is consulted for every request once a
	// session is known; over-limit requests get a 429 and never touch
	// session state (spec.md §4.2.2).
	RateLimiter *SessionRateLimiter
	// CORS, if true, answers OPTIONS preflights and advertises the
	// three HTTP methods plus the session header (spec.md §4.2.2 CORS).
	CORS bool
}

// Handler is an http.Handler that serves streamable-HTTP MCP sessions, one
// ServerTransport per Mcp-Session-Id, directly adapted from the teacher's
// StreamableHTTPHandler/StreamableServerTransport (mcp/streamable.go),
// generalized onto this module's Transport interface.
type Handler struct {
	newTransport func(*http.Request) (*ServerTransport, error)
	opts         ServerHandlerOptions

	mu       sync.Mutex
	sessions map[string]*ServerTransport
}

// NewHandler returns a Handler. newTransport is called once per new
// session (no Mcp-Session-Id header on the request) to mint the
// ServerTransport that will own that session; callers typically close over
// their dispatcher/session wiring here.
func NewHandler(newTransport func(*http.Request) (*ServerTransport, error), opts *ServerHandlerOptions) *Handler {
	h := &Handler{newTransport: newTransport, sessions: make(map[string]*ServerTransport)}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// CloseAll closes every open session, e.g. on server shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		s.Close()
	}
	h.sessions = nil
}

// SessionIDs returns the ids of every session currently registered, for the
// engine layer's idle-expiry sweep (spec.md §3).
func (h *Handler) SessionIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseSession closes and forgets the session with the given id, e.g. once
// the engine's idle reaper decides it has gone stale. It reports whether a
// session with that id was found.
func (h *Handler) CloseSession(id string) bool {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.opts.CORS && req.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", SessionIDHeader+", Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	accept := strings.Split(strings.Join(req.Header.Values("Accept"), ","), ",")
	var jsonOK, streamOK bool
	for _, c := range accept {
		switch strings.TrimSpace(c) {
		case "application/json":
			jsonOK = true
		case "text/event-stream":
			streamOK = true
		}
	}
	if req.Method == http.MethodGet {
		if !streamOK {
			http.Error(w, "Accept must contain 'text/event-stream' for GET requests", http.StatusBadRequest)
			return
		}
	} else if req.Method == http.MethodPost && (!jsonOK || !streamOK) {
		http.Error(w, "Accept must contain both 'application/json' and 'text/event-stream'", http.StatusBadRequest)
		return
	}

	var sess *ServerTransport
	if id := req.Header.Get(SessionIDHeader); id != "" {
		h.mu.Lock()
		sess = h.sessions[id]
		h.mu.Unlock()
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if h.opts.RateLimiter != nil && !h.opts.RateLimiter.Allow(id) {
			RejectTooManyRequests(w, h.opts.RateLimiter.refill)
			return
		}
	}

	if req.Method == http.MethodDelete {
		if sess == nil {
			http.Error(w, "DELETE requires an "+SessionIDHeader+" header", http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		delete(h.sessions, sess.id)
		h.mu.Unlock()
		if h.opts.RateLimiter != nil {
			h.opts.RateLimiter.Forget(sess.id)
		}
		sess.Close()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch req.Method {
	case http.MethodPost, http.MethodGet:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}

	if sess == nil {
		s, err := h.newTransport(req)
		if err != nil {
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}
		h.mu.Lock()
		h.sessions[s.id] = s
		h.mu.Unlock()
		sess = s
	}

	sess.ServeHTTP(w, req)
}

// streamID distinguishes logical HTTP connections within one session: 0 is
// the long-lived GET channel, and each POST gets a fresh positive id.
type streamID int64

type streamableMsg struct {
	idx   int
	event event
}

// ServerTransport implements Transport for a single streamable-HTTP logical
// session, directly adapted from the teacher's StreamableServerTransport
// (mcp/streamable.go): per-logical-stream outgoing message logs keyed by
// streamID, SSE resumption via Last-Event-ID, and POST/GET accounting.
type ServerTransport struct {
	id string

	nextStreamID atomic.Int64
	incoming     chan *protocol.Envelope

	mu               sync.Mutex
	isDone           bool
	done             chan struct{}
	outgoingMessages map[streamID][]*streamableMsg
	signals          map[streamID]chan struct{}
	requestStreams   map[string]streamID // keyed by protocol.ID.String()
	streamRequests   map[streamID]map[string]struct{}
}

// NewServerTransport returns a new ServerTransport bound to sessionID.
func NewServerTransport(sessionID string) *ServerTransport {
	return &ServerTransport{
		id:               sessionID,
		incoming:         make(chan *protocol.Envelope, 16),
		done:             make(chan struct{}),
		outgoingMessages: make(map[streamID][]*streamableMsg),
		signals:          make(map[streamID]chan struct{}),
		requestStreams:   make(map[string]streamID),
		streamRequests:   make(map[streamID]map[string]struct{}),
	}
}

// SessionID implements transport.SessionIdentified.
func (t *ServerTransport) SessionID() string { return t.id }

func (t *ServerTransport) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		t.serveGET(w, req)
	case http.MethodPost:
		t.servePOST(w, req)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

func (t *ServerTransport) serveGET(w http.ResponseWriter, req *http.Request) {
	id, nextIdx := streamID(0), 0
	if eid := req.Header.Get("Last-Event-ID"); eid != "" {
		var ok bool
		id, nextIdx, ok = parseEventID(eid)
		if !ok {
			http.Error(w, fmt.Sprintf("malformed Last-Event-ID %q", eid), http.StatusBadRequest)
			return
		}
		nextIdx++
	}

	t.mu.Lock()
	if _, ok := t.signals[id]; ok {
		t.mu.Unlock()
		http.Error(w, "stream ID conflicts with ongoing stream", http.StatusBadRequest)
		return
	}
	signal := make(chan struct{}, 1)
	t.signals[id] = signal
	t.mu.Unlock()

	t.streamResponse(w, req, id, nextIdx, signal)
}

func (t *ServerTransport) servePOST(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Last-Event-ID") != "" {
		http.Error(w, "can't send Last-Event-ID for POST request", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "POST requires a non-empty body", http.StatusBadRequest)
		return
	}
	env, err := protocol.Decode(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed payload: %v", err), http.StatusBadRequest)
		return
	}

	id := streamID(t.nextStreamID.Add(1))
	signal := make(chan struct{}, 1)
	t.mu.Lock()
	if env.IsRequest() {
		t.streamRequests[id] = map[string]struct{}{env.ID.String(): {}}
		t.requestStreams[env.ID.String()] = id
	}
	t.signals[id] = signal
	t.mu.Unlock()

	t.incoming <- env

	t.streamResponse(w, req, id, 0, signal)
}

func (t *ServerTransport) streamResponse(w http.ResponseWriter, req *http.Request, id streamID, nextIndex int, signal chan struct{}) {
	defer func() {
		t.mu.Lock()
		delete(t.signals, id)
		t.mu.Unlock()
	}()

	if nextIndex > 0 {
		t.mu.Lock()
		if outgoing := t.outgoingMessages[id]; nextIndex > len(outgoing) {
			nextIndex = len(outgoing)
		}
		t.mu.Unlock()
	}

	w.Header().Set(SessionIDHeader, t.id)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")

	writes := 0
	for {
		t.mu.Lock()
		outgoing := t.outgoingMessages[id][nextIndex:]
		t.mu.Unlock()

		for _, msg := range outgoing {
			if _, err := writeEvent(w, msg.event); err != nil {
				return
			}
			writes++
			nextIndex++
		}

		t.mu.Lock()
		nOutstanding := len(t.streamRequests[id])
		nOutgoing := len(t.outgoingMessages[id])
		t.mu.Unlock()

		if nextIndex < nOutgoing {
			continue
		}
		if req.Method == http.MethodPost && nOutstanding == 0 {
			if writes == 0 {
				w.WriteHeader(http.StatusAccepted)
			}
			return
		}

		select {
		case <-signal:
		case <-t.done:
			if writes == 0 {
				http.Error(w, "session terminated", http.StatusGone)
			}
			return
		case <-req.Context().Done():
			if writes == 0 {
				w.WriteHeader(http.StatusNoContent)
			}
			return
		}
	}
}

func formatEventID(sid streamID, idx int) string {
	return fmt.Sprintf("%d_%d", sid, idx)
}

func parseEventID(eventID string) (sid streamID, idx int, ok bool) {
	parts := strings.SplitN(eventID, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || n < 0 {
		return 0, 0, false
	}
	i, err := strconv.Atoi(parts[1])
	if err != nil || i < 0 {
		return 0, 0, false
	}
	return streamID(n), i, true
}

// Receive implements Transport.
func (t *ServerTransport) Receive(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		return env, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// Send implements Transport, routing env to the default GET channel
// (streamID 0). Responses to a specific POST should use SendForRequest
// instead, so they ride back on that POST's own HTTP response rather than
// waiting on the GET channel.
func (t *ServerTransport) Send(ctx context.Context, env *protocol.Envelope) error {
	return t.send(env, 0)
}

// SendForRequest is an optional extension beyond the Transport interface: it
// routes env (typically env's own response, or a server-to-client request or
// progress notification issued while handling forRequest) back over the HTTP
// stream that is currently waiting on forRequest, per spec.md §6's reuse of
// the POST response channel. Session implementations type-assert for this
// method and fall back to Send when the transport doesn't offer it.
func (t *ServerTransport) SendForRequest(ctx context.Context, env *protocol.Envelope, forRequest protocol.ID) error {
	key := ""
	if env.IsResponse() {
		key = env.ID.String()
	} else if forRequest.IsValid() {
		key = forRequest.String()
	}

	t.mu.Lock()
	var forConn streamID
	if key != "" {
		forConn = t.requestStreams[key]
	}
	t.mu.Unlock()
	return t.send(env, forConn)
}

func (t *ServerTransport) send(env *protocol.Envelope, forConn streamID) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isDone {
		return ErrClosed
	}
	if _, ok := t.streamRequests[forConn]; !ok && forConn != 0 {
		forConn = 0
	}

	idx := len(t.outgoingMessages[forConn])
	t.outgoingMessages[forConn] = append(t.outgoingMessages[forConn], &streamableMsg{
		idx: idx,
		event: event{
			id:   formatEventID(forConn, idx),
			data: data,
		},
	})
	if env.IsResponse() {
		delete(t.streamRequests[forConn], env.ID.String())
		if len(t.streamRequests[forConn]) == 0 {
			delete(t.streamRequests, forConn)
		}
	}
	if c, ok := t.signals[forConn]; ok {
		select {
		case c <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close implements Transport.
func (t *ServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isDone {
		t.isDone = true
		close(t.done)
	}
	return nil
}

// Done implements Transport.
func (t *ServerTransport) Done() <-chan struct{} { return t.done }
