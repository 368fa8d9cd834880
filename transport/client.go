// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcprt/core/protocol"
)

// retryableStatus is the set of HTTP statuses the client treats as
// transient, per SPEC_FULL.md's resolution of the retry-policy Open
// Question: 408, 425, 429, and the 5xx statuses a well-behaved origin uses
// for backpressure or restart.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// httpStatusError wraps a non-2xx HTTP response so callers can classify it
// for retry purposes without string-matching the error text.
type httpStatusError struct {
	StatusCode int
	Err        error
}

func (e *httpStatusError) Error() string { return e.Err.Error() }
func (e *httpStatusError) Unwrap() error { return e.Err }

// nonIdempotentMethods lists requests whose retry would risk a duplicate
// side effect: initialize is a one-time handshake, and the rest invoke
// handler-defined business logic. Per spec.md §4.2.2/§7, only ping and
// idempotent list/read methods are safe to retry after a transient failure;
// everything else fails fast on the first error instead.
var nonIdempotentMethods = map[string]bool{
	"initialize":             true,
	"tools/call":             true,
	"resources/subscribe":    true,
	"resources/unsubscribe":  true,
	"sampling/createMessage": true,
	"elicitation/create":     true,
	"completion/complete":    true,
	"logging/setLevel":       true,
}

// isIdempotentMethod reports whether method is safe to retry blindly: the
// keepalive ping, and the read-only list/get/read methods.
func isIdempotentMethod(method string) bool {
	if nonIdempotentMethods[method] {
		return false
	}
	switch {
	case method == "ping":
		return true
	case method == "resources/read", method == "prompts/get":
		return true
	case strings.HasSuffix(method, "/list"):
		return true
	default:
		return false
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus[statusErr.StatusCode]
	}
	return false
}

// jitteredBackoff returns backoffDuration plus up to half of it in random
// jitter, using crypto/rand so the client never needs an un-seedable PRNG
// held across goroutines.
func jitteredBackoff(backoff time.Duration) time.Duration {
	if backoff <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(backoff/2)+1))
	if err != nil {
		return backoff
	}
	return backoff + time.Duration(n.Int64())
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Pool provides shared *http.Client values per origin. If nil, a
	// package-private default pool is used.
	Pool *ClientPool
	// MaxRetries bounds retry attempts for both message POSTs and the
	// hanging GET stream. Zero means no retries.
	MaxRetries int
	// InitialBackoff is the base retry delay; it doubles per attempt up to
	// a 30s ceiling, matching the teacher's exponential-backoff-with-jitter
	// policy.
	InitialBackoff time.Duration
}

var defaultPool = NewClientPool(5*time.Minute, 64)

// ClientTransport implements Transport against a streamable-HTTP endpoint,
// directly adapted from the teacher's streamableClientConn
// (mcp/streamable.go): a background writer drains pendingMessages onto POST
// requests and a background reader maintains the resumable hanging-GET SSE
// stream, both sharing the session id established by the first POST.
type ClientTransport struct {
	url  string
	opts ClientOptions

	client *http.Client

	sessionID atomic.Value // string

	pending  chan *protocol.Envelope
	incoming chan readResult

	mu          sync.Mutex
	lastEventID string
	closeErr    error

	closeOnce sync.Once
	done      chan struct{}
}

// NewClientTransport dials url (a streamable-HTTP endpoint) and begins
// background message delivery immediately; the logical MCP session is
// established lazily, on the first Send.
func NewClientTransport(url string, opts *ClientOptions) (*ClientTransport, error) {
	t := &ClientTransport{
		url:      url,
		pending:  make(chan *protocol.Envelope, 64),
		incoming: make(chan readResult, 64),
		done:     make(chan struct{}),
	}
	if opts != nil {
		t.opts = *opts
	}
	if t.opts.InitialBackoff <= 0 {
		t.opts.InitialBackoff = time.Second
	}
	pool := t.opts.Pool
	if pool == nil {
		pool = defaultPool
	}
	client, err := pool.Acquire(url)
	if err != nil {
		return nil, fmt.Errorf("transport: acquiring http client: %w", err)
	}
	t.client = client
	t.sessionID.Store("")

	go t.writeLoop()
	go t.readLoop()
	return t, nil
}

// SessionID implements SessionIdentified, once the first POST has
// established a logical session.
func (t *ClientTransport) SessionID() string { return t.sessionID.Load().(string) }

// Send implements Transport.
func (t *ClientTransport) Send(ctx context.Context, env *protocol.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closeErr != nil {
			return t.closeErr
		}
		return ErrClosed
	case t.pending <- env:
		return nil
	}
}

// Receive implements Transport.
func (t *ClientTransport) Receive(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closeErr != nil {
			return nil, t.closeErr
		}
		return nil, io.EOF
	case res, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		return res.env, res.err
	}
}

// Close implements Transport: it stops both background loops and issues a
// DELETE to terminate the logical session server-side, per spec.md §6.
func (t *ClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if sid, _ := t.sessionID.Load().(string); sid != "" {
			req, err := http.NewRequest(http.MethodDelete, t.url, nil)
			if err == nil {
				req.Header.Set(SessionIDHeader, sid)
				resp, err := t.client.Do(req)
				if err == nil {
					resp.Body.Close()
				}
			}
		}
		if pool := t.opts.Pool; pool != nil {
			pool.Release(t.url)
		} else {
			defaultPool.Release(t.url)
		}
	})
	return nil
}

// Done implements Transport.
func (t *ClientTransport) Done() <-chan struct{} { return t.done }

func (t *ClientTransport) fail(err error) {
	t.mu.Lock()
	if t.closeErr == nil {
		t.closeErr = err
	}
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *ClientTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case env := <-t.pending:
			t.sendWithRetry(env)
		}
	}
}

func (t *ClientTransport) sendWithRetry(env *protocol.Envelope) {
	maxRetries := t.opts.MaxRetries
	if !isIdempotentMethod(env.Method) {
		maxRetries = 0
	}

	backoff := t.opts.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-t.done:
			return
		default:
		}

		newSessionID, err := t.postMessage(env)
		if err == nil {
			if sid, _ := t.sessionID.Load().(string); sid == "" && newSessionID != "" {
				t.sessionID.Store(newSessionID)
			}
			return
		}
		lastErr = err
		if !isRetryable(err) || attempt == maxRetries {
			break
		}
		select {
		case <-t.done:
			return
		case <-time.After(jitteredBackoff(backoff)):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	t.fail(fmt.Errorf("transport: sending after %d attempts: %w", maxRetries+1, lastErr))
}

func (t *ClientTransport) postMessage(env *protocol.Envelope) (string, error) {
	data, err := protocol.Encode(env)
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}

	currentSessionID, _ := t.sessionID.Load().(string)
	req, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("building POST: %w", err)
	}
	if currentSessionID != "" {
		req.Header.Set(SessionIDHeader, currentSessionID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return "", &httpStatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("POST returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	newSessionID := resp.Header.Get(SessionIDHeader)
	if newSessionID == "" {
		newSessionID = currentSessionID
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
	case resp.Header.Get("Content-Type") == "text/event-stream":
		go t.handleSSE(resp)
	default:
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("reading JSON response: %w", err)
		}
		if len(bytes.TrimSpace(body)) > 0 {
			respEnv, err := protocol.Decode(body)
			if err != nil {
				t.deliver(readResult{err: err})
			} else {
				t.deliver(readResult{env: respEnv})
			}
		}
	}

	return newSessionID, nil
}

// readLoop maintains the resumable hanging-GET SSE stream once a session id
// is known, per spec.md §6's resumption-via-Last-Event-ID requirement.
func (t *ClientTransport) readLoop() {
	backoff := t.opts.InitialBackoff
	attempt := 0
	for {
		select {
		case <-t.done:
			return
		default:
		}

		sessionID, _ := t.sessionID.Load().(string)
		if sessionID == "" {
			select {
			case <-t.done:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		err := t.performHangingGET(sessionID)
		if err == nil {
			attempt = 0
			backoff = t.opts.InitialBackoff
			continue
		}
		if !isRetryable(err) || attempt >= t.opts.MaxRetries {
			t.fail(fmt.Errorf("transport: maintaining SSE stream: %w", err))
			return
		}
		select {
		case <-t.done:
			return
		case <-time.After(jitteredBackoff(backoff)):
		}
		attempt++
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (t *ClientTransport) performHangingGET(sessionID string) error {
	req, err := http.NewRequest(http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("building GET: %w", err)
	}
	req.Header.Set(SessionIDHeader, sessionID)
	req.Header.Set("Accept", "text/event-stream")
	t.mu.Lock()
	lastEventID := t.lastEventID
	t.mu.Unlock()
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET failed: %w", err)
	}
	if resp.StatusCode == http.StatusGone {
		resp.Body.Close()
		return fmt.Errorf("transport: session expired")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return &httpStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("GET returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	return t.handleSSE(resp)
}

func (t *ClientTransport) handleSSE(resp *http.Response) error {
	defer resp.Body.Close()
	for evt, err := range scanEvents(resp.Body) {
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("scanning SSE stream: %w", err)
		}
		if evt.id != "" {
			t.mu.Lock()
			t.lastEventID = evt.id
			t.mu.Unlock()
		}
		env, decErr := protocol.Decode(evt.data)
		if decErr != nil {
			t.deliver(readResult{err: decErr})
			continue
		}
		t.deliver(readResult{env: env})
	}
	return nil
}

func (t *ClientTransport) deliver(res readResult) {
	select {
	case t.incoming <- res:
	case <-t.done:
	}
}
