// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"sync"
	"sync/atomic"

	"github.com/mcprt/core/protocol"
)

// inflightRequest tracks a single inbound request currently being handled by
// a dispatcher-spawned task, so that a notifications/cancelled for its id
// can flip a flag the handler observes (spec.md §4.3 "Inbound cancellation").
// Cancellation is advisory: the runtime never preempts the handler task
// (spec.md §5).
type inflightRequest struct {
	method    string
	cancelled atomic.Bool
	done      chan struct{}
}

func newInflightRequest(method string) *inflightRequest {
	return &inflightRequest{method: method, done: make(chan struct{})}
}

// Cancel flips the advisory cancellation flag.
func (r *inflightRequest) Cancel() { r.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested. Handlers observe
// it by polling; Done() does not close on cancellation.
func (r *inflightRequest) Cancelled() bool { return r.cancelled.Load() }

// Done returns a channel closed once the handler's response has been
// produced, so a raced-but-losing cancel notification can be dropped
// instead of blocking forever.
func (r *inflightRequest) Done() <-chan struct{} { return r.done }

func (r *inflightRequest) markDone() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

type inflightTable struct {
	mu   sync.Mutex
	byID map[string]*inflightRequest
}

func newInflightTable() *inflightTable {
	return &inflightTable{byID: make(map[string]*inflightRequest)}
}

func (t *inflightTable) start(id protocol.ID, method string) *inflightRequest {
	r := newInflightRequest(method)
	t.mu.Lock()
	t.byID[id.String()] = r
	t.mu.Unlock()
	return r
}

func (t *inflightTable) finish(id protocol.ID) {
	t.mu.Lock()
	r, ok := t.byID[id.String()]
	if ok {
		delete(t.byID, id.String())
	}
	t.mu.Unlock()
	if ok {
		r.markDone()
	}
}

// cancel flips the cancellation flag for id, if it is currently in flight,
// and returns the method it was dispatched to.
func (t *inflightTable) cancel(id protocol.ID) (string, bool) {
	t.mu.Lock()
	r, ok := t.byID[id.String()]
	t.mu.Unlock()
	if !ok {
		return "", false
	}
	r.Cancel()
	return r.method, true
}
