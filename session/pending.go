// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"sync"

	"github.com/mcprt/core/protocol"
)

// outcome is the terminal result delivered to a pending request's resolver:
// exactly one of result/err is ever set (property P2).
type outcome struct {
	result protocol.RawMessage
	err    error
}

// pendingRequest is an outbound request awaiting its response. It is shared
// between the goroutine that called Session.Call (which awaits resolve) and
// the reader goroutine that eventually resolves it — by response, by
// deadline, or by session teardown. Removal from the table is idempotent on
// every path, modeled as an arena entry with a one-shot buffered channel
// rather than a cyclic reference graph (see spec.md §9).
type pendingRequest struct {
	method        string
	progressToken any

	resolve chan outcome // buffered 1; written to exactly once

	mu       sync.Mutex
	resolved bool
}

func newPendingRequest(method string, progressToken any) *pendingRequest {
	return &pendingRequest{
		method:        method,
		progressToken: progressToken,
		resolve:       make(chan outcome, 1),
	}
}

// deliver completes the pending request exactly once; subsequent calls are
// no-ops, so the caller need not coordinate who "wins" the race between a
// late response and a timeout/cancel.
func (p *pendingRequest) deliver(o outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.resolve <- o
}

// pendingTable is the id -> pendingRequest map described in spec.md §3. The
// mutex is held only for the duration of insert/remove, never across a
// suspension point (spec.md §5).
type pendingTable struct {
	mu    sync.Mutex
	byID  map[string]*pendingRequest
	idGen int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{byID: make(map[string]*pendingRequest)}
}

// nextID returns a fresh, session-unique request ID (invariant P1).
func (t *pendingTable) nextID() protocol.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idGen++
	return protocol.NumberID(t.idGen)
}

func (t *pendingTable) insert(id protocol.ID, p *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[id.String()] = p
}

func (t *pendingTable) remove(id protocol.ID) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[id.String()]
	if ok {
		delete(t.byID, id.String())
	}
	return p, ok
}

// get looks up a pending request by id without removing it.
func (t *pendingTable) get(id protocol.ID) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[id.String()]
	return p, ok
}

// drain empties the table and returns all entries, for use when the session
// closes and every pending must be failed (invariant I3).
func (t *pendingTable) drain() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*pendingRequest, 0, len(t.byID))
	for _, p := range t.byID {
		all = append(all, p)
	}
	t.byID = make(map[string]*pendingRequest)
	return all
}

// hasProgressToken reports whether any currently pending request already
// uses token, enforcing the "tokens MUST be unique per session" rule from
// spec.md §4.3.
func (t *pendingTable) hasProgressToken(token any) bool {
	if token == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.byID {
		if p.progressToken == token {
			return true
		}
	}
	return false
}
