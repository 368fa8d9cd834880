// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"io/fs"
	"sync"
	"time"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/lifecycle"
)

// State is the persisted shape of a session, used by the streamable-HTTP
// transport's session registry (spec.md §3 "Session identity (HTTP
// transport)"). It is richer than the bare initialize-params snapshot the
// teacher SDK stores, since this runtime also tracks negotiated capabilities
// and the logging level set via logging/setLevel.
type State struct {
	NegotiatedVersion string
	PeerCapabilities  *capability.Set
	OwnCapabilities   *capability.Set
	LogLevel          string
	LastActivity      time.Time
	LifecycleState    lifecycle.State
}

// Store persists and retrieves session state keyed by the opaque session ID
// minted for the streamable-HTTP transport. The in-memory implementation is
// the only one this runtime ships; spec.md §6 explicitly allows
// implementations to add durable backing without changing the protocol.
type Store interface {
	// Load retrieves the session state for id. If there is none, it returns
	// nil, fs.ErrNotExist.
	Load(ctx context.Context, id string) (*State, error)
	// Store saves the session state for id.
	Store(ctx context.Context, id string, state *State) error
	// Delete removes the session state for id.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store, safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*State)}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[id]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return st, nil
}

func (s *MemoryStore) Store(ctx context.Context, id string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = state
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}
