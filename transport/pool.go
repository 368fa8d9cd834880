// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// pooledClient is a kept-alive *http.Client bound to one origin, reused
// across sessions that talk to the same server so that TCP/TLS connections
// get reused instead of renegotiated per session (spec.md §4.2.2: "clients
// SHOULD reuse connections across sessions to the same origin").
type pooledClient struct {
	client   *http.Client
	lastUsed time.Time
	refs     int
}

// ClientPool is a bounded, per-origin pool of *http.Client values for the
// streamable-HTTP client transport. It is not present in the teacher
// verbatim; it generalizes the teacher's one-http.Client-per-connection
// StreamableClientTransport into a keyed-by-origin pool with idle reaping,
// so that many short-lived sessions to the same server share underlying
// connections instead of each opening its own.
type ClientPool struct {
	maxIdle time.Duration
	maxSize int

	mu      sync.Mutex
	clients map[string]*pooledClient
	stop    chan struct{}
	stopped bool
}

// NewClientPool returns a ClientPool that reaps clients idle for longer than
// maxIdle, and caps the number of distinct origins cached at maxSize (0
// means unbounded). When the pool is full and every client is still
// referenced, Acquire for a new origin returns an error. It starts a
// background reaper goroutine; call Close to stop it.
func NewClientPool(maxIdle time.Duration, maxSize int) *ClientPool {
	if maxIdle <= 0 {
		maxIdle = 5 * time.Minute
	}
	p := &ClientPool{
		maxIdle: maxIdle,
		maxSize: maxSize,
		clients: make(map[string]*pooledClient),
		stop:    make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

func (p *ClientPool) reapLoop() {
	ticker := time.NewTicker(p.maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.stop:
			return
		}
	}
}

func (p *ClientPool) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for origin, pc := range p.clients {
		if pc.refs == 0 && now.Sub(pc.lastUsed) > p.maxIdle {
			pc.client.CloseIdleConnections()
			delete(p.clients, origin)
		}
	}
}

// Acquire returns the shared *http.Client for rawURL's origin, creating one
// if necessary. Callers MUST call Release with the same rawURL once done
// issuing requests through the client, so idle accounting stays correct.
func (p *ClientPool) Acquire(rawURL string) (*http.Client, error) {
	origin, err := originOf(rawURL)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.clients[origin]
	if !ok {
		if p.maxSize > 0 && len(p.clients) >= p.maxSize {
			p.evictOneLocked()
			if len(p.clients) >= p.maxSize {
				return nil, fmt.Errorf("transport: client pool full (%d origins in use)", p.maxSize)
			}
		}
		pc = &pooledClient{client: &http.Client{Timeout: 0}}
		p.clients[origin] = pc
	}
	pc.refs++
	pc.lastUsed = time.Now()
	return pc.client, nil
}

// Release signals that the caller is done issuing requests through the
// client acquired for rawURL's origin.
func (p *ClientPool) Release(rawURL string) {
	origin, err := originOf(rawURL)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.clients[origin]; ok {
		pc.refs--
		pc.lastUsed = time.Now()
	}
}

// evictOneLocked drops the least-recently-used, unreferenced client to make
// room under maxSize. Called with p.mu held.
func (p *ClientPool) evictOneLocked() {
	var victim string
	var oldest time.Time
	for origin, pc := range p.clients {
		if pc.refs > 0 {
			continue
		}
		if victim == "" || pc.lastUsed.Before(oldest) {
			victim, oldest = origin, pc.lastUsed
		}
	}
	if victim != "" {
		p.clients[victim].client.CloseIdleConnections()
		delete(p.clients, victim)
	}
}

// Close stops the reaper and closes idle connections on every pooled
// client.
func (p *ClientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stop)
	for origin, pc := range p.clients {
		pc.client.CloseIdleConnections()
		delete(p.clients, origin)
	}
	return nil
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}
