// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SessionRateLimiter enforces a per-session token bucket on the
// streamable-HTTP server, per spec.md §4.2.2: "token-bucket per session id,
// configurable refill and burst; over-limit requests respond 429 with a
// Retry-After header and do NOT consume session state." Built on
// golang.org/x/time/rate — a teacher dependency with no surviving call site,
// now given the exact job it exists for.
type SessionRateLimiter struct {
	refill time.Duration
	burst  int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewSessionRateLimiter returns a limiter that refills one token every
// refill interval, up to burst tokens banked.
func NewSessionRateLimiter(refill time.Duration, burst int) *SessionRateLimiter {
	return &SessionRateLimiter{
		refill:  refill,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *SessionRateLimiter) bucketFor(sessionID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[sessionID]
	if !ok {
		b = rate.NewLimiter(rate.Every(l.refill), l.burst)
		l.buckets[sessionID] = b
	}
	return b
}

// Allow reports whether a request for sessionID may proceed right now,
// consuming a token if so. It does not block.
func (l *SessionRateLimiter) Allow(sessionID string) bool {
	return l.bucketFor(sessionID).Allow()
}

// Forget drops the bucket for sessionID, e.g. once its session is deleted.
func (l *SessionRateLimiter) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sessionID)
}

// RejectTooManyRequests writes a 429 response with a Retry-After header
// computed from the bucket's refill rate, per spec.md §4.2.2. Callers MUST
// call this instead of consuming any session state when Allow returns
// false.
func RejectTooManyRequests(w http.ResponseWriter, refill time.Duration) {
	retryAfterSeconds := int(refill.Seconds())
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
}
