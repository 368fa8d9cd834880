// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth defines the collaborator contract a streamable-HTTP
// deployment uses to authenticate inbound requests and authorize outbound
// ones. Full OAuth 2.1 authorization-code flows, dynamic client
// registration, and token-exchange internals are explicitly out of scope
// (a deployment wires its own authorization server); this package supplies
// the thin seams — a bearer-token verifier contract, an HTTP middleware
// enforcing it, and a token-source-backed client authenticator — that a
// real OAuth stack plugs into.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken is returned by a TokenVerifier when the presented token is
// malformed, expired, or otherwise rejected outright.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrOAuth is returned by a TokenVerifier when the authorization server
// itself reported an OAuth-protocol-level error while validating the token
// (as opposed to simply rejecting it), surfaced to the caller as 400 rather
// than 401.
var ErrOAuth = errors.New("auth: oauth error")

// TokenInfo describes a validated bearer token.
type TokenInfo struct {
	// Expiration is when the token stops being valid. The zero value is
	// treated as "missing expiration", which RequireBearerToken rejects:
	// spec.md's auth collaborator contract requires every accepted token to
	// carry a definite lifetime.
	Expiration time.Time
	// Scopes lists the OAuth scopes the token was issued with.
	Scopes []string
	// Subject is the token's subject claim, if the verifier extracted one.
	Subject string
}

func (t *TokenInfo) hasScope(want string) bool {
	for _, s := range t.Scopes {
		if s == want {
			return true
		}
	}
	return false
}

// TokenVerifier validates a bearer token extracted from an incoming
// request. Implementations typically call out to an authorization server's
// introspection endpoint, or validate a JWT locally (see JWTValidator).
type TokenVerifier func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error)

// RequireBearerTokenOptions configures RequireBearerToken.
type RequireBearerTokenOptions struct {
	// Scopes, if non-empty, lists scopes every accepted token must carry.
	Scopes []string
	// ResourceMetadataURL, if set, is advertised in the WWW-Authenticate
	// header on 401/403 responses per RFC 9728, so a compliant client can
	// discover how to obtain a token.
	ResourceMetadataURL string
}

// RequireBearerToken returns HTTP middleware that validates the
// Authorization header of every request against verifier before invoking
// the wrapped handler, and never forwards the client's Authorization header
// to anything the handler does downstream on its own (spec.md's security
// best practice against token passthrough — the middleware does not touch
// outbound requests the handler makes; it only gates entry).
func RequireBearerToken(verifier TokenVerifier, opts *RequireBearerTokenOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, msg, code := verify(r, verifier, opts)
			if code != 0 {
				if opts != nil && opts.ResourceMetadataURL != "" && (code == http.StatusUnauthorized || code == http.StatusForbidden) {
					w.Header().Set("WWW-Authenticate", "Bearer resource_metadata="+opts.ResourceMetadataURL)
				}
				http.Error(w, msg, code)
				return
			}
			ctx := context.WithValue(r.Context(), tokenInfoKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type tokenInfoKey struct{}

// TokenFromContext retrieves the TokenInfo a RequireBearerToken middleware
// attached to the request context, if any.
func TokenFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey{}).(*TokenInfo)
	return info, ok
}

// verify implements the validation steps RequireBearerToken enforces,
// factored out so tests can exercise it without standing up an HTTP
// handler.
func verify(r *http.Request, verifier TokenVerifier, opts *RequireBearerTokenOptions) (*TokenInfo, string, int) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, "no bearer token", http.StatusUnauthorized
	}

	info, err := verifier(r.Context(), token, r)
	switch {
	case errors.Is(err, ErrOAuth):
		return nil, "oauth error", http.StatusBadRequest
	case errors.Is(err, ErrInvalidToken):
		return nil, "invalid token", http.StatusUnauthorized
	case err != nil:
		return nil, "invalid token", http.StatusUnauthorized
	}

	if info.Expiration.IsZero() {
		return nil, "token missing expiration", http.StatusUnauthorized
	}
	if time.Now().After(info.Expiration) {
		return nil, "token expired", http.StatusUnauthorized
	}
	if opts != nil {
		for _, want := range opts.Scopes {
			if !info.hasScope(want) {
				return nil, "insufficient scope", http.StatusForbidden
			}
		}
	}
	return info, "", 0
}
