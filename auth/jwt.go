// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator, through its Verify method, is a TokenVerifier that validates a locally-verifiable JWT
// against a fixed key, without calling out to an introspection endpoint. It
// suits deployments where the authorization server issues self-contained
// access tokens (the common case for a resource server that trusts a known
// issuer's signing key).
type JWTValidator struct {
	// KeyFunc resolves the key used to verify a token's signature, given the
	// parsed (but not yet verified) token. See jwt.Parser.Parse.
	KeyFunc jwt.Keyfunc
	// ParserOptions are passed through to jwt.NewParser, e.g.
	// jwt.WithValidMethods or jwt.WithIssuer.
	ParserOptions []jwt.ParserOption
	// ScopeClaim names the claim holding a space-separated list of scopes.
	// Defaults to "scope".
	ScopeClaim string
}

// Verify has the TokenVerifier signature; pass v.Verify where a
// TokenVerifier is expected.
func (v *JWTValidator) Verify(ctx context.Context, token string, req *http.Request) (*TokenInfo, error) {
	parser := jwt.NewParser(v.ParserOptions...)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, v.KeyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInvalidToken
		}
		return nil, errors.Join(ErrInvalidToken, err)
	}

	info := &TokenInfo{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.Expiration = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	scopeClaim := v.ScopeClaim
	if scopeClaim == "" {
		scopeClaim = "scope"
	}
	if raw, ok := claims[scopeClaim].(string); ok {
		info.Scopes = splitScopes(raw)
	}
	return info, nil
}

func splitScopes(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
