// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtTestKey = []byte("test-signing-key")

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(jwtTestKey)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestJWTValidatorAccepts(t *testing.T) {
	v := &JWTValidator{KeyFunc: func(*jwt.Token) (any, error) { return jwtTestKey, nil }}
	tok := signTestToken(t, jwt.MapClaims{
		"sub":   "user-1",
		"scope": "tools:read tools:write",
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest("POST", "/", nil)
	info, err := v.Verify(req.Context(), tok, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if info.Subject != "user-1" {
		t.Errorf("got subject %q, want user-1", info.Subject)
	}
	if !info.hasScope("tools:write") {
		t.Errorf("expected scope tools:write in %v", info.Scopes)
	}
}

func TestJWTValidatorRejectsExpired(t *testing.T) {
	v := &JWTValidator{KeyFunc: func(*jwt.Token) (any, error) { return jwtTestKey, nil }}
	tok := signTestToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	req := httptest.NewRequest("POST", "/", nil)
	if _, err := v.Verify(req.Context(), tok, req); err == nil {
		t.Fatal("expected an error for an expired token")
	}
}

func TestJWTValidatorRejectsBadSignature(t *testing.T) {
	v := &JWTValidator{KeyFunc: func(*jwt.Token) (any, error) { return []byte("wrong-key"), nil }}
	tok := signTestToken(t, jwt.MapClaims{"sub": "user-1"})

	req := httptest.NewRequest("POST", "/", nil)
	if _, err := v.Verify(req.Context(), tok, req); err == nil {
		t.Fatal("expected an error for a bad signature")
	}
}
