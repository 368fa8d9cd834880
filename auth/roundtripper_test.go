// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func TestRoundTripperAttachesToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &RoundTripper{
		Handler: &FakeOAuthHandler{Token: &oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer"}},
	}}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("got Authorization %q, want %q", gotAuth, "Bearer tok-1")
	}
}

func TestRoundTripperRetriesOnUnauthorized(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") == "Bearer fresh" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	handler := &FakeOAuthHandler{Token: &oauth2.Token{AccessToken: "stale", TokenType: "Bearer"}}
	client := &http.Client{Transport: &RoundTripper{Handler: handler}}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if calls != 2 {
		t.Fatalf("got %d calls, want 2 (initial + retry)", calls)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401 (FakeOAuthHandler doesn't refresh the token it returns)", resp.StatusCode)
	}
}
