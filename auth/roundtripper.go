// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"net/http"
)

// RoundTripper attaches an OAuthHandler's bearer token to outbound requests
// and drives its Authorize flow the first time a request comes back
// unauthorized, retrying once with the refreshed token.
type RoundTripper struct {
	Handler OAuthHandler
	Base    http.RoundTripper
}

func (rt *RoundTripper) base() http.RoundTripper {
	if rt.Base != nil {
		return rt.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if src, err := rt.Handler.TokenSource(ctx); err == nil {
		if tok, err := src.Token(); err == nil && tok.AccessToken != "" {
			req = req.Clone(ctx)
			tok.SetAuthHeader(req)
		}
	}

	resp, err := rt.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	if err := rt.Handler.Authorize(ctx, req, resp); err != nil {
		return resp, nil
	}

	src, err := rt.Handler.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	retry := req.Clone(ctx)
	tok.SetAuthHeader(retry)
	return rt.base().RoundTrip(retry)
}
