// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCursor is returned by CursorCodec.Decode for a cursor this
// registry did not issue, per spec.md §4.6: "servers MUST reject cursors
// they did not issue with InvalidParams."
var ErrUnknownCursor = errors.New("dispatch: cursor was not issued by this server")

// CursorCodec mints and verifies opaque pagination cursors without a
// server-side table of outstanding cursors: the cursor itself is
// "<offset>.<hmac>", where the HMAC is keyed by a per-registry secret. This
// is a stdlib-only component (crypto/hmac, crypto/sha256) — justified in
// DESIGN.md: no library in the corpus is dedicated to opaque pagination
// tokens, and reaching for a general secrets/crypto dependency for a single
// MAC would be disproportionate to what two stdlib packages already do.
type CursorCodec struct {
	key [32]byte
}

// NewCursorCodec returns a codec keyed by key, or a freshly generated random
// key if key is nil. Cursors minted by one codec instance are only valid for
// that instance (and thus, in practice, for the lifetime of one server
// process — consistent with spec.md §9 "Session persistence": a restart
// invalidates outstanding cursors along with session ids).
func NewCursorCodec(key []byte) (*CursorCodec, error) {
	var c CursorCodec
	if key == nil {
		if _, err := rand.Read(c.key[:]); err != nil {
			return nil, fmt.Errorf("dispatch: generating cursor key: %w", err)
		}
		return &c, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("dispatch: cursor key must be 32 bytes, got %d", len(key))
	}
	copy(c.key[:], key)
	return &c, nil
}

// Encode mints an opaque cursor for the given offset.
func (c *CursorCodec) Encode(offset int) string {
	payload := fmt.Sprintf("%d", offset)
	mac := hmac.New(sha256.New, c.key[:])
	mac.Write([]byte(payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return payload + "." + sig
}

// Decode verifies and extracts the offset from a cursor string previously
// returned by Encode. It returns ErrUnknownCursor for any cursor this codec
// did not mint (bad format, or a forged/mismatched signature).
func (c *CursorCodec) Decode(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	parts := strings.SplitN(cursor, ".", 2)
	if len(parts) != 2 {
		return 0, ErrUnknownCursor
	}
	payload, sig := parts[0], parts[1]
	wantSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return 0, ErrUnknownCursor
	}
	mac := hmac.New(sha256.New, c.key[:])
	mac.Write([]byte(payload))
	if !hmac.Equal(mac.Sum(nil), wantSig) {
		return 0, ErrUnknownCursor
	}
	var offset int
	if _, err := fmt.Sscanf(payload, "%d", &offset); err != nil {
		return 0, ErrUnknownCursor
	}
	return offset, nil
}
