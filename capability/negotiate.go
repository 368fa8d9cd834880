// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package capability

import "fmt"

// SupportedRevisions lists the protocol revisions this runtime understands,
// most preferred first. Only one is defined today, but the negotiation
// algorithm is written to generalize.
var SupportedRevisions = []string{"2025-06-18"}

// ErrVersionMismatch is returned by NegotiateClient when the client cannot
// accept the server's chosen revision.
type ErrVersionMismatch struct {
	Offered  string
	Proposed string
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("capability: client offered %q, server proposed %q, and the client does not support it", e.Offered, e.Proposed)
}

// NegotiateServer picks a protocol revision in response to a client's
// offer, per spec.md §4.4: echo the offer if supported, else propose the
// server's preferred supported revision.
func NegotiateServer(offered string) string {
	for _, r := range SupportedRevisions {
		if r == offered {
			return offered
		}
	}
	return SupportedRevisions[0]
}

// NegotiateClient validates the server's proposed revision against what the
// client supports. If the client doesn't support it, it returns
// *ErrVersionMismatch; the session returns that error to its caller as-is
// and closes the connection.
func NegotiateClient(offered, proposed string) error {
	if proposed == offered {
		return nil
	}
	for _, r := range SupportedRevisions {
		if r == proposed {
			return nil
		}
	}
	return &ErrVersionMismatch{Offered: offered, Proposed: proposed}
}
