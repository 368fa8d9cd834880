// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package protocol defines the JSON-RPC 2.0 envelope types used by the
// runtime, and the closed set of MCP protocol error codes.
package protocol

import (
	"errors"
	"fmt"
)

// ProtocolRevision is the MCP protocol revision this package implements.
const ProtocolRevision = "2025-06-18"

const jsonrpcVersion = "2.0"

// ID is a JSON-RPC request identifier: either a string or an int64.
// The zero value is not a valid ID; use IsValid to check.
type ID struct {
	str   string
	num   int64
	isStr bool
	isNum bool
}

// StringID returns a string-valued ID.
func StringID(s string) ID { return ID{str: s, isStr: true} }

// NumberID returns an integer-valued ID.
func NumberID(n int64) ID { return ID{num: n, isNum: true} }

// IsValid reports whether id carries a value. The null ID is invalid per
// spec: it must never be used as an outbound request ID.
func (id ID) IsValid() bool { return id.isStr || id.isNum }

// String returns a human-readable representation, for logs and map keys.
func (id ID) String() string {
	switch {
	case id.isStr:
		return "s:" + id.str
	case id.isNum:
		return fmt.Sprintf("n:%d", id.num)
	default:
		return "<invalid>"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id.isStr:
		return marshalJSON(id.str)
	case id.isNum:
		return marshalJSON(id.num)
	default:
		return nil, errors.New("protocol: cannot marshal invalid ID")
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	var s string
	if err := unmarshalJSON(data, &s); err == nil {
		*id = ID{str: s, isStr: true}
		return nil
	}
	var n int64
	if err := unmarshalJSON(data, &n); err != nil {
		return fmt.Errorf("protocol: id must be a string or integer: %w", err)
	}
	*id = ID{num: n, isNum: true}
	return nil
}

// Kind distinguishes the three envelope shapes.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

// Envelope is the decoded form of any JSON-RPC 2.0 message exchanged by the
// runtime. Exactly one of the Request/Response/Notification shapes applies,
// selected by Kind.
type Envelope struct {
	Kind Kind

	// Request and Notification fields.
	Method string
	Params RawMessage

	// Request only.
	ID ID

	// Response only (ID above is reused for the response's correlating id).
	Result RawMessage
	Error  *RPCError

	// ProgressToken carries the "progressToken" member of the _meta object
	// in Params, if any. Populated on decode for convenience; callers
	// needing the full _meta object should parse Params themselves.
	ProgressToken any
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a Request envelope. params may be nil.
func NewRequest(id ID, method string, params RawMessage) *Envelope {
	return &Envelope{Kind: KindRequest, ID: id, Method: method, Params: params}
}

// NewNotification builds a Notification envelope. params may be nil.
func NewNotification(method string, params RawMessage) *Envelope {
	return &Envelope{Kind: KindNotification, Method: method, Params: params}
}

// NewResultResponse builds a successful Response envelope.
func NewResultResponse(id ID, result RawMessage) *Envelope {
	return &Envelope{Kind: KindResponse, ID: id, Result: result}
}

// NewErrorResponse builds a failed Response envelope.
func NewErrorResponse(id ID, err *RPCError) *Envelope {
	return &Envelope{Kind: KindResponse, ID: id, Error: err}
}

// IsRequest, IsResponse, IsNotification are convenience predicates.
func (e *Envelope) IsRequest() bool      { return e.Kind == KindRequest }
func (e *Envelope) IsResponse() bool     { return e.Kind == KindResponse }
func (e *Envelope) IsNotification() bool { return e.Kind == KindNotification }
