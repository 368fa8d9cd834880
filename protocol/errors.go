// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package protocol

// The standard JSON-RPC 2.0 error codes, plus the MCP-specific codes used by
// this runtime. The set is closed: dispatch and session code never invent a
// new code at a call site, they pick one of these.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603

	// MCP-specific range, chosen outside the JSON-RPC reserved
	// -32768..-32000 band per the MCP spec's convention of using
	// application-defined codes above it.
	CodeResourceNotFound        int64 = -31000
	CodeUnauthorized            int64 = -31001
	CodeCancelled               int64 = -31002
	CodeTimeout                 int64 = -31003
	CodeProtocolVersionMismatch int64 = -31004
)

// NewRPCError constructs an *RPCError, which also satisfies the error
// interface so it can be returned from functions that parse or validate
// envelopes.
func NewRPCError(code int64, message string, data any) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}
