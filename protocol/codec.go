// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"fmt"

	json "github.com/segmentio/encoding/json"
)

// RawMessage is a raw, undecoded JSON value, matching encoding/json.RawMessage
// but backed by the segmentio encoder used throughout this package.
type RawMessage = json.RawMessage

func marshalJSON(v any) ([]byte, error)      { return json.Marshal(v) }
func unmarshalJSON(data []byte, v any) error { return json.Unmarshal(data, v) }

// RawMarshal encodes v with the same fast JSON codec used for envelopes. A
// nil v marshals to nil, so callers building a Notification/Request with no
// params don't need a special case.
func RawMarshal(v any) (RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSON(v)
}

// RawUnmarshal decodes data into v, tolerating an empty/nil data by leaving
// v untouched (the zero value of its fields).
func RawUnmarshal(data RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return unmarshalJSON(data, v)
}

// ErrBatchNotSupported is returned by Decode when given a top-level JSON
// array: the 2025-06-18 revision does not support batched requests.
var ErrBatchNotSupported = errors.New("protocol: batched requests are not supported in revision " + ProtocolRevision)

// wireEnvelope is the on-the-wire shape of a JSON-RPC 2.0 message, used only
// for encode/decode; Envelope is the typed form callers use.
type wireEnvelope struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      *ID        `json:"id,omitempty"`
	Method  string     `json:"method,omitempty"`
	Params  RawMessage `json:"params,omitempty"`
	Result  RawMessage `json:"result,omitempty"`
	Error   *RPCError  `json:"error,omitempty"`
}

// Encode serializes e to a single-line JSON document using the canonical
// field ordering jsonrpc, id, method, params|result|error. The encoder never
// emits embedded newlines, satisfying the stream transport's framing
// requirement.
func Encode(e *Envelope) ([]byte, error) {
	w := wireEnvelope{JSONRPC: jsonrpcVersion}
	switch e.Kind {
	case KindRequest:
		if !e.ID.IsValid() {
			return nil, errors.New("protocol: request must have a valid id")
		}
		id := e.ID
		w.ID = &id
		w.Method = e.Method
		w.Params = e.Params
	case KindNotification:
		w.Method = e.Method
		w.Params = e.Params
	case KindResponse:
		if !e.ID.IsValid() {
			return nil, errors.New("protocol: response must have a valid id")
		}
		id := e.ID
		w.ID = &id
		switch {
		case e.Error != nil && e.Result != nil:
			return nil, errors.New("protocol: response must not carry both result and error")
		case e.Error != nil:
			w.Error = e.Error
		default:
			w.Result = e.Result
			if w.Result == nil {
				w.Result = RawMessage("{}")
			}
		}
	default:
		return nil, fmt.Errorf("protocol: unknown envelope kind %d", e.Kind)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Decode parses a single JSON document into an Envelope, classifying it by
// the one-of constraint in the spec: a Request has id+method, a
// Notification has method with no id, a Response has id with exactly one of
// result/error.
//
// Decode rejects:
//   - documents whose top-level value is a JSON array (batching, §4.1)
//   - envelopes missing "jsonrpc" or with jsonrpc != "2.0"
//   - envelopes violating the one-of constraint
func Decode(data []byte) (*Envelope, error) {
	trimmed := skipSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, ErrBatchNotSupported
	}

	var w wireEnvelope
	if err := StrictUnmarshal(data, &w); err != nil {
		return nil, NewRPCError(CodeParseError, "malformed envelope", err.Error())
	}
	if w.JSONRPC != jsonrpcVersion {
		return nil, NewRPCError(CodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", w.JSONRPC), nil)
	}

	hasID := w.ID != nil && w.ID.IsValid()
	hasMethod := w.Method != ""
	hasResult := w.Result != nil
	hasError := w.Error != nil

	switch {
	case hasMethod && hasID:
		return &Envelope{Kind: KindRequest, ID: *w.ID, Method: w.Method, Params: w.Params, ProgressToken: progressToken(w.Params)}, nil
	case hasMethod && !hasID:
		return &Envelope{Kind: KindNotification, Method: w.Method, Params: w.Params, ProgressToken: progressToken(w.Params)}, nil
	case hasID && (hasResult != hasError):
		e := &Envelope{Kind: KindResponse, ID: *w.ID, Result: w.Result, Error: w.Error}
		return e, nil
	default:
		return nil, NewRPCError(CodeInvalidRequest, "envelope is neither a well-formed request, notification, nor response", nil)
	}
}

func skipSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

// progressToken extracts params._meta.progressToken, if present, without
// requiring the caller to know the concrete params type.
func progressToken(params RawMessage) any {
	if len(params) == 0 {
		return nil
	}
	var p struct {
		Meta struct {
			ProgressToken any `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil
	}
	return p.Meta.ProgressToken
}
