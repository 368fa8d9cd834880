// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package protocol

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestRoundTrip(t *testing.T) {
	tests := []*Envelope{
		NewRequest(StringID("1"), "initialize", RawMessage(`{"protocolVersion":"2025-06-18"}`)),
		NewRequest(NumberID(7), "tools/call", RawMessage(`{"name":"echo"}`)),
		NewNotification("notifications/initialized", nil),
		NewResultResponse(StringID("1"), RawMessage(`{"ok":true}`)),
		NewErrorResponse(NumberID(2), NewRPCError(CodeMethodNotFound, "method not found", nil)),
	}
	for _, want := range tests {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", want, err)
		}
		if strings.ContainsAny(string(data), "\n\r") {
			t.Fatalf("Encode produced embedded newline: %q", data)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%q): %v", data, err)
		}
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(ID{}), cmpopts.IgnoreFields(Envelope{}, "ProgressToken")); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeRejectsBatch(t *testing.T) {
	_, err := Decode([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`))
	if err != ErrBatchNotSupported {
		t.Fatalf("Decode(batch) = %v, want ErrBatchNotSupported", err)
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	if err == nil {
		t.Fatal("Decode(bad version) succeeded, want error")
	}
}

func TestDecodeRejectsCaseSmuggling(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0","Id":1,"id":2,"method":"ping"}`))
	if err == nil {
		t.Fatal("Decode(duplicate-case keys) succeeded, want error")
	}
}

func TestDecodeClassifiesKind(t *testing.T) {
	req, err := Decode([]byte(`{"jsonrpc":"2.0","id":"a","method":"ping"}`))
	if err != nil || !req.IsRequest() {
		t.Fatalf("expected request, got %+v, err=%v", req, err)
	}
	notif, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil || !notif.IsNotification() {
		t.Fatalf("expected notification, got %+v, err=%v", notif, err)
	}
	resp, err := Decode([]byte(`{"jsonrpc":"2.0","id":"a","result":{}}`))
	if err != nil || !resp.IsResponse() {
		t.Fatalf("expected response, got %+v, err=%v", resp, err)
	}
}

func TestDecodeRejectsMalformedOneOf(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0","id":"a","result":{},"error":{"code":1,"message":"x"}}`))
	if err == nil {
		t.Fatal("Decode(result+error) succeeded, want error")
	}
}

func TestProgressTokenExtraction(t *testing.T) {
	e, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"_meta":{"progressToken":"p1"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.ProgressToken != "p1" {
		t.Fatalf("ProgressToken = %v, want p1", e.ProgressToken)
	}
}
