// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package compat

import "testing"

func TestParseBasic(t *testing.T) {
	got, err := parse("foo=bar,baz=qux")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]string{"foo": "bar", "baz": "qux"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	got, err := parse("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := parse("noequalsign"); err == nil {
		t.Fatal("expected an error for a malformed entry")
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	got, err := parse(" foo = bar ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["foo"] != "bar" {
		t.Fatalf("got %q, want %q", got["foo"], "bar")
	}
}
