// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package compat provides a mechanism to configure runtime compatibility
// parameters via the MCPRTDEBUG environment variable, directly adapted from
// the teacher's internal/mcpgodebug package. It exists for operators
// diagnosing a specific interop quirk without a recompile — e.g. relaxing
// strict case-sensitive unmarshaling against a known-buggy peer — not for
// ordinary feature flags.
//
// The value of MCPRTDEBUG is a comma-separated list of key=value pairs, for
// example:
//
//	MCPRTDEBUG=allowcaseinsensitive=1,maxline=4194304
//
// The keys above are illustrative: no package in this module reads any
// key yet, so setting MCPRTDEBUG currently changes no behaviour.
package compat

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envKey = "MCPRTDEBUG"

var (
	once    sync.Once
	params  map[string]string
	initErr error
)

func load() {
	once.Do(func() {
		params, initErr = parse(os.Getenv(envKey))
	})
}

// Value returns the value of the compatibility parameter with the given
// key, or "" if unset.
func Value(key string) string {
	load()
	return params[key]
}

// Bool reports whether the named parameter is set to a recognized truthy
// value ("1", "true", "yes").
func Bool(key string) bool {
	switch Value(key) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Err returns the parse error from MCPRTDEBUG, if the environment variable
// was malformed. Most callers can ignore this; it exists so a misconfigured
// deployment surfaces a clear diagnostic instead of silently ignoring flags.
func Err() error {
	load()
	return initErr
}

func parse(envValue string) (map[string]string, error) {
	if envValue == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(envValue, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("compat: invalid %s entry %q", envKey, part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
