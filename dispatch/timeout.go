// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package dispatch

import "time"

// TimeoutPolicy holds the per-method default timeouts from spec.md §4.6,
// plus a global cap; per-method overrides live in Registration.Timeout.
// Three presets are provided,
// matching spec.md's "a timeout preset for 'high-performance' tightens them
// and one for 'long-running' relaxes them."
type TimeoutPolicy struct {
	Initialize            time.Duration
	ToolCall              time.Duration
	ResourceRead          time.Duration
	SamplingCreateMessage time.Duration
	Ping                  time.Duration
	Default               time.Duration

	// GlobalCap, if non-zero, is an upper bound applied to every timeout
	// this policy returns, including per-method overrides passed to
	// Registration.Timeout.
	GlobalCap time.Duration
}

// DefaultTimeoutPolicy returns the defaults listed in spec.md §4.6.
func DefaultTimeoutPolicy() *TimeoutPolicy {
	return &TimeoutPolicy{
		Initialize:            30 * time.Second,
		ToolCall:              60 * time.Second,
		ResourceRead:          30 * time.Second,
		SamplingCreateMessage: 120 * time.Second,
		Ping:                  5 * time.Second,
		Default:               30 * time.Second,
	}
}

// HighPerformanceTimeoutPolicy tightens the defaults for latency-sensitive
// deployments.
func HighPerformanceTimeoutPolicy() *TimeoutPolicy {
	return &TimeoutPolicy{
		Initialize:            10 * time.Second,
		ToolCall:              15 * time.Second,
		ResourceRead:          10 * time.Second,
		SamplingCreateMessage: 30 * time.Second,
		Ping:                  2 * time.Second,
		Default:               10 * time.Second,
	}
}

// LongRunningTimeoutPolicy relaxes the defaults for handlers that do
// substantial work (e.g. large model generations, slow external tools).
func LongRunningTimeoutPolicy() *TimeoutPolicy {
	return &TimeoutPolicy{
		Initialize:            60 * time.Second,
		ToolCall:              10 * time.Minute,
		ResourceRead:          2 * time.Minute,
		SamplingCreateMessage: 30 * time.Minute,
		Ping:                  10 * time.Second,
		Default:               5 * time.Minute,
	}
}

// For returns the configured timeout for method, falling back to Default.
func (p *TimeoutPolicy) For(method string) time.Duration {
	var d time.Duration
	switch method {
	case "initialize":
		d = p.Initialize
	case "tools/call":
		d = p.ToolCall
	case "resources/read":
		d = p.ResourceRead
	case "sampling/createMessage":
		d = p.SamplingCreateMessage
	case "ping":
		d = p.Ping
	default:
		d = p.Default
	}
	if d == 0 {
		d = p.Default
	}
	return p.capped(d)
}

func (p *TimeoutPolicy) capped(d time.Duration) time.Duration {
	if p.GlobalCap > 0 && d > p.GlobalCap {
		return p.GlobalCap
	}
	return d
}
