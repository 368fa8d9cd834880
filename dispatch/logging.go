// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"fmt"

	"github.com/mcprt/core/capability"
	"github.com/mcprt/core/protocol"
)

// LogLevel is one of MCP's RFC-5424-derived logging levels, least to most
// severe.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogNotice
	LogWarning
	LogError
	LogCritical
	LogAlert
	LogEmergency
)

var levelNames = [...]string{"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency"}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLogLevel parses one of the MCP wire level names.
func ParseLogLevel(s string) (LogLevel, error) {
	for i, n := range levelNames {
		if n == s {
			return LogLevel(i), nil
		}
	}
	return 0, fmt.Errorf("dispatch: unknown logging level %q", s)
}

// AtOrAbove reports whether l is at least as severe as min, used to gate
// notifications/message emission against the level set via logging/setLevel.
func (l LogLevel) AtOrAbove(min LogLevel) bool { return l >= min }

// setLevelParams is the payload of a logging/setLevel request.
type setLevelParams struct {
	Level string `json:"level"`
}

// RegisterLogging installs the logging/setLevel handler on r (spec.md §4.6),
// gated on the receiver having advertised the logging capability. It is a
// no-op if logging/setLevel is already registered, so an engine that always
// calls this can sit alongside a caller-supplied registry that registered
// its own handler first.
func RegisterLogging(r *Registry) {
	if _, ok := r.Lookup("logging/setLevel"); ok {
		return
	}
	r.Register("logging/setLevel", Registration{
		RequiredFeature: capability.FeatureLogging,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			var params setLevelParams
			if err := protocol.RawUnmarshal(call.Params, &params); err != nil {
				return nil, protocol.NewRPCError(protocol.CodeInvalidParams, "malformed logging/setLevel params", err.Error())
			}
			level, err := ParseLogLevel(params.Level)
			if err != nil {
				return nil, protocol.NewRPCError(protocol.CodeInvalidParams, err.Error(), nil)
			}
			call.Peer.SetLogLevel(level)
			return struct{}{}, nil
		},
	})
}

// EmitLogMessage sends a notifications/message event to peer, gated by the
// minimum level peer last set via logging/setLevel: a message less severe
// than that minimum is dropped without ever reaching the wire (spec.md
// §4.6). logger names the emitting component and may be empty.
func EmitLogMessage(ctx context.Context, peer Peer, level LogLevel, logger string, data any) error {
	if !level.AtOrAbove(peer.LogLevel()) {
		return nil
	}
	params := map[string]any{
		"level": level.String(),
		"data":  data,
	}
	if logger != "" {
		params["logger"] = logger
	}
	return peer.Notify(ctx, "notifications/message", params)
}
