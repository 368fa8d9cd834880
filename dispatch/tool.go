// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolDescriptor is the tools/list entry for one registered tool: name,
// description, and the resolved input/output schemas used to validate
// tools/call arguments (spec.md §4.6's tools/call slot).
type ToolDescriptor struct {
	Name         string
	Description  string
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
}

// TypedToolHandler handles tools/call with arguments already unmarshaled
// into, and validated against the schema for, In, returning a value of type
// Out to be attached as the result's structured content.
type TypedToolHandler[In, Out any] func(ctx context.Context, call *Call, args In) (Out, error)

// typedTool is what NewTypedTool produces: a ToolDescriptor plus a
// HandlerFunc closing over the resolved schemas, directly adapted from the
// teacher's newTypedServerTool/unmarshalSchema (mcp/tool.go).
type typedTool struct {
	desc           ToolDescriptor
	inputResolved  *jsonschema.Resolved
	outputResolved *jsonschema.Resolved
}

// NewTypedTool infers a JSON Schema for In (and, unless Out is `any`, for
// Out) and returns a ToolDescriptor plus a HandlerFunc ready to hand to
// Registry.Register under "tools/call"'s per-tool sub-dispatch (see
// ToolTable below).
func NewTypedTool[In, Out any](name, description string, h TypedToolHandler[In, Out]) (ToolDescriptor, HandlerFunc, error) {
	inputSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return ToolDescriptor{}, nil, fmt.Errorf("dispatch: inferring input schema for tool %q: %w", name, err)
	}
	inputResolved, err := inputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return ToolDescriptor{}, nil, fmt.Errorf("dispatch: resolving input schema for tool %q: %w", name, err)
	}

	var outputSchema *jsonschema.Schema
	var outputResolved *jsonschema.Resolved
	if reflect.TypeFor[Out]() != reflect.TypeFor[any]() {
		outputSchema, err = jsonschema.For[Out](nil)
		if err != nil {
			return ToolDescriptor{}, nil, fmt.Errorf("dispatch: inferring output schema for tool %q: %w", name, err)
		}
		outputResolved, err = outputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return ToolDescriptor{}, nil, fmt.Errorf("dispatch: resolving output schema for tool %q: %w", name, err)
		}
	}

	t := &typedTool{
		desc: ToolDescriptor{
			Name:         name,
			Description:  description,
			InputSchema:  inputSchema,
			OutputSchema: outputSchema,
		},
		inputResolved:  inputResolved,
		outputResolved: outputResolved,
	}

	handler := func(ctx context.Context, call *Call) (any, error) {
		var args In
		if len(call.Params) > 0 {
			if err := unmarshalAndValidate(call.Params, t.inputResolved, &args); err != nil {
				return nil, fmt.Errorf("dispatch: validating arguments for tool %q: %w", name, err)
			}
		}
		out, err := h(ctx, call, args)
		if err != nil {
			return nil, err
		}
		_ = outputResolved // reserved for output validation once handlers opt in
		return out, nil
	}
	return t.desc, handler, nil
}

// unmarshalAndValidate unmarshals data into v (disallowing unknown fields,
// so a permissive Go struct can't silently swallow bad input the schema
// should have rejected), then applies schema defaults and validates.
// Directly adapted from the teacher's unmarshalSchema (mcp/tool.go).
func unmarshalAndValidate(data []byte, resolved *jsonschema.Resolved, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}
	if resolved != nil {
		if err := resolved.ApplyDefaults(v); err != nil {
			return fmt.Errorf("applying schema defaults: %w", err)
		}
		if err := resolved.Validate(v); err != nil {
			return fmt.Errorf("schema validation: %w", err)
		}
	}
	return nil
}

// ToolTable holds the set of registered tools for tools/list and tools/call,
// sub-dispatching tools/call by the request's "name" field. Kept separate
// from the method Registry because tools/call is one JSON-RPC method slot
// fronting an open set of user-defined tools.
type ToolTable struct {
	order  []string
	byName map[string]toolEntry
}

type toolEntry struct {
	desc    ToolDescriptor
	handler HandlerFunc
}

// NewToolTable returns an empty table.
func NewToolTable() *ToolTable {
	return &ToolTable{byName: make(map[string]toolEntry)}
}

// Add registers a tool. It panics on a duplicate name, a startup-time
// programming error.
func (t *ToolTable) Add(desc ToolDescriptor, handler HandlerFunc) {
	if _, exists := t.byName[desc.Name]; exists {
		panic(fmt.Sprintf("dispatch: tool %q already registered", desc.Name))
	}
	t.order = append(t.order, desc.Name)
	t.byName[desc.Name] = toolEntry{desc: desc, handler: handler}
}

// List returns the tool descriptors in registration order, for tools/list.
func (t *ToolTable) List() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name].desc)
	}
	return out
}

// Dispatch looks up a tool by name and invokes its handler, for use from the
// tools/call Registration.
func (t *ToolTable) Dispatch(ctx context.Context, call *Call, name string) (any, error) {
	entry, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("dispatch: unknown tool %q", name)
	}
	return entry.handler(ctx, call)
}
