// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"net/http"
)

// event is a minimal Server-Sent Events frame: the default event type with
// an id and a single data line, matching spec.md §6: "SSE events use the
// default event type with a single data: line containing one JSON-RPC
// envelope." Directly adapted from the teacher's streamableMsg/event
// plumbing in mcp/streamable.go.
type event struct {
	id   string
	data []byte
}

// writeEvent writes one SSE frame to w and flushes it, so the peer observes
// it immediately rather than buffered behind the HTTP server's default
// write coalescing.
func writeEvent(w http.ResponseWriter, e event) (int, error) {
	var buf bytes.Buffer
	if e.id != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.id)
	}
	// data: lines must not contain a bare newline; JSON-RPC envelopes are
	// single-line per protocol.Encode, so one data: line suffices.
	buf.WriteString("data: ")
	buf.Write(e.data)
	buf.WriteString("\n\n")
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return n, err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return n, nil
}

// scanEvents parses an SSE byte stream into a sequence of (event, error)
// pairs, terminating with io.EOF on graceful stream close.
func scanEvents(r io.Reader) iter.Seq2[event, error] {
	return func(yield func(event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

		var cur event
		var dataBuf bytes.Buffer
		flush := func() (event, bool) {
			if dataBuf.Len() == 0 {
				return event{}, false
			}
			cur.data = append([]byte(nil), bytes.TrimSuffix(dataBuf.Bytes(), []byte("\n"))...)
			e := cur
			cur = event{}
			dataBuf.Reset()
			return e, true
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if e, ok := flush(); ok {
					if !yield(e, nil) {
						return
					}
				}
			case len(line) >= 4 && line[:4] == "id: ":
				cur.id = line[4:]
			case len(line) >= 6 && line[:6] == "data: ":
				dataBuf.WriteString(line[6:])
				dataBuf.WriteByte('\n')
			case len(line) >= 5 && line[:5] == "data:":
				dataBuf.WriteString(line[5:])
				dataBuf.WriteByte('\n')
			default:
				// Ignore comments, event:, retry: and unrecognized fields;
				// this runtime only ever emits the default event type.
			}
		}
		if e, ok := flush(); ok {
			if !yield(e, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(event{}, err)
			return
		}
		yield(event{}, io.EOF)
	}
}
