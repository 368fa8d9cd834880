// Copyright 2025 The MCP Runtime Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mcprt/core/protocol"
)

// StreamTransport implements the stream transport of spec.md §4.2.1:
// line-delimited JSON over a byte-oriented duplex (typically a pipe, a unix
// socket, or a child process's stdin/stdout). Each envelope is exactly one
// JSON document followed by a single newline; the encoder refuses to emit
// embedded newlines, and malformed lines are surfaced to the session as a
// ParseError rather than treated as fatal to the transport.
type StreamTransport struct {
	r *bufio.Scanner
	w io.Writer
	c io.Closer

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	// incoming carries decoded envelopes (or decode errors) from a
	// background read loop, so that Receive can select on ctx.Done() and
	// Close() concurrently, matching the "pending receives MUST terminate
	// when close() is invoked" requirement.
	incoming chan readResult
}

type readResult struct {
	env *protocol.Envelope
	err error
}

// NewStreamTransport wraps rwc (typically a net.Conn, os.Pipe, or process
// stdio pair) as a StreamTransport. The scanner's buffer grows up to
// maxLine bytes per line; pass 0 for a sensible default (1 MiB), matching
// spec.md §4.2.1's "MUST NOT buffer unbounded inbound data" by capping
// rather than growing without limit.
func NewStreamTransport(rwc io.ReadWriteCloser, maxLine int) *StreamTransport {
	if maxLine <= 0 {
		maxLine = 1 << 20
	}
	scanner := bufio.NewScanner(rwc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	t := &StreamTransport{
		r:        scanner,
		w:        rwc,
		c:        rwc,
		done:     make(chan struct{}),
		incoming: make(chan readResult, 16),
	}
	go t.readLoop()
	return t
}

func (t *StreamTransport) readLoop() {
	defer close(t.incoming)
	for t.r.Scan() {
		line := t.r.Bytes()
		if len(skipBlank(line)) == 0 {
			continue // tolerate leading/blank lines between documents
		}
		env, err := protocol.Decode(line)
		if err != nil {
			select {
			case t.incoming <- readResult{err: err}:
			case <-t.done:
				return
			}
			continue
		}
		select {
		case t.incoming <- readResult{env: env}:
		case <-t.done:
			return
		}
	}
}

func skipBlank(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// Send implements Transport.
func (t *StreamTransport) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encoding envelope: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("transport: writing envelope: %w", err)
	}
	return nil
}

// Receive implements Transport. A malformed line does not close the
// transport: Receive returns the decode error for that one line, and the
// next call to Receive continues with the following line.
func (t *StreamTransport) Receive(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	case res, ok := <-t.incoming:
		if !ok {
			return nil, io.EOF
		}
		if res.err != nil {
			return nil, res.err
		}
		return res.env, nil
	}
}

// Close implements Transport.
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.c.Close()
	})
	return err
}

// Done implements Transport.
func (t *StreamTransport) Done() <-chan struct{} { return t.done }
