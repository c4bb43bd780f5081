// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package stdio implements the mcpclient.Transport contract over a child
// process's standard input/output, the conventional way MCP servers are
// launched locally: newline-delimited JSON-RPC text on stdout, and the
// same framing on stdin for outbound frames.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mcpkit/goclient/mcpclient"
)

// Transport runs a child process and exposes its stdio as an
// mcpclient.Transport. One Transport is good for exactly one connection
// attempt: mcpclient.Connection calls Dial again for each reconnect, and
// Dial launches a fresh process each time.
type Transport struct {
	events chan mcpclient.TransportEvent

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	gate chan struct{} // single-slot: receivable iff active-once is armed

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// Dial builds a mcpclient.DialFunc that launches name with args each time it
// is called, piping the child's stdio. It is the constructor to pass to
// mcpclient.Start.
func Dial(name string, args ...string) mcpclient.DialFunc {
	return func(ctx context.Context) (mcpclient.Transport, error) {
		return dial(ctx, name, args...)
	}
}

func dial(ctx context.Context, name string, args ...string) (*Transport, error) {
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stdio: start: %w", err)
	}

	t := &Transport{
		events: make(chan mcpclient.TransportEvent, 1),
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		gate:   make(chan struct{}, 1),
	}
	t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventUp}
	go t.readLoop()
	return t, nil
}

// readLoop is the only goroutine that ever sends on events, satisfying the
// Transport interface's no-concurrent-send requirement. It blocks on gate
// before delivering each frame, so a Connection that has not re-armed with
// SetActive(ActiveOnce) simply stalls the reader rather than buffering
// frames it isn't ready for.
func (t *Transport) readLoop() {
	scanner := bufio.NewScanner(t.stdout)
	// This 16 MiB ceiling is a hard transport-level cap independent of
	// Config.MaxFrameBytes: a line past it surfaces as a scanner error
	// (EventDown, triggering reconnect/backoff) rather than reaching the
	// core's own oversized-frame handling, which can only act on a frame it
	// has actually received. If MaxFrameBytes is ever raised above this, it
	// still can't help a frame this transport never finishes scanning.
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		<-t.gate
		t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventFrame, Frame: frame}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventDown, Err: err}
	close(t.events)
}

// Events implements mcpclient.Transport.
func (t *Transport) Events() <-chan mcpclient.TransportEvent {
	return t.events
}

// Send implements mcpclient.Transport, appending the frame's trailing
// newline itself so callers never need to frame their own output.
func (t *Transport) Send(ctx context.Context, data []byte) (mcpclient.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return mcpclient.SendError, fmt.Errorf("stdio: transport closed")
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return mcpclient.SendError, fmt.Errorf("stdio: write: %w", err)
	}
	return mcpclient.SendOK, nil
}

// SetActive implements mcpclient.Transport. ActiveOnce fills the single-slot
// gate so the next line the reader has already scanned (or will scan) is
// allowed through; ActiveOff drains it back to empty.
func (t *Transport) SetActive(mode mcpclient.Active) {
	switch mode {
	case mcpclient.ActiveOnce:
		select {
		case t.gate <- struct{}{}:
		default:
		}
	case mcpclient.ActiveOff:
		select {
		case <-t.gate:
		default:
		}
	}
}

// Close implements mcpclient.Transport, terminating the child process.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return t.closeErr
	}
	t.closed = true
	t.mu.Unlock()

	t.closeErr = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	return t.closeErr
}
