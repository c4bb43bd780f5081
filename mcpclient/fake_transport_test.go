// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpkit/goclient/mcpclient"
)

// fakeTransport is a scriptable mcpclient.Transport for exercising
// Connection without a real process or socket. Each instance models one
// connection attempt: a Connection redials, which a test observes by
// counting calls to the dial func.
type fakeTransport struct {
	mu      sync.Mutex
	events  chan mcpclient.TransportEvent
	active  chan struct{}
	closed  bool
	onSend  func(frame []byte) (mcpclient.SendResult, error)
	onClose func()
}

func newFakeTransport() *fakeTransport {
	t := &fakeTransport{
		events: make(chan mcpclient.TransportEvent, 16),
		active: make(chan struct{}, 1),
	}
	t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventUp}
	return t
}

func (t *fakeTransport) Events() <-chan mcpclient.TransportEvent { return t.events }

func (t *fakeTransport) Send(ctx context.Context, data []byte) (mcpclient.SendResult, error) {
	t.mu.Lock()
	fn := t.onSend
	t.mu.Unlock()
	if fn != nil {
		return fn(data)
	}
	return mcpclient.SendOK, nil
}

func (t *fakeTransport) SetActive(mode mcpclient.Active) {
	switch mode {
	case mcpclient.ActiveOnce:
		select {
		case t.active <- struct{}{}:
		default:
		}
	case mcpclient.ActiveOff:
		select {
		case <-t.active:
		default:
		}
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

// pushFrame delivers data as a Frame event, respecting the active-once gate
// exactly like a real Transport would: it waits until SetActive has been
// called since the last delivery.
func (t *fakeTransport) pushFrame(data []byte) {
	<-t.active
	t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventFrame, Frame: data}
}

// pushDown delivers a terminal Down event and closes the channel.
func (t *fakeTransport) pushDown(err error) {
	t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventDown, Err: err}
	close(t.events)
}

// wireRequest/wireResponse mirror the minimal JSON-RPC shapes the core
// round-trips, used here only to script the fake server side of the
// handshake and calls.
type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type wireResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Result  any    `json:"result,omitempty"`
}

func decodeWireRequest(frame []byte) (wireRequest, error) {
	var r wireRequest
	err := json.Unmarshal(frame, &r)
	return r, err
}

func encodeInitializeResult(id int64) []byte {
	out, err := json.Marshal(wireResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": "fake-server", "version": "0.0.1"},
		},
	})
	if err != nil {
		panic(err)
	}
	return out
}

// encodeInitializeResultPadded is like encodeInitializeResult but inflates
// the frame past size with an oversized instructions field, for exercising
// the MaxFrameBytes protocol violation path.
func encodeInitializeResultPadded(id int64, size int) []byte {
	pad := make([]byte, size)
	for i := range pad {
		pad[i] = 'x'
	}
	out, err := json.Marshal(wireResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": "fake-server", "version": "0.0.1"},
			"instructions":    string(pad),
		},
	})
	if err != nil {
		panic(err)
	}
	return out
}

func encodeCallResult(id int64, result any) []byte {
	out, err := json.Marshal(wireResponse{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		panic(err)
	}
	return out
}

// autoHandshake drives t through EventUp -> initialize request -> a
// well-formed InitializeResult, leaving the Connection in state ready. The
// watcher is armed synchronously so no Send race is possible with the
// caller (typically the dial func); only the blocking push happens in a
// background goroutine.
func autoHandshake(t *fakeTransport) {
	ch := armRequestWatcher(t, "initialize")
	go func() {
		req := <-ch
		t.pushFrame(encodeInitializeResult(req.ID))
		// The notifications/initialized frame the client sends next is
		// accepted by onSend and needs no response.
	}()
}

// armRequestWatcher installs an onSend handler that reports the next
// request for method on the returned channel, synchronously with respect
// to the caller (the handler is live before armRequestWatcher returns).
func armRequestWatcher(t *fakeTransport, method string) <-chan wireRequest {
	found := make(chan wireRequest, 1)
	t.mu.Lock()
	t.onSend = func(frame []byte) (mcpclient.SendResult, error) {
		req, err := decodeWireRequest(frame)
		if err == nil && req.Method == method {
			select {
			case found <- req:
			default:
			}
		}
		return mcpclient.SendOK, nil
	}
	t.mu.Unlock()
	return found
}

// waitForRequest arms a watcher for method and blocks until it fires. Safe
// to call from the goroutine that will also consume the frame, but callers
// racing with a concurrent dial should use armRequestWatcher directly and
// arm before the race window opens (see autoHandshake).
func waitForRequest(t *fakeTransport, method string) *wireRequest {
	req := <-armRequestWatcher(t, method)
	return &req
}

var errFakeTransportClosed = fmt.Errorf("fake transport closed")
