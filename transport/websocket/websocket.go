// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package websocket implements the mcpclient.Transport contract over a
// WebSocket connection: a read pump delivers frames as up/frame/down
// events, gated by the same active-once flow control as the other
// transports.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/mcpkit/goclient/auth"
	"github.com/mcpkit/goclient/mcpclient"
)

// Dialer builds a mcpclient.DialFunc connecting to url each time it is
// called. tokenSource, if non-nil, supplies a bearer token attached to the
// upgrade request's Authorization header; it is consulted fresh on every
// dial, so a token minted with a short TTL stays valid across reconnects.
func Dialer(url string, dialer *gorilla.Dialer, tokenSource auth.TokenSource) mcpclient.DialFunc {
	return func(ctx context.Context) (mcpclient.Transport, error) {
		return dial(ctx, url, dialer, tokenSource)
	}
}

func dial(ctx context.Context, url string, dialer *gorilla.Dialer, tokenSource auth.TokenSource) (*Transport, error) {
	if dialer == nil {
		dialer = gorilla.DefaultDialer
	}
	d := *dialer
	d.Subprotocols = []string{"mcp"}

	header := http.Header{}
	if tokenSource != nil {
		tok, err := tokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("websocket: token source: %w", err)
		}
		header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
	}

	conn, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket: dial failed: %w (status: %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket: dial failed: %w", err)
	}

	t := &Transport{
		conn:   conn,
		events: make(chan mcpclient.TransportEvent, 1),
		gate:   make(chan struct{}, 1),
	}
	t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventUp}
	go t.readPump()
	return t, nil
}

// Transport adapts one gorilla/websocket connection to mcpclient.Transport.
type Transport struct {
	conn   *gorilla.Conn
	events chan mcpclient.TransportEvent
	gate   chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// readPump is the transport's single reader goroutine; it is also the only
// goroutine permitted to send on events, matching the Transport interface's
// no-concurrent-send rule.
func (t *Transport) readPump() {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			reason := err
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				reason = nil
			}
			t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventDown, Err: reason}
			close(t.events)
			return
		}
		if kind != gorilla.TextMessage {
			continue // ignore anything that isn't a JSON-RPC text frame
		}
		<-t.gate
		t.events <- mcpclient.TransportEvent{Kind: mcpclient.EventFrame, Frame: data}
	}
}

// Events implements mcpclient.Transport.
func (t *Transport) Events() <-chan mcpclient.TransportEvent {
	return t.events
}

// Send implements mcpclient.Transport.
func (t *Transport) Send(ctx context.Context, data []byte) (mcpclient.SendResult, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	if err := t.conn.WriteMessage(gorilla.TextMessage, data); err != nil {
		return mcpclient.SendError, fmt.Errorf("websocket: write: %w", err)
	}
	return mcpclient.SendOK, nil
}

// SetActive implements mcpclient.Transport via the same single-slot gate
// pattern used by transport/stdio.
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

// Close implements mcpclient.Transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
