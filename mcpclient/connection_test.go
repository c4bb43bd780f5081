// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/mcpkit/goclient/mcpclient"
)

func testConfig() mcpclient.Config {
	return mcpclient.Config{
		RequestTimeout:         2 * time.Second,
		InitTimeout:            2 * time.Second,
		BackoffMin:             10 * time.Millisecond,
		BackoffMax:             50 * time.Millisecond,
		BackoffJitter:          0.1,
		MaxFrameBytes:          1 << 20,
		SendRetryAttempts:      3,
		SendRetryDelay:         5 * time.Millisecond,
		TombstoneSweepInterval: 50 * time.Millisecond,
	}
}

func waitForReady(t *testing.T, conn *mcpclient.Connection) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if conn.State() == mcpclient.StateReady {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("connection never reached ready, state=%s", conn.State())
		case <-time.After(time.Millisecond):
		}
	}
}

// S1: happy path - a call accepted in ready receives its result.
func TestCall_HappyPath(t *testing.T) {
	tr := newFakeTransport()
	autoHandshake(tr)

	dialed := 0
	conn := mcpclient.Start(context.Background(), testConfig(), func(ctx context.Context) (mcpclient.Transport, error) {
		dialed++
		return tr, nil
	})
	defer conn.Stop(time.Second)

	waitForReady(t, conn)

	watch := armRequestWatcher(tr, "echo")
	go func() {
		req := <-watch
		tr.pushFrame(encodeCallResult(req.ID, map[string]any{"ok": true}))
	}()

	res, err := conn.Call(context.Background(), "echo", map[string]any{"x": 1}, time.Second)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if len(res.Result) == 0 {
		t.Fatalf("expected non-empty result")
	}
	if dialed != 1 {
		t.Fatalf("expected exactly one dial, got %d", dialed)
	}
}

// P1: a call attempted before the handshake completes fails fast with
// unavailable rather than blocking until ready.
func TestCall_UnavailableBeforeReady(t *testing.T) {
	tr := newFakeTransport()
	// Deliberately do not answer the initialize request, so the Connection
	// stays in initializing.
	conn := mcpclient.Start(context.Background(), testConfig(), func(ctx context.Context) (mcpclient.Transport, error) {
		return tr, nil
	})
	defer conn.Stop(time.Second)

	// Give the loop a moment to move past starting into initializing.
	time.Sleep(20 * time.Millisecond)

	_, err := conn.Call(context.Background(), "echo", nil, time.Second)
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
	var ce *mcpclient.Error
	if !asError(err, &ce) {
		t.Fatalf("expected *mcpclient.Error, got %T: %v", err, err)
	}
	if ce.Kind != mcpclient.KindUnavailable {
		t.Fatalf("expected KindUnavailable, got %v", ce.Kind)
	}
}

// S2: a request that times out is tombstoned, and a response that arrives
// after the timeout is dropped rather than delivered a second time.
func TestCall_TimeoutThenLateResponse(t *testing.T) {
	tr := newFakeTransport()
	autoHandshake(tr)

	cfg := testConfig()
	conn := mcpclient.Start(context.Background(), cfg, func(ctx context.Context) (mcpclient.Transport, error) {
		return tr, nil
	})
	defer conn.Stop(time.Second)
	waitForReady(t, conn)

	watch := armRequestWatcher(tr, "slow")
	lateFrame := make(chan []byte, 1)
	go func() {
		req := <-watch
		lateFrame <- encodeCallResult(req.ID, map[string]any{"late": true})
	}()

	_, err := conn.Call(context.Background(), "slow", nil, 30*time.Millisecond)
	var ce *mcpclient.Error
	if !asError(err, &ce) || ce.Kind != mcpclient.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err)
	}

	// Deliver the late response; it must not panic or be misdelivered. There
	// is no second reply channel to observe, so this mainly exercises that
	// handleResponseFrame's tombstone path does not crash the event loop.
	frame := <-lateFrame
	tr.pushFrame(frame)
	time.Sleep(20 * time.Millisecond)
	if conn.State() != mcpclient.StateReady {
		t.Fatalf("connection should remain ready after a late tombstoned response, got %s", conn.State())
	}
}

// S3/S4: losing the transport mid-session drives the Connection through
// backoff and back to ready once a fresh transport answers the handshake.
func TestConnection_ReconnectsAfterTransportLoss(t *testing.T) {
	var attempt int
	var trs []*fakeTransport
	conn := mcpclient.Start(context.Background(), testConfig(), func(ctx context.Context) (mcpclient.Transport, error) {
		attempt++
		tr := newFakeTransport()
		autoHandshake(tr)
		trs = append(trs, tr)
		return tr, nil
	})
	defer conn.Stop(time.Second)

	waitForReady(t, conn)
	first := trs[0]

	first.pushDown(errFakeTransportClosed)

	deadline := time.After(2 * time.Second)
	for {
		if conn.State() == mcpclient.StateReady && attempt == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("connection never recovered, state=%s attempts=%d", conn.State(), attempt)
		case <-time.After(time.Millisecond):
		}
	}
}

// S5: an oversized inbound frame during the handshake is a protocol
// violation that tears down the transport and re-enters backoff, rather
// than being decoded; a fresh transport on the next attempt still succeeds.
func TestConnection_OversizedInitFrameTriggersBackoffThenRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrameBytes = 300 // smaller than the padded first response, larger than the plain one

	var attempt int
	conn := mcpclient.Start(context.Background(), cfg, func(ctx context.Context) (mcpclient.Transport, error) {
		attempt++
		tr := newFakeTransport()
		if attempt == 1 {
			ch := armRequestWatcher(tr, "initialize")
			go func() {
				req := <-ch
				tr.pushFrame(encodeInitializeResultPadded(req.ID, 400))
			}()
		} else {
			autoHandshake(tr)
		}
		return tr, nil
	})
	defer conn.Stop(time.Second)

	deadline := time.After(2 * time.Second)
	for {
		if conn.State() == mcpclient.StateReady && attempt >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("connection never recovered from oversized frame, state=%s attempts=%d", conn.State(), attempt)
		case <-time.After(time.Millisecond):
		}
	}
}

// S7: Stop fails every in-flight call with shutdown and is idempotent.
func TestStop_FailsInFlightAndIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	autoHandshake(tr)
	conn := mcpclient.Start(context.Background(), testConfig(), func(ctx context.Context) (mcpclient.Transport, error) {
		return tr, nil
	})
	waitForReady(t, conn)

	resultCh := make(chan error, 1)
	go func() {
		_, err := conn.Call(context.Background(), "never-answered", nil, 5*time.Second)
		resultCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := conn.Stop(time.Second); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := conn.Stop(time.Second); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}

	select {
	case err := <-resultCh:
		var ce *mcpclient.Error
		if !asError(err, &ce) || ce.Kind != mcpclient.KindShutdown {
			t.Fatalf("expected KindShutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("in-flight call was never failed by Stop")
	}
}

// S6: a send that reports busy is retried, succeeding before attempts are
// exhausted.
func TestCall_RetriesOnBusyThenSucceeds(t *testing.T) {
	tr := newFakeTransport()
	autoHandshake(tr)
	conn := mcpclient.Start(context.Background(), testConfig(), func(ctx context.Context) (mcpclient.Transport, error) {
		return tr, nil
	})
	defer conn.Stop(time.Second)
	waitForReady(t, conn)

	sendAttempts := 0
	found := make(chan wireRequest, 1)
	tr.mu.Lock()
	tr.onSend = func(frame []byte) (mcpclient.SendResult, error) {
		req, err := decodeWireRequest(frame)
		if err != nil || req.Method != "retried" {
			return mcpclient.SendOK, nil
		}
		sendAttempts++
		if sendAttempts == 1 {
			return mcpclient.SendBusy, nil
		}
		select {
		case found <- req:
		default:
		}
		return mcpclient.SendOK, nil
	}
	tr.mu.Unlock()

	go func() {
		req := <-found
		tr.pushFrame(encodeCallResult(req.ID, map[string]any{"ok": true}))
	}()

	res, err := conn.Call(context.Background(), "retried", nil, time.Second)
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if len(res.Result) == 0 {
		t.Fatalf("expected a result")
	}
}

// asError unwraps err into an *mcpclient.Error, the way a caller handling
// Call's error return is expected to.
func asError(err error, target **mcpclient.Error) bool {
	ce, ok := err.(*mcpclient.Error)
	if !ok {
		return false
	}
	*target = ce
	return true
}
