// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"context"
	"testing"
	"time"
)

// nopTransport never emits a frame; it is enough for exercising Supervisor's
// restart bookkeeping, which does not depend on reaching state ready.
type nopTransport struct {
	events chan TransportEvent
}

func newNopTransport() *nopTransport {
	t := &nopTransport{events: make(chan TransportEvent, 1)}
	t.events <- TransportEvent{Kind: EventUp}
	return t
}

func (t *nopTransport) Events() <-chan TransportEvent                         { return t.events }
func (t *nopTransport) Send(ctx context.Context, data []byte) (SendResult, error) { return SendOK, nil }
func (t *nopTransport) SetActive(mode Active)                                  {}
func (t *nopTransport) Close() error                                           { return nil }

func TestSupervisor_RestartsOnCrash(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context) (Transport, error) {
		dials++
		return newNopTransport(), nil
	}

	sup := StartSupervised(context.Background(), Config{}, dial)
	defer sup.Stop(time.Second)

	firstGen := sup.current.Load()
	if firstGen == nil {
		t.Fatalf("expected an initial Connection")
	}

	// Simulate the event loop dying unexpectedly, without going through an
	// actual panic: signal crashedCh directly, exactly as run()'s recover
	// would.
	firstGen.crashedCh <- struct{}{}

	deadline := time.After(time.Second)
	for {
		if cur := sup.current.Load(); cur != firstGen {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("supervisor never swapped in a new Connection after crash")
		case <-time.After(time.Millisecond):
		}
	}
	if dials < 2 {
		t.Fatalf("expected at least 2 dials (initial + restart), got %d", dials)
	}
}

func TestSupervisor_StopSuppressesRestart(t *testing.T) {
	dial := func(ctx context.Context) (Transport, error) {
		return newNopTransport(), nil
	}
	sup := StartSupervised(context.Background(), Config{}, dial)

	if err := sup.Stop(time.Second); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	stopped := sup.current.Load()

	time.Sleep(20 * time.Millisecond)
	if sup.current.Load() != stopped {
		t.Fatalf("expected no restart after Stop")
	}
}
