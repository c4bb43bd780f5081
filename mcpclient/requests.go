// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// CallResult is the terminal outcome of a Call, delivered exactly once.
type CallResult struct {
	Result json.RawMessage
	Err    error
}

// requestRecord tracks one in-flight call, from acceptance in state ready
// until exactly one of {delivered reply, timeout, shutdown-fail,
// transport-loss-fail} terminates it.
type requestRecord struct {
	id        int64
	method    string
	reply     chan CallResult // buffered(1); exactly one send ever happens
	startedAt time.Time
	timeout   time.Duration
	timer     *time.Timer
	sessionID uint64
	span      trace.Span
}

// requestTable is the Connection's private map of in-flight requests, keyed
// by id. It is only ever touched from the Connection's event loop, so it
// needs no locking of its own.
type requestTable struct {
	m map[int64]*requestRecord
}

func newRequestTable() *requestTable {
	return &requestTable{m: make(map[int64]*requestRecord)}
}

func (t *requestTable) insert(r *requestRecord) { t.m[r.id] = r }

func (t *requestTable) get(id int64) (*requestRecord, bool) {
	r, ok := t.m[id]
	return r, ok
}

func (t *requestTable) remove(id int64) {
	if r, ok := t.m[id]; ok {
		if r.timer != nil {
			r.timer.Stop()
		}
		delete(t.m, id)
	}
}

func (t *requestTable) len() int { return len(t.m) }

// drain removes every record, stopping its timer, and returns them in
// unspecified order. Used when transport is lost or the Connection is
// stopping, so every in-flight caller can be failed uniformly.
func (t *requestTable) drain() []*requestRecord {
	out := make([]*requestRecord, 0, len(t.m))
	for id, r := range t.m {
		if r.timer != nil {
			r.timer.Stop()
		}
		out = append(out, r)
		delete(t.m, id)
	}
	return out
}
