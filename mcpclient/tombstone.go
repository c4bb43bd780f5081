// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import "time"

// tombstone records that an id has been retired client-side, so a late
// response for it is dropped rather than delivered or misattributed to a
// reused id.
type tombstone struct {
	insertedAt time.Time
	ttl        time.Duration
}

func (t tombstone) expired(now time.Time) bool {
	return now.Sub(t.insertedAt) >= t.ttl
}

// tombstoneTable is the Connection's private set of retired ids. Lookups
// re-check the timestamp even between sweeps, so a tombstone that has
// technically expired but not yet been swept is still treated as expired
// (i.e. absent) rather than as a live hit.
type tombstoneTable struct {
	m map[int64]tombstone
}

func newTombstoneTable() *tombstoneTable {
	return &tombstoneTable{m: make(map[int64]tombstone)}
}

func (t *tombstoneTable) insert(id int64, ttl time.Duration, now time.Time) {
	t.m[id] = tombstone{insertedAt: now, ttl: ttl}
}

// live reports whether id has a non-expired tombstone.
func (t *tombstoneTable) live(id int64, now time.Time) bool {
	ts, ok := t.m[id]
	if !ok {
		return false
	}
	if ts.expired(now) {
		delete(t.m, id)
		return false
	}
	return true
}

// sweep removes every expired entry. Idempotent: calling it twice at the
// same instant yields the same surviving set.
func (t *tombstoneTable) sweep(now time.Time) {
	for id, ts := range t.m {
		if ts.expired(now) {
			delete(t.m, id)
		}
	}
}

func (t *tombstoneTable) len() int { return len(t.m) }
