// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectBackoff computes the doubling, capped, jittered delay the
// Connection waits in state backoff before respawning its transport. The
// doubling-plus-jitter algorithm itself is delegated to
// cenkalti/backoff/v5's ExponentialBackOff rather than hand-rolled: the
// first entry to backoff waits the jittered minimum, and each later entry
// doubles the delay (capped at max) before jittering; on reaching ready the
// delay resets to the floor so a later failure restarts the cycle from the
// minimum.
type reconnectBackoff struct {
	eb *backoff.ExponentialBackOff
}

func newReconnectBackoff(min, max time.Duration, jitter float64) *reconnectBackoff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     min,
		MaxInterval:         max,
		Multiplier:          2.0,
		RandomizationFactor: jitter,
	}
	eb.Reset()
	return &reconnectBackoff{eb: eb}
}

// next returns the current delay, jittered, then advances the internal
// state to min(current * 2, backoff_max) for the following call.
func (b *reconnectBackoff) next() time.Duration {
	return b.eb.NextBackOff()
}

// reset returns the delay to backoff_min, performed whenever the
// Connection reaches ready.
func (b *reconnectBackoff) reset() {
	b.eb.Reset()
}

// jitterDuration applies a ±factor multiplicative jitter to d, used for the
// per-request send-retry delay (§4.2), which is a single jittered step
// rather than a doubling sequence and so does not need the full
// ExponentialBackOff machinery.
func jitterDuration(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * factor
	offset := (rand.Float64()*2 - 1) * delta
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
