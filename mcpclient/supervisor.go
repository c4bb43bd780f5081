// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Supervisor owns a Connection's full lifetime across process-level
// failures that the Connection's own state machine cannot recover from: a
// panic inside the event loop. Transport loss and handshake failure are
// already handled by the Connection itself via its backoff state: a
// Supervisor is the outer layer spec §5 calls rest-for-one, restarting the
// Connection (and so implicitly a fresh Transport) only when the
// Connection's own goroutine dies unexpectedly.
//
// Supervisor's exported methods mirror Connection's (Call, Notify, Stop,
// State) and simply delegate to whichever Connection is currently live, so
// a caller can hold a *Supervisor exactly where it would otherwise hold a
// *Connection.
type Supervisor struct {
	cfg    Config
	dial   DialFunc
	logger hclog.Logger

	current atomic.Pointer[Connection]
	stopped atomic.Bool
	stopCh  chan struct{}
}

// StartSupervised builds a Supervisor, starts the first Connection under
// it, and launches the restart watch loop.
func StartSupervised(ctx context.Context, cfg Config, dial DialFunc) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:    cfg,
		dial:   dial,
		logger: cfg.Logger.Named("supervisor"),
		stopCh: make(chan struct{}),
	}
	conn := Start(ctx, cfg, dial)
	s.current.Store(conn)
	go s.watch(ctx, conn)
	return s
}

// watch waits for the given Connection to either crash or be retired by a
// call to Stop, then restarts it unless the Supervisor itself has been
// stopped.
func (s *Supervisor) watch(ctx context.Context, conn *Connection) {
	select {
	case <-conn.crashedCh:
	case <-conn.closedCh:
		// Either Supervisor.Stop closed it deliberately, or the Connection
		// closed itself; only the former should suppress a restart, and
		// stopped is set before Stop is called on conn, so this is safe.
	case <-s.stopCh:
		return
	}
	if s.stopped.Load() {
		return
	}
	s.logger.Warn("connection unavailable, restarting")
	next := Start(ctx, s.cfg, s.dial)
	s.current.Store(next)
	go s.watch(ctx, next)
}

// Call delegates to the currently live Connection.
func (s *Supervisor) Call(ctx context.Context, method string, params any, timeout time.Duration) (CallResult, error) {
	return s.current.Load().Call(ctx, method, params, timeout)
}

// Notify delegates to the currently live Connection.
func (s *Supervisor) Notify(method string, params any) {
	s.current.Load().Notify(method, params)
}

// State reports the currently live Connection's state.
func (s *Supervisor) State() State {
	return s.current.Load().State()
}

// Stop disables restart and stops the currently live Connection.
func (s *Supervisor) Stop(wait time.Duration) error {
	s.stopped.Store(true)
	close(s.stopCh)
	return s.current.Load().Stop(wait)
}
