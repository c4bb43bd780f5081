// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

// methodCancelAllSessions is the notification method a server sends to force
// a full re-handshake without tearing down the transport: every pending
// request is tombstoned, capabilities are dropped, and the Connection
// re-enters initializing over the same transport instance. Spec §4.1 names
// this the server_cancel_all event but leaves its wire trigger unspecified;
// this method name is the core's concrete binding of that event (see
// DESIGN.md).
const methodCancelAllSessions = "notifications/session_invalidated"

// DialFunc constructs a fresh Transport. The Connection calls it once at
// start and again every time state backoff expires.
type DialFunc func(ctx context.Context) (Transport, error)

// Connection is a single bidirectional JSON-RPC session with one remote MCP
// server, owning the lifecycle state machine described at package level. All
// mutable state is confined to one goroutine (run); every exported method
// communicates with it over a channel, so a Connection is safe to share
// across goroutines.
type Connection struct {
	cfg     Config
	dial    DialFunc
	logger  hclog.Logger
	dialCtx context.Context

	// id identifies this Connection across its whole lifetime, including
	// every reconnect cycle, distinct from sessionID which bumps on each
	// successful handshake. It exists purely to correlate log lines and
	// spans from one Connection when several run in the same process.
	id uuid.UUID

	inbox chan *inboxMsg

	closed   atomic.Bool
	closedCh chan struct{}

	// crashedCh receives a value if run's goroutine recovers from a panic
	// instead of exiting via the normal closing transition. A Supervisor
	// watches this to restart the Connection; a Connection used directly
	// (no Supervisor) simply leaves it undrained.
	crashedCh chan struct{}

	// stateVal holds the current State as an int32, written from run's
	// goroutine (or from Start, when the first dial fails) and readable from
	// any goroutine via State() for diagnostics.
	stateVal atomic.Int32

	// Fields below this point are touched only from run's goroutine, apart
	// from the first spawnTransport call, which Start makes on its caller's
	// goroutine before any transport event can reach run.
	transport    Transport
	transportGen uint64
	backoffGen   uint64

	nextReqID int64
	sessionID uint64

	requests       *requestTable
	retries        *retryTable
	retryCallbacks map[int64]retryCallbacks
	tombstones     *tombstoneTable
	backoff        *reconnectBackoff

	initTimer    *time.Timer
	backoffTimer *time.Timer
	sweepTicker  *time.Ticker
}

// Start constructs a Connection, dials the first transport, and launches its
// event loop in the background. It never blocks on the handshake completing;
// use Call, which fails fast with unavailable until the Connection is ready.
func Start(ctx context.Context, cfg Config, dial DialFunc) *Connection {
	cfg = cfg.withDefaults()
	id := uuid.New()
	c := &Connection{
		cfg:        cfg,
		dial:       dial,
		logger:     cfg.Logger.With("conn_id", id.String()),
		dialCtx:    ctx,
		id:         id,
		inbox:      make(chan *inboxMsg, 256),
		closedCh:   make(chan struct{}),
		crashedCh:  make(chan struct{}, 1),
		requests:   newRequestTable(),
		retries:    newRetryTable(),
		tombstones: newTombstoneTable(),
		backoff:    newReconnectBackoff(cfg.BackoffMin, cfg.BackoffMax, cfg.BackoffJitter),
		nextReqID:  1,
	}
	c.sweepTicker = time.NewTicker(cfg.TombstoneSweepInterval)
	go c.sweepLoop()
	go c.run()
	c.spawnTransport()
	return c
}

func (c *Connection) sweepLoop() {
	for {
		select {
		case <-c.sweepTicker.C:
			select {
			case c.inbox <- &inboxMsg{kind: msgSweep}:
			case <-c.closedCh:
				return
			}
		case <-c.closedCh:
			return
		}
	}
}

// Call sends a request and blocks until exactly one terminal outcome is
// available: a result, or an *Error identifying which kind of failure
// occurred. timeout of zero uses Config.RequestTimeout. If ctx is done first,
// Call returns ctx.Err() without waiting; the request itself stays pending
// until its own terminal outcome.
func (c *Connection) Call(ctx context.Context, method string, params any, timeout time.Duration) (CallResult, error) {
	reply := make(chan CallResult, 1)
	req := &callRequest{ctx: ctx, method: method, params: params, timeout: timeout, reply: reply}
	msg := &inboxMsg{kind: msgCall, call: req}
	select {
	case c.inbox <- msg:
	case <-c.closedCh:
		return CallResult{}, shutdownErr()
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return CallResult{}, ctx.Err()
	}
}

// Notify sends a best-effort notification. It never blocks on a reply and
// never returns a caller-visible error for a dropped or failed send; those
// are logged instead.
func (c *Connection) Notify(method string, params any) {
	msg := &inboxMsg{kind: msgNotify, notify: &notifyRequest{method: method, params: params}}
	select {
	case c.inbox <- msg:
	case <-c.closedCh:
	}
}

// Stop idempotently transitions the Connection to closing, failing every
// pending call with shutdown, then returns. A second call returns
// immediately once the first has completed. wait bounds how long Stop waits
// for the closing transition to finish before giving up and returning nil
// anyway (the transition still completes in the background).
func (c *Connection) Stop(wait time.Duration) error {
	if c.closed.Load() {
		return nil
	}
	done := make(chan error, 1)
	select {
	case c.inbox <- &inboxMsg{kind: msgStop, stopReply: done}:
	case <-c.closedCh:
		return nil
	}
	if wait <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(wait):
		return nil
	}
}

// State reports the Connection's current lifecycle state. Intended for
// observability; callers must not branch application logic on it (Call
// already returns unavailable when the state cannot serve it).
func (c *Connection) State() State {
	return State(c.stateVal.Load())
}

// setState is called only from run's goroutine.
func (c *Connection) setState(s State) {
	c.stateVal.Store(int32(s))
}

// getState is called only from run's goroutine; it reads the same value
// State() reads, just without the cross-goroutine memory-ordering concern.
func (c *Connection) getState() State {
	return State(c.stateVal.Load())
}

// --- internal message plumbing -------------------------------------------

type msgKind int

const (
	msgTransportEvent msgKind = iota
	msgCall
	msgNotify
	msgStop
	msgRequestTimeout
	msgInitTimeout
	msgBackoffExpire
	msgRetryTimer
	msgSweep
)

type inboxMsg struct {
	kind       msgKind
	generation uint64

	te        TransportEvent
	call      *callRequest
	notify    *notifyRequest
	stopReply chan error

	timeoutID int64
	retryID   int64
}

type callRequest struct {
	ctx     context.Context
	method  string
	params  any
	timeout time.Duration
	reply   chan CallResult
}

type notifyRequest struct {
	method string
	params any
}

// --- event loop ------------------------------------------------------------

// run is the Connection's single event loop goroutine. A panic anywhere in
// dispatch is recovered here rather than left to crash the process: it is
// reported as a crash signal (distinct from the normal closing exit) so a
// Supervisor can restart the Connection, matching the rest-for-one policy
// of spec §5.
func (c *Connection) run() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("connection event loop panicked", "recover", r)
			select {
			case c.crashedCh <- struct{}{}:
			default:
			}
		}
	}()
	for msg := range c.inbox {
		c.dispatch(msg)
		if c.getState() == StateClosing && c.closed.Load() {
			c.finalizeClose()
			return
		}
	}
}

func (c *Connection) dispatch(msg *inboxMsg) {
	switch msg.kind {
	case msgTransportEvent:
		if msg.generation != c.transportGen {
			return // stale event from a superseded transport instance
		}
		c.onTransportEvent(msg.te)
	case msgCall:
		c.onCall(msg.call)
	case msgNotify:
		c.onNotify(msg.notify)
	case msgStop:
		c.onStop(msg.stopReply)
	case msgRequestTimeout:
		c.onRequestTimeout(msg.timeoutID)
	case msgInitTimeout:
		if msg.generation != c.transportGen {
			return
		}
		c.onInitTimeout()
	case msgBackoffExpire:
		if msg.generation != c.backoffGen {
			return
		}
		c.onBackoffExpire()
	case msgRetryTimer:
		c.onRetryTimer(msg.retryID)
	case msgSweep:
		c.tombstones.sweep(time.Now())
	}
}

// finalizeClose runs once, after the closing transition's own actions have
// already completed synchronously inside onStop. It stops background
// tickers and lets run exit; closedCh is already closed by onStop so new
// Call/Notify/Stop calls fail fast without needing the loop.
func (c *Connection) finalizeClose() {
	c.sweepTicker.Stop()
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	if c.backoffTimer != nil {
		c.backoffTimer.Stop()
	}
}

// --- transport lifecycle ----------------------------------------------------

func (c *Connection) spawnTransport() {
	c.transportGen++
	gen := c.transportGen
	tr, err := c.dial(c.dialCtx)
	if err != nil {
		c.logger.Warn("transport dial failed", "error", err)
		c.enterBackoff(err)
		return
	}
	c.transport = tr
	go c.forwardTransportEvents(tr, gen)
}

func (c *Connection) forwardTransportEvents(tr Transport, gen uint64) {
	for ev := range tr.Events() {
		select {
		case c.inbox <- &inboxMsg{kind: msgTransportEvent, generation: gen, te: ev}:
		case <-c.closedCh:
			return
		}
	}
}

func (c *Connection) onTransportEvent(te TransportEvent) {
	switch c.getState() {
	case StateStarting:
		switch te.Kind {
		case EventUp:
			c.toInitializing()
		case EventDown:
			c.enterBackoff(te.Err)
		}
	case StateInitializing:
		switch te.Kind {
		case EventFrame:
			c.handleInitFrame(te.Frame)
		case EventDown:
			c.failAllPending(transportErr(te.Err), true)
			c.enterBackoff(te.Err)
		}
	case StateReady:
		switch te.Kind {
		case EventFrame:
			c.handleReadyFrame(te.Frame)
		case EventDown:
			c.failAllPending(transportErr(te.Err), true)
			c.enterBackoff(te.Err)
		}
	case StateBackoff, StateClosing:
		// drop per transition table
	}
}

func (c *Connection) toInitializing() {
	c.setState(StateInitializing)
	id := c.nextID()
	params := &InitializeParams{
		ProtocolVersion: negotiatedProtocolVersion,
		Capabilities:    &ClientCapabilities{},
		ClientInfo:      &Implementation{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	}
	frame, err := encodeRequest(id, methodInitialize, params)
	if err != nil {
		c.logger.Error("failed to encode initialize request", "error", err)
		c.enterBackoff(err)
		return
	}
	gen := c.transportGen
	c.armInitTimer(gen)
	c.sendWithRetry(id, frame,
		func() { c.transport.SetActive(ActiveOnce) },
		func(permanent bool, cause error) { c.enterBackoff(cause) },
		nil,
	)
	// The transport is armed for the response frame only by onSuccess, once
	// the initialize request has actually been sent (first attempt or a
	// later retry).
}

func (c *Connection) armInitTimer(gen uint64) {
	c.initTimer = time.AfterFunc(c.cfg.InitTimeout, func() {
		select {
		case c.inbox <- &inboxMsg{kind: msgInitTimeout, generation: gen}:
		case <-c.closedCh:
		}
	})
}

func (c *Connection) handleInitFrame(frame []byte) {
	if int64(len(frame)) > c.cfg.MaxFrameBytes {
		c.logger.Error("protocol_violation", "reason", "frame_too_large", "frame_size", len(frame), "max", c.cfg.MaxFrameBytes)
		c.closeTransport()
		c.enterBackoff(fmt.Errorf("mcpclient: frame size %d exceeds max %d", len(frame), c.cfg.MaxFrameBytes))
		return
	}
	kind, err := classifyFrame(frame)
	if err != nil {
		c.logger.Warn("unparsable frame during initialize", "error", err)
		c.rearmTransport()
		return
	}
	if kind != frameResponse {
		// Only a response to the initialize request is meaningful here;
		// anything else during the handshake is logged and ignored.
		c.logger.Warn("unexpected frame kind during initialize", "kind", kind)
		c.rearmTransport()
		return
	}
	resp, err := decodeResponse(frame)
	if err != nil {
		c.logger.Warn("malformed initialize response", "error", err)
		c.closeTransport()
		c.enterBackoff(err)
		return
	}
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	if resp.Error != nil {
		c.logger.Warn("initialize rejected by server", "code", resp.Error.Code, "message", resp.Error.Message)
		c.closeTransport()
		c.enterBackoff(resp.Error)
		return
	}
	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil || result.ProtocolVersion == "" {
		c.logger.Warn("malformed initialize result", "error", err)
		c.closeTransport()
		c.enterBackoff(err)
		return
	}
	c.sessionID++
	c.backoff.reset()
	c.setState(StateReady)
	c.logger.Info("connection ready", "session_id", c.sessionID, "server", result.ServerInfo)
	if ackFrame, err := encodeNotification(methodInitialized, nil); err == nil {
		c.sendWithRetry(0, ackFrame, func() {}, func(permanent bool, cause error) {
			c.logger.Warn("failed to send initialized notification", "error", cause)
		}, nil)
	}
	c.rearmTransport()
}

func (c *Connection) handleReadyFrame(frame []byte) {
	if int64(len(frame)) > c.cfg.MaxFrameBytes {
		c.logger.Error("protocol_violation", "reason", "frame_too_large", "frame_size", len(frame), "max", c.cfg.MaxFrameBytes)
		c.failAllPending(transportErr(fmt.Errorf("mcpclient: oversized frame")), true)
		c.closeTransport()
		c.enterBackoff(fmt.Errorf("mcpclient: frame size %d exceeds max %d", len(frame), c.cfg.MaxFrameBytes))
		return
	}
	kind, err := classifyFrame(frame)
	if err != nil {
		c.logger.Warn("unparsable frame", "error", err)
		c.rearmTransport()
		return
	}
	switch kind {
	case frameResponse:
		c.handleResponseFrame(frame)
	case frameNotification:
		c.handleNotificationFrame(frame)
	case frameServerRequest:
		c.handleServerRequestFrame(frame)
	default:
		c.logger.Warn("frame matches no known shape", "bytes", len(frame))
	}
	c.rearmTransport()
}

func (c *Connection) rearmTransport() {
	if c.transport != nil {
		c.transport.SetActive(ActiveOnce)
	}
}

func (c *Connection) closeTransport() {
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
}

// --- response / notification / server-request handling ----------------------

func (c *Connection) handleResponseFrame(frame []byte) {
	resp, err := decodeResponse(frame)
	if err != nil {
		c.logger.Warn("malformed response frame", "error", err)
		return
	}
	now := time.Now()
	rec, ok := c.requests.get(resp.ID)
	if !ok {
		if c.tombstones.live(resp.ID, now) {
			return // drop silently: tombstone hit
		}
		c.logger.Warn("response for unknown id", "id", resp.ID)
		return
	}
	if rec.sessionID != c.sessionID {
		// Stale session: every drain (transport loss, re-handshake,
		// shutdown) already fails and removes its records before sessionID
		// bumps, so this should not happen in practice. Kept as a defensive
		// fallback: still deliver exactly one terminal outcome rather than
		// stranding the caller with no reply and a stopped timer.
		recordTombstoneDrop(rec.span, resp.ID)
		c.requests.remove(resp.ID)
		e := transportErr(fmt.Errorf("mcpclient: response for id %d belongs to a stale session", resp.ID))
		endCallSpan(rec.span, string(e.Kind), e)
		rec.reply <- CallResult{Err: e}
		return
	}
	c.requests.remove(resp.ID)
	var res CallResult
	if resp.Error != nil {
		res.Err = protocolErr(resp.Error)
		endCallSpan(rec.span, string(KindProtocolError), res.Err)
	} else {
		res.Result = resp.Result
		endCallSpan(rec.span, "ok", nil)
	}
	rec.reply <- res
}

func (c *Connection) handleNotificationFrame(frame []byte) {
	n, err := decodeNotification(frame)
	if err != nil {
		c.logger.Warn("malformed notification frame", "error", err)
		return
	}
	if n.Method == methodCancelAllSessions {
		c.onServerCancelAll()
		return
	}
	if c.cfg.NotificationHandler == nil {
		return
	}
	c.safeInvokeHandler(n.Method, n.Params)
}

func (c *Connection) safeInvokeHandler(method string, params []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification handler panicked", "method", method, "recover", r)
		}
	}()
	c.cfg.NotificationHandler(method, params)
}

func (c *Connection) handleServerRequestFrame(frame []byte) {
	req, err := decodeServerRequest(frame)
	if err != nil {
		c.logger.Warn("malformed server request frame", "error", err)
		return
	}
	var result any
	var rpcErr *RPCError
	if c.cfg.ServerRequestHandler == nil {
		rpcErr = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	} else {
		result, rpcErr = c.invokeServerRequestHandler(req.Method, req.Params)
	}
	out, err := encodeResponse(req.ID, result, rpcErr)
	if err != nil {
		c.logger.Error("failed to encode server-request response", "error", err)
		return
	}
	c.sendWithRetry(0, out, func() {}, func(permanent bool, cause error) {
		c.logger.Warn("failed to send server-request response", "method", req.Method, "error", cause)
	}, nil)
}

func (c *Connection) invokeServerRequestHandler(method string, params []byte) (result any, rpcErr *RPCError) {
	defer func() {
		if r := recover(); r != nil {
			rpcErr = &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("handler panicked: %v", r)}
		}
	}()
	return c.cfg.ServerRequestHandler(method, params)
}

func (c *Connection) onServerCancelAll() {
	cancelCause := protocolErr(&RPCError{Code: CodeInternalError, Message: "session invalidated by server"})
	c.failAllPending(cancelCause, true)
	c.clearRetries(cancelCause)
	c.setState(StateInitializing)
	id := c.nextID()
	params := &InitializeParams{
		ProtocolVersion: negotiatedProtocolVersion,
		Capabilities:    &ClientCapabilities{},
		ClientInfo:      &Implementation{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	}
	frame, err := encodeRequest(id, methodInitialize, params)
	if err != nil {
		c.enterBackoff(err)
		return
	}
	gen := c.transportGen
	c.armInitTimer(gen)
	c.sendWithRetry(id, frame, func() { c.rearmTransport() }, func(permanent bool, cause error) { c.enterBackoff(cause) }, nil)
}

// --- calls / notifications --------------------------------------------------

func (c *Connection) onCall(req *callRequest) {
	if c.getState() != StateReady {
		req.reply <- CallResult{Err: unavailableErr(c.getState())}
		return
	}
	id := c.nextID()
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	frame, err := encodeRequest(id, req.method, req.params)
	if err != nil {
		req.reply <- CallResult{Err: &Error{Kind: KindProtocolError, Cause: err}}
		return
	}
	spanCtx := req.ctx
	if spanCtx == nil {
		spanCtx = context.Background()
	}
	_, span := startCallSpan(spanCtx, c.cfg.TracerProvider, req.method, id, c.sessionID)
	sessionID := c.sessionID
	method := req.method
	reply := req.reply

	onSuccess := func() {
		rec := &requestRecord{id: id, method: method, reply: reply, startedAt: time.Now(), timeout: timeout, sessionID: sessionID, span: span}
		rec.timer = time.AfterFunc(timeout, func() {
			select {
			case c.inbox <- &inboxMsg{kind: msgRequestTimeout, timeoutID: id}:
			case <-c.closedCh:
			}
		})
		c.requests.insert(rec)
	}
	onGiveUp := func(permanent bool, cause error) {
		// clearRetries (backoff/re-handshake/shutdown) passes an already
		// classified *Error as cause; a genuine send failure passes a raw
		// error that still needs classifying here.
		e, ok := cause.(*Error)
		if !ok {
			if permanent {
				e = transportErr(cause)
			} else {
				e = backpressureErr(c.cfg.SendRetryAttempts)
			}
		}
		endCallSpan(span, string(e.Kind), e)
		reply <- CallResult{Err: e}
	}
	c.sendWithRetry(id, frame, onSuccess, onGiveUp, span)
}

func (c *Connection) onNotify(req *notifyRequest) {
	if c.getState() != StateReady {
		c.logger.Warn("dropping notification: connection not ready", "method", req.method, "state", c.getState())
		return
	}
	frame, err := encodeNotification(req.method, req.params)
	if err != nil {
		c.logger.Warn("failed to encode notification", "method", req.method, "error", err)
		return
	}
	c.sendWithRetry(0, frame, func() {}, func(permanent bool, cause error) {
		c.logger.Warn("failed to send notification", "method", req.method, "error", cause)
	}, nil)
}

// --- timeouts / cancellation -------------------------------------------------

func (c *Connection) onRequestTimeout(id int64) {
	rec, ok := c.requests.get(id)
	if !ok {
		return // raced with response or shutdown; no-op per P8
	}
	c.requests.remove(id)
	cancelFrame, err := encodeNotification(methodCancelled, &CancelledParams{RequestID: id})
	if err == nil && c.getState() == StateReady {
		c.sendWithRetry(0, cancelFrame, func() {}, func(permanent bool, cause error) {
			c.logger.Warn("failed to send cancellation notification", "id", id, "error", cause)
		}, nil)
	}
	c.tombstones.insert(id, c.cfg.tombstoneTTL(), time.Now())
	e := timeoutErr()
	endCallSpan(rec.span, string(KindTimeout), e)
	rec.reply <- CallResult{Err: e}
}

// --- backoff / reconnect -----------------------------------------------------

func (c *Connection) enterBackoff(reason error) {
	c.closeTransport()
	c.clearRetries(transportErr(reason))
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	c.setState(StateBackoff)
	delay := c.backoff.next()
	c.backoffGen++
	gen := c.backoffGen
	c.logger.Info("entering backoff", "delay", delay, "reason", reason)
	c.backoffTimer = time.AfterFunc(delay, func() {
		select {
		case c.inbox <- &inboxMsg{kind: msgBackoffExpire, generation: gen}:
		case <-c.closedCh:
		}
	})
}

func (c *Connection) onBackoffExpire() {
	c.setState(StateStarting)
	c.spawnTransport()
}

func (c *Connection) onInitTimeout() {
	c.failAllPending(timeoutErr(), true)
	c.enterBackoff(fmt.Errorf("mcpclient: initialize handshake timed out after %s", c.cfg.InitTimeout))
}

// --- shutdown -----------------------------------------------------------------

func (c *Connection) onStop(reply chan error) {
	if c.getState() == StateClosing {
		if reply != nil {
			reply <- nil
		}
		return
	}
	c.setState(StateClosing)
	c.failAllPending(shutdownErr(), false)
	c.clearRetries(shutdownErr())
	c.closeTransport()
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	if c.backoffTimer != nil {
		c.backoffTimer.Stop()
	}
	c.closed.Store(true)
	close(c.closedCh)
	if reply != nil {
		reply <- nil
	}
}

// failAllPending fails every in-flight request with err, uniformly: used on
// transport loss, re-handshake, state-timeout, oversized frames, and
// shutdown. Every drained id is tombstoned so a response that arrives late
// (after a new request reuses no id, but the old id's reply is still in
// flight on the wire) is dropped rather than logged as unknown or, worse,
// delivered to whichever unrelated record now occupies a reused slot.
// Shutdown passes tombstone=false: closedCh already prevents the event loop
// from processing any further frame, so no later response can reach
// handleResponseFrame for these ids to begin with.
func (c *Connection) failAllPending(err error, tombstone bool) {
	now := time.Now()
	for _, rec := range c.requests.drain() {
		e, ok := err.(*Error)
		if !ok {
			e = transportErr(err)
		}
		if tombstone {
			c.tombstones.insert(rec.id, c.cfg.tombstoneTTL(), now)
		}
		endCallSpan(rec.span, string(e.Kind), e)
		rec.reply <- CallResult{Err: e}
	}
}

// --- send path with bounded retry on busy ------------------------------------

func (c *Connection) sendWithRetry(id int64, frame []byte, onSuccess func(), onGiveUp func(permanent bool, cause error), span trace.Span) {
	if c.transport == nil {
		onGiveUp(true, fmt.Errorf("mcpclient: no transport"))
		return
	}
	res, err := c.transport.Send(context.Background(), frame)
	switch res {
	case SendOK:
		onSuccess()
	case SendBusy:
		rr := &retryRecord{id: id, frame: frame, attempt: 1}
		delay := jitterDuration(c.cfg.SendRetryDelay, 0.5)
		rr.timer = time.AfterFunc(delay, func() {
			select {
			case c.inbox <- &inboxMsg{kind: msgRetryTimer, retryID: id}:
			case <-c.closedCh:
			}
		})
		c.retries.insert(rr)
		c.pendingCallbacks(id, onSuccess, onGiveUp, span)
	case SendError:
		onGiveUp(true, err)
	}
}

// retryCallbacks holds the closures (and, for a call, its span) a
// retryRecord needs once its send finally resolves; kept out of retryRecord
// itself so retry.go stays free of Connection-specific types.
type retryCallbacks struct {
	onSuccess func()
	onGiveUp  func(permanent bool, cause error)
	span      trace.Span // nil for notifications and server-request replies
}

func (c *Connection) pendingCallbacks(id int64, onSuccess func(), onGiveUp func(permanent bool, cause error), span trace.Span) {
	if c.retryCallbacks == nil {
		c.retryCallbacks = make(map[int64]retryCallbacks)
	}
	c.retryCallbacks[id] = retryCallbacks{onSuccess: onSuccess, onGiveUp: onGiveUp, span: span}
}

// clearRetries fails every in-flight retry with cause via its onGiveUp
// callback, then discards the retry table and callback map wholesale. Used
// whenever in-flight work is being abandoned (entering backoff, re-handshake,
// shutdown): without this, a call whose send was still retrying (and so
// never made it into the request table) would wait forever for a reply that
// can now never arrive.
func (c *Connection) clearRetries(cause error) {
	for id, cb := range c.retryCallbacks {
		cb.onGiveUp(true, cause)
		delete(c.retryCallbacks, id)
	}
	c.retries.clear()
}

func (c *Connection) onRetryTimer(id int64) {
	rr, ok := c.retries.get(id)
	if !ok {
		return // cleared already (closing, or already resolved) - no-op
	}
	cb, hasCB := c.retryCallbacks[id]
	if !hasCB {
		c.retries.remove(id)
		return
	}
	if c.transport == nil {
		c.retries.remove(id)
		delete(c.retryCallbacks, id)
		cb.onGiveUp(true, fmt.Errorf("mcpclient: no transport"))
		return
	}
	res, err := c.transport.Send(context.Background(), rr.frame)
	switch res {
	case SendOK:
		c.retries.remove(id)
		delete(c.retryCallbacks, id)
		cb.onSuccess()
	case SendBusy:
		newAttempt := rr.attempt + 1
		if newAttempt >= c.cfg.SendRetryAttempts {
			c.retries.remove(id)
			delete(c.retryCallbacks, id)
			cb.onGiveUp(false, nil)
			return
		}
		rr.attempt = newAttempt
		recordRetryEvent(cb.span, newAttempt)
		delay := jitterDuration(c.cfg.SendRetryDelay, 0.5)
		rr.timer = time.AfterFunc(delay, func() {
			select {
			case c.inbox <- &inboxMsg{kind: msgRetryTimer, retryID: id}:
			case <-c.closedCh:
			}
		})
	case SendError:
		c.retries.remove(id)
		delete(c.retryCallbacks, id)
		cb.onGiveUp(true, err)
	}
}

func (c *Connection) nextID() int64 {
	id := c.nextReqID
	c.nextReqID++
	return id
}
