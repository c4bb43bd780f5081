// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import "fmt"

// ErrorKind identifies one of the client-local terminal outcomes a Call can
// produce, plus the protocol_error kind used for JSON-RPC errors returned by
// the server.
type ErrorKind string

const (
	// KindTimeout: the per-request deadline expired; the id was tombstoned.
	KindTimeout ErrorKind = "timeout"
	// KindUnavailable: the operation was attempted in a state that cannot
	// serve it (starting, initializing, backoff, closing).
	KindUnavailable ErrorKind = "unavailable"
	// KindTransport: the send failed permanently, or the connection was
	// lost while the request was in flight.
	KindTransport ErrorKind = "transport"
	// KindBackpressure: send_retry_attempts was exhausted against a
	// persistently busy transport.
	KindBackpressure ErrorKind = "backpressure"
	// KindShutdown: the request was retired because the Connection is
	// stopping.
	KindShutdown ErrorKind = "shutdown"
	// KindProtocolError: the server returned a JSON-RPC error, or the
	// client rejected the server's init capabilities locally.
	KindProtocolError ErrorKind = "protocol_error"
)

// Error is the error type returned by Call for every client-local terminal
// outcome (Notify reports no errors to its caller). It never wraps a server JSON-RPC error directly; those
// surface as *RPCError carried in Data.
type Error struct {
	Kind ErrorKind
	// State is set for KindUnavailable: the state the connection was in
	// when the operation was rejected.
	State State
	// Data carries outcome-specific detail, e.g. {"retries": n} for
	// KindBackpressure, or a *RPCError for KindProtocolError.
	Data any
	// Cause is the underlying error, if any (e.g. a transport error).
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnavailable:
		return fmt.Sprintf("mcpclient: unavailable (state=%s)", e.State)
	case KindBackpressure:
		return fmt.Sprintf("mcpclient: backpressure (%v)", e.Data)
	case KindTransport:
		if e.Cause != nil {
			return fmt.Sprintf("mcpclient: transport: %v", e.Cause)
		}
		return "mcpclient: transport"
	case KindProtocolError:
		if rpcErr, ok := e.Data.(*RPCError); ok {
			return fmt.Sprintf("mcpclient: protocol error: %s", rpcErr.Error())
		}
		return "mcpclient: protocol error"
	default:
		return fmt.Sprintf("mcpclient: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func unavailableErr(s State) *Error { return &Error{Kind: KindUnavailable, State: s} }

func timeoutErr() *Error { return &Error{Kind: KindTimeout} }

func shutdownErr() *Error { return &Error{Kind: KindShutdown} }

func transportErr(cause error) *Error { return &Error{Kind: KindTransport, Cause: cause} }

func backpressureErr(retries int) *Error {
	return &Error{Kind: KindBackpressure, Data: map[string]int{"retries": retries}}
}

func protocolErr(rpcErr *RPCError) *Error {
	return &Error{Kind: KindProtocolError, Data: rpcErr}
}

// Standard JSON-RPC 2.0 error codes, preserved verbatim when relaying a
// server error.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCError is a JSON-RPC error object, used both on the wire and to report
// server-returned errors to callers.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
