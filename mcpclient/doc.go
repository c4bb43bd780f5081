// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package mcpclient implements the core of a Model Context Protocol client:
// a bidirectional JSON-RPC 2.0 peer that maintains a single logical session
// with a remote MCP server across an unreliable [Transport], correlates
// requests with responses, dispatches server-initiated notifications, and
// recovers from connection loss with bounded, predictable semantics.
//
// The package exposes three operations to callers: [Connection.Call],
// [Connection.Notify], and [Start]. Everything else — state transitions,
// request correlation, tombstoning of late responses, bounded send retry,
// and backoff — is an implementation detail of [Connection].
//
// Transport implementations (stdio, WebSocket, ...) are consumers of this
// package's [Transport] interface, not part of it; see the transport/
// subdirectories for the shipped implementations.
package mcpclient
