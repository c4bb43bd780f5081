// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file holds the small set of protocol types the core needs to run
// the initialize handshake and request cancellation. Everything else in
// the MCP schema (tools, resources, prompts, sampling, roots, logging) is a
// feature-module concern layered on top of Call/Notify/Start and is
// intentionally not reproduced here: the core treats params/result as
// opaque objects (see the transport message contract).
package mcpclient

// Implementation describes either end of a session (client or server).
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities describes what this client supports. The core only
// round-trips this value; it does not interpret it.
type ClientCapabilities struct {
	Experimental map[string]any `json:"experimental,omitempty"`
	Roots        *struct {
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"roots,omitempty"`
	Sampling *struct{} `json:"sampling,omitempty"`
}

// ServerCapabilities describes what the server supports, as returned in the
// initialize response. The core validates only that this is a well-formed
// JSON object (§4.1's "caps well-formed" guard); it does not otherwise
// interpret the contents.
type ServerCapabilities map[string]any

// InitializeParams is sent by the client to start the handshake.
type InitializeParams struct {
	ProtocolVersion string               `json:"protocolVersion"`
	Capabilities    *ClientCapabilities  `json:"capabilities"`
	ClientInfo      *Implementation      `json:"clientInfo"`
}

// InitializeResult is the server's handshake reply.
type InitializeResult struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    ServerCapabilities  `json:"capabilities"`
	ServerInfo      *Implementation     `json:"serverInfo"`
	Instructions    string              `json:"instructions,omitempty"`
}

// CancelledParams is the notification sent when a per-request timer fires,
// informing the server that the client has given up on a request (the
// server may ignore it).
type CancelledParams struct {
	RequestID int64 `json:"requestId"`
}

const methodInitialize = "initialize"
const methodInitialized = "notifications/initialized"
const methodCancelled = "notifications/cancelled"

// negotiatedProtocolVersion is the MCP protocol version this client
// requests during the handshake.
const negotiatedProtocolVersion = "2025-06-18"
