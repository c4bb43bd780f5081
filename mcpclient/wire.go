// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"encoding/json"
	"fmt"

	internaljson "github.com/mcpkit/goclient/mcpclient/internal/json"
	"github.com/mcpkit/goclient/mcpclient/internal/jsonrpc2"
)

// outboundRequest is a JSON-RPC 2.0 request frame sent by the client.
type outboundRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// outboundNotification is a JSON-RPC 2.0 notification frame sent by the
// client (no id, no reply expected).
type outboundNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// outboundResponse answers a server-to-client request.
type outboundResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

func encodeRequest(id int64, method string, params any) ([]byte, error) {
	return internaljson.Marshal(&outboundRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
}

func encodeNotification(method string, params any) ([]byte, error) {
	return internaljson.Marshal(&outboundNotification{JSONRPC: "2.0", Method: method, Params: params})
}

func encodeResponse(id json.RawMessage, result any, rpcErr *RPCError) ([]byte, error) {
	return internaljson.Marshal(&outboundResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

// inboundResponse is a JSON-RPC 2.0 response frame received from the
// server, matched against the request table by ID.
type inboundResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// inboundNotification is a JSON-RPC 2.0 notification received from the
// server (no id).
type inboundNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// inboundServerRequest is a JSON-RPC 2.0 request the server sent to the
// client (both method and id present). The ID is kept opaque (it may be a
// string or number per the JSON-RPC spec) so it can be echoed back verbatim
// in the response.
type inboundServerRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// frameKind classifies a decoded inbound frame per the shape rules in the
// transport message contract: a response has id and (result or error); a
// notification has method and no id; a server-to-client request has both
// method and id.
type frameKind int

const (
	frameUnknown frameKind = iota
	frameResponse
	frameNotification
	frameServerRequest
)

type frameShape struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// classifyFrame determines a frame's kind without committing to a full
// decode, so a response and a server-request can be routed to different
// concrete types.
func classifyFrame(data []byte) (frameKind, error) {
	var shape frameShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return frameUnknown, err
	}
	hasID := len(shape.ID) > 0 && string(shape.ID) != "null"
	hasMethod := shape.Method != ""
	hasPayload := len(shape.Result) > 0 || len(shape.Error) > 0

	switch {
	case hasID && hasPayload && !hasMethod:
		return frameResponse, nil
	case hasMethod && hasID:
		return frameServerRequest, nil
	case hasMethod && !hasID:
		return frameNotification, nil
	default:
		return frameUnknown, fmt.Errorf("mcpclient: frame matches neither response, notification, nor request shape")
	}
}

func decodeResponse(data []byte) (*inboundResponse, error) {
	var r inboundResponse
	if err := jsonrpc2.StrictUnmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeNotification(data []byte) (*inboundNotification, error) {
	var n inboundNotification
	if err := jsonrpc2.StrictUnmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func decodeServerRequest(data []byte) (*inboundServerRequest, error) {
	var r inboundServerRequest
	if err := jsonrpc2.StrictUnmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
