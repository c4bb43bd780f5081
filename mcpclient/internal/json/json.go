// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package json provides the JSON codec used on the wire. It wraps
// segmentio/encoding/json rather than the standard library: the core
// marshals every outbound JSON-RPC frame through Marshal, and segmentio's
// codec avoids the reflection overhead of encoding/json on that hot path
// without changing wire compatibility. Inbound frames are decoded by
// internal/jsonrpc2 instead.
package json

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes data into v. Object keys must match struct field names
// or json tags exactly; a key that differs only in case is ignored.
func Unmarshal(data []byte, v any) error {
	rest, err := json.Parse(data, v, json.DontMatchCaseInsensitiveStructFields)
	if err == nil && len(rest) != 0 {
		return fmt.Errorf("json: invalid character %q after top-level value", rest[0])
	}
	return err
}
