// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command mcpclient-demo launches an MCP server as a child process over
// stdio, performs the handshake, lists its tools, and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpkit/goclient/mcpclient"
	"github.com/mcpkit/goclient/transport/stdio"
)

func main() {
	command := flag.String("cmd", "", "server command to launch, e.g. \"npx -y @modelcontextprotocol/server-everything\"")
	timeout := flag.Duration("timeout", 15*time.Second, "timeout for the tools/list call")
	flag.Parse()

	if *command == "" {
		fmt.Fprintln(os.Stderr, "usage: mcpclient-demo -cmd \"server-binary arg1 arg2\"")
		os.Exit(2)
	}
	parts := strings.Fields(*command)

	logger := hclog.New(&hclog.LoggerOptions{Name: "mcpclient-demo", Level: hclog.Info})
	cfg := mcpclient.Config{Logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	conn := mcpclient.Start(ctx, cfg, stdio.Dial(parts[0], parts[1:]...))
	defer conn.Stop(5 * time.Second)

	waitReady(ctx, conn)

	res, err := conn.Call(ctx, "tools/list", nil, *timeout)
	if err != nil {
		logger.Error("tools/list failed", "error", err)
		os.Exit(1)
	}
	var pretty map[string]any
	if err := json.Unmarshal(res.Result, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println(string(res.Result))
}

func waitReady(ctx context.Context, conn *mcpclient.Connection) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if conn.State() == mcpclient.StateReady {
			return
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
