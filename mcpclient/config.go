// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds the immutable-after-start options for a Connection.
//
// The Env struct tags let a deployment load Config from the process
// environment via [FromEnviron]; constructing a Config literal and passing
// it to [Start], which fills zero-valued fields with defaults, remains the
// primary, supported path.
type Config struct {
	// RequestTimeout is the default per-call deadline, used when Call is
	// invoked without an explicit timeout override.
	RequestTimeout time.Duration `env:"MCP_REQUEST_TIMEOUT" envDefault:"30s"`
	// InitTimeout bounds the initialize handshake.
	InitTimeout time.Duration `env:"MCP_INIT_TIMEOUT" envDefault:"10s"`
	// BackoffMin is the first reconnect delay.
	BackoffMin time.Duration `env:"MCP_BACKOFF_MIN" envDefault:"1s"`
	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration `env:"MCP_BACKOFF_MAX" envDefault:"30s"`
	// BackoffJitter is the multiplicative randomization factor applied to
	// each backoff delay (e.g. 0.2 for ±20%).
	BackoffJitter float64 `env:"MCP_BACKOFF_JITTER" envDefault:"0.2"`
	// MaxFrameBytes is the hard ceiling on an inbound frame's size.
	MaxFrameBytes int64 `env:"MCP_MAX_FRAME_BYTES" envDefault:"16777216"`
	// SendRetryAttempts is the total number of send attempts for one
	// message, including the first, before giving up with backpressure.
	SendRetryAttempts int `env:"MCP_SEND_RETRY_ATTEMPTS" envDefault:"3"`
	// SendRetryDelay is the base delay between send retries (±50% jitter).
	SendRetryDelay time.Duration `env:"MCP_SEND_RETRY_DELAY" envDefault:"10ms"`
	// TombstoneSweepInterval is how often expired tombstones are dropped.
	TombstoneSweepInterval time.Duration `env:"MCP_TOMBSTONE_SWEEP_INTERVAL" envDefault:"60s"`

	// NotificationHandler receives every server-to-client notification,
	// invoked synchronously on the Connection's event loop. It must be
	// fast: a slow handler blocks subsequent frames (see Transport's
	// active-once flow control).
	NotificationHandler func(method string, params []byte) `env:"-"`

	// ServerRequestHandler answers server-to-client requests (method and id
	// set). If nil, such requests receive a "method not found" error.
	ServerRequestHandler func(method string, params []byte) (result any, rpcErr *RPCError) `env:"-"`

	// Logger receives every structured event the core emits. If nil, a
	// discarding logger is used.
	Logger hclog.Logger `env:"-"`

	// TracerProvider supplies the tracer used to span each call. If nil,
	// the OpenTelemetry no-op provider is used, making tracing a zero-cost
	// no-op by default.
	TracerProvider trace.TracerProvider `env:"-"`

	// ClientName and ClientVersion are sent as clientInfo in the initialize
	// handshake.
	ClientName    string `env:"MCP_CLIENT_NAME" envDefault:"mcpclient"`
	ClientVersion string `env:"MCP_CLIENT_VERSION" envDefault:"0.1.0"`
}

// FromEnviron loads a Config from the process environment, applying
// defaults for any variable that is unset, matching the option set
// documented in the configuration surface.
func FromEnviron() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c.withDefaults(), nil
}

// withDefaults returns a copy of c with zero-valued fields replaced by
// their documented defaults, and a non-nil Logger/TracerProvider.
func (c Config) withDefaults() Config {
	d := defaultConfig()
	if c.RequestTimeout > 0 {
		d.RequestTimeout = c.RequestTimeout
	}
	if c.InitTimeout > 0 {
		d.InitTimeout = c.InitTimeout
	}
	if c.BackoffMin > 0 {
		d.BackoffMin = c.BackoffMin
	}
	if c.BackoffMax > 0 {
		d.BackoffMax = c.BackoffMax
	}
	if c.BackoffJitter > 0 {
		d.BackoffJitter = c.BackoffJitter
	}
	if c.MaxFrameBytes > 0 {
		d.MaxFrameBytes = c.MaxFrameBytes
	}
	if c.SendRetryAttempts > 0 {
		d.SendRetryAttempts = c.SendRetryAttempts
	}
	if c.SendRetryDelay > 0 {
		d.SendRetryDelay = c.SendRetryDelay
	}
	if c.TombstoneSweepInterval > 0 {
		d.TombstoneSweepInterval = c.TombstoneSweepInterval
	}
	if c.NotificationHandler != nil {
		d.NotificationHandler = c.NotificationHandler
	}
	if c.ServerRequestHandler != nil {
		d.ServerRequestHandler = c.ServerRequestHandler
	}
	if c.Logger != nil {
		d.Logger = c.Logger
	}
	if c.TracerProvider != nil {
		d.TracerProvider = c.TracerProvider
	}
	if c.ClientName != "" {
		d.ClientName = c.ClientName
	}
	if c.ClientVersion != "" {
		d.ClientVersion = c.ClientVersion
	}
	return d
}

func defaultConfig() Config {
	return Config{
		RequestTimeout:         30 * time.Second,
		InitTimeout:            10 * time.Second,
		BackoffMin:             1 * time.Second,
		BackoffMax:             30 * time.Second,
		BackoffJitter:          0.2,
		MaxFrameBytes:          16 << 20,
		SendRetryAttempts:      3,
		SendRetryDelay:         10 * time.Millisecond,
		TombstoneSweepInterval: 60 * time.Second,
		Logger:                 hclog.NewNullLogger(),
		TracerProvider:         noop.NewTracerProvider(),
		ClientName:             "mcpclient",
		ClientVersion:          "0.1.0",
	}
}

// tombstoneTTL is the effective time-to-live for a tombstone, computed once
// per insertion. It deliberately ignores per-call timeout overrides:
// responses arriving after a full backoff cycle are considered stale by
// construction.
func (c Config) tombstoneTTL() time.Duration {
	const epsilon = 5 * time.Second
	return c.RequestTimeout + c.InitTimeout + c.BackoffMax + epsilon
}
