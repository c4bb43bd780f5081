// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcpclient

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mcpkit/goclient/mcpclient"

// startCallSpan opens the span covering one accepted call, from acceptance
// to terminal outcome. Attributes mirror the structured logging fields
// (§4.6) so traces and logs can be correlated by request id.
func startCallSpan(ctx context.Context, tp trace.TracerProvider, method string, id int64, sessionID uint64) (context.Context, trace.Span) {
	tracer := tp.Tracer(tracerName)
	return tracer.Start(ctx, "mcp.call/"+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("mcp.request_id", id),
			attribute.String("mcp.method", method),
			attribute.Int64("mcp.session_id", int64(sessionID)),
		),
	)
}

// endCallSpan records the terminal outcome kind and, for errors, the cause,
// then ends the span. Called exactly once per span, mirroring the
// exactly-once terminal outcome guarantee for the request itself.
func endCallSpan(span trace.Span, outcomeKind string, err error) {
	span.SetAttributes(attribute.String("mcp.outcome", outcomeKind))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeKind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// recordRetryEvent annotates a call's span with a send-retry attempt,
// rather than opening a new span per attempt.
func recordRetryEvent(span trace.Span, attempt int) {
	if span == nil {
		return
	}
	span.AddEvent("retry", trace.WithAttributes(attribute.Int("retry.attempt", attempt)))
}

// recordTombstoneDrop annotates a call's span when a response arrives for a
// record issued in an earlier session, just before that record is failed.
// A response that hits a tombstone records no span event: the call's span
// has already ended by then.
func recordTombstoneDrop(span trace.Span, id int64) {
	if span == nil {
		return
	}
	span.AddEvent("tombstone-drop", trace.WithAttributes(attribute.Int64("mcp.request_id", id)))
}
