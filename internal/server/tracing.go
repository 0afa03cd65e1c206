package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/viyv-labs/browser-bridge/internal/server"

// traceToolCall wraps one tool-call round trip in an API-only span — no
// exporter is configured, so this costs nothing unless the embedding
// process wires one up, but every call site carries consistent
// attribution (spec §4.4.6 round trip).
func traceToolCall(ctx context.Context, agentID, tool string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "tool_call",
		trace.WithAttributes(
			attribute.String("browser_bridge.agent_id", agentID),
			attribute.String("browser_bridge.tool", tool),
		),
	)
	return ctx, span
}

func endToolCallSpan(span trace.Span, toolErr error) {
	if toolErr != nil {
		span.RecordError(toolErr)
		span.SetStatus(codes.Error, toolErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
