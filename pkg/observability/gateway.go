package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway-specific semantic convention attributes.
var (
	AttrAgentIdentifier = attribute.Key("gateway.agent.identifier")
	AttrConductorID     = attribute.Key("gateway.conductor.id")
	AttrOperation       = attribute.Key("gateway.operation")
	AttrPermissionTier  = attribute.Key("gateway.permission.tier")
	AttrQueueDepth      = attribute.Key("gateway.queue.depth")
)

// RouteOperation builds the attribute set for one admin-protocol round
// trip: the agent making the request, the conductor it was routed to, the
// operation being performed, and the session's permission tier.
func RouteOperation(agentIdentifier, conductorID, operation string, tier string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgentIdentifier.String(agentIdentifier),
		AttrConductorID.String(conductorID),
		AttrOperation.String(operation),
		AttrPermissionTier.String(tier),
	}
}

// SpanFromContext extracts the active span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds a named event with attrs to ctx's active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
