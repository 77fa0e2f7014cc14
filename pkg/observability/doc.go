// Package observability provides the gateway's OpenTelemetry tracing and
// metrics surface: one span and one set of RED (Rate, Errors, Duration)
// metrics per conductor round trip.
//
// Initialize at process startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Track a round trip:
//
//	ctx, finish := p.TrackRoundTrip(ctx, "admin.route",
//		observability.RouteOperation(agentIdentifier, conductorID, operation, tier.String())...)
//	resp, err := pool.Submit(ctx, payload, timeout)
//	finish(err)
package observability
