package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "conductor-gateway", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewProviderEnabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackRoundTrip(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	attrs := RouteOperation("agent-alice", "c1", "app_info", "Authenticated")

	newCtx, finish := p.TrackRoundTrip(ctx, "admin.route", attrs...)
	require.NotNil(t, newCtx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackRoundTripWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackRoundTrip(context.Background(), "admin.route")
	finish(errors.New("conductor timeout"))
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "test.span")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestRouteOperation(t *testing.T) {
	attrs := RouteOperation("agent-123", "conductor-1", "zome_call", "Admin")
	require.Len(t, attrs, 4)
	require.Equal(t, "gateway.agent.identifier", string(attrs[0].Key))
	require.Equal(t, "agent-123", attrs[0].Value.AsString())
	require.Equal(t, "gateway.conductor.id", string(attrs[1].Key))
	require.Equal(t, "gateway.operation", string(attrs[2].Key))
	require.Equal(t, "gateway.permission.tier", string(attrs[3].Key))
	require.Equal(t, "Admin", attrs[3].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "test.event", attribute.String("key", "value"))
}
