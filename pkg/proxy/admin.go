// Package proxy implements the per-client WebSocket loops that sit in
// front of the conductor pool: the admin proxy, which parses and
// authorizes every frame before forwarding it, and the app proxy, a pure
// bidirectional passthrough.
package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/conductor"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/envelope"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/observability"
)

// Session describes the caller driving one Admin Proxy connection.
type Session struct {
	AgentIdentifier string
	Tier            authz.Tier
	DevMode         bool
}

// AdminProxy runs the per-client admin-protocol loop: receive a binary
// frame, parse its envelope, authorize the operation against the
// session's tier, route it to the agent's conductor pool, and write back
// the response.
type AdminProxy struct {
	router         *conductor.Router
	requestTimeout time.Duration
	log            *slog.Logger
	obs            *observability.Provider
}

// NewAdminProxy creates an AdminProxy dispatching through router. obs may
// be nil, in which case a disabled Provider is used (no span/metric
// overhead, but no nil-checks needed at call sites).
func NewAdminProxy(router *conductor.Router, requestTimeout time.Duration, log *slog.Logger, obs *observability.Provider) *AdminProxy {
	if log == nil {
		log = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if obs == nil {
		obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return &AdminProxy{router: router, requestTimeout: requestTimeout, log: log, obs: obs}
}

// Serve drives conn until the client disconnects or a fatal socket error
// occurs. It never returns an error the caller needs to act on: every
// failure it can recover from is reported to the client as an envelope
// error frame, and the loop continues.
func (p *AdminProxy) Serve(ctx context.Context, conn *websocket.Conn, session Session) {
	log := p.log.With("agent_identifier", session.AgentIdentifier)

	conn.SetPongHandler(func(string) error { return nil })

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.PingMessage {
			_ = conn.WriteMessage(websocket.PongMessage, nil)
			continue
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		response := p.handleFrame(ctx, raw, session, log)
		if response == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, response); err != nil {
			return
		}
	}
}

func (p *AdminProxy) handleFrame(ctx context.Context, raw []byte, session Session, log *slog.Logger) []byte {
	if session.DevMode {
		return p.forward(ctx, raw, "unparsed", session, log)
	}

	frame, err := envelope.ParseFrame(raw)
	if err != nil {
		return envelope.EncodeError("malformed request envelope")
	}

	if !authz.IsAllowed(frame.Operation, session.Tier) {
		if _, known := authz.RequiredTier(frame.Operation); !known {
			return envelope.EncodeError("unknown operation")
		}
		return envelope.EncodeError("permission required")
	}

	return p.forward(ctx, raw, frame.Operation, session, log)
}

func (p *AdminProxy) forward(ctx context.Context, raw []byte, operation string, session Session, log *slog.Logger) []byte {
	pool, err := p.router.Route(ctx, session.AgentIdentifier)
	if err != nil {
		log.Warn("admin proxy: routing failed", "err", err)
		return envelope.EncodeError("disconnected")
	}

	attrs := observability.RouteOperation(session.AgentIdentifier, string(pool.ConductorID()), operation, session.Tier.String())
	spanCtx, finish := p.obs.TrackRoundTrip(ctx, "admin.route", attrs...)

	reqCtx, cancel := context.WithTimeout(spanCtx, p.requestTimeout)
	defer cancel()

	response, err := pool.Submit(reqCtx, raw, p.requestTimeout)
	finish(err)
	if err != nil {
		return envelope.EncodeError(forwardingErrorMessage(err))
	}
	return response
}

func forwardingErrorMessage(err error) string {
	switch err {
	case conductor.ErrQueueFull:
		return "busy"
	case conductor.ErrTimeout:
		return "timeout"
	case conductor.ErrDisconnected, conductor.ErrShutdown:
		return "disconnected"
	default:
		return "internal error"
	}
}
