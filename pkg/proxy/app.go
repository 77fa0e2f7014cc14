package proxy

import (
	"log/slog"
	"net/url"

	"github.com/gorilla/websocket"
)

// strippedQueryParams are gateway-only parameters that must never reach
// the downstream app interface.
var strippedQueryParams = []string{"apiKey", "token"}

// SanitizeAppTargetURL removes gateway-only query parameters from target
// before the app proxy dials it, so the conductor's app interface never
// observes gateway credentials.
func SanitizeAppTargetURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, p := range strippedQueryParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AppProxy is a pure bidirectional passthrough between a client's app
// WebSocket and the conductor's app interface for the same agent. It does
// no envelope parsing and no permission checking; the app interface
// enforces its own authentication protocol.
type AppProxy struct {
	log *slog.Logger
}

// NewAppProxy creates an AppProxy.
func NewAppProxy(log *slog.Logger) *AppProxy {
	if log == nil {
		log = slog.Default()
	}
	return &AppProxy{log: log}
}

// Serve copies frames between client and upstream in both directions
// until either side closes or errors. Both connections are closed when
// Serve returns.
func (p *AppProxy) Serve(client, upstream *websocket.Conn) {
	defer client.Close()
	defer upstream.Close()

	done := make(chan struct{}, 2)

	go p.pump(client, upstream, done)
	go p.pump(upstream, client, done)

	<-done
}

func (p *AppProxy) pump(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
