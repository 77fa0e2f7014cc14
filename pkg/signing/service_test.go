package signing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-msgpack/codec"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/conductor"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/custodial"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/kernel"
)

var testHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}()

// echoConductor runs a WebSocket server that decodes each connection-level
// envelope {id, kind, data}, and echoes data back wrapped in {id, data} so
// the caller can confirm both correlation and wire content.
func echoConductor(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]interface{}
			dec := codec.NewDecoderBytes(raw, testHandle)
			if err := dec.Decode(&msg); err != nil {
				return
			}
			resp := map[string]interface{}{"id": msg["id"], "data": msg["data"]}
			var buf []byte
			enc := codec.NewEncoderBytes(&buf, testHandle)
			if err := enc.Encode(resp); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestService(t *testing.T, limiter kernel.LimiterStore) (*Service, *custodial.SigningKeyCache) {
	t.Helper()
	srv := echoConductor(t)
	t.Cleanup(srv.Close)

	pool := conductor.NewPool(context.Background(), conductor.PoolConfig{
		ConductorID: "c1",
		Endpoint:    wsURL(t, srv),
		WorkerCount: 1,
		QueueDepth:  8,
	}, nil)
	t.Cleanup(func() { pool.Close() })

	registry := conductor.NewRegistry(conductor.NewInMemoryAssignmentStore())
	router := conductor.NewRouter(registry, pool, nil)

	deadline := time.Now().Add(2 * time.Second)
	for !pool.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cache := custodial.NewSigningKeyCache(4)
	svc := NewService(cache, router, limiter, kernel.BackpressurePolicy{}, 30*time.Second, 2*time.Second, nil)
	return svc, cache
}

type fakeCustodialStore struct {
	records map[string]custodial.Record
}

func newFakeCustodialStore() *fakeCustodialStore {
	return &fakeCustodialStore{records: make(map[string]custodial.Record)}
}

func (s *fakeCustodialStore) GetRecord(_ context.Context, userID string) (custodial.Record, error) {
	r, ok := s.records[userID]
	if !ok {
		return custodial.Record{}, errNotFound
	}
	return r, nil
}

func (s *fakeCustodialStore) PutKeyMaterial(_ context.Context, userID string, material custodial.KeyMaterial, agentIdentifier string) error {
	r := s.records[userID]
	r.UserID, r.AgentIdentifier, r.KeyMaterial = userID, agentIdentifier, material
	s.records[userID] = r
	return nil
}

func (s *fakeCustodialStore) MarkMigrated(_ context.Context, userID string) error {
	r := s.records[userID]
	r.Migrated = true
	s.records[userID] = r
	return nil
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) }

const errNotFound = notFoundError("no such user")

func TestServiceSignReturnsConductorResponse(t *testing.T) {
	svc, cache := newTestService(t, nil)

	custodialSvc := custodial.NewService(newFakeCustodialStore(), cache, "gateway-1", time.Minute)
	ctx := context.Background()
	if _, err := custodialSvc.Register(ctx, "alice", "agent-alice", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := custodialSvc.Login(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	resp, err := svc.Sign(ctx, "agent-alice", "zome_call", map[string]interface{}{"fn": "get_balance"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var decoded map[string]interface{}
	dec := codec.NewDecoderBytes(resp, testHandle)
	if err := dec.Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, ok := decoded["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data map in echoed response, got %T", decoded["data"])
	}
	if data["signature"] == "" || data["signature"] == nil {
		t.Error("expected a populated signature field")
	}
	if data["agent_identifier"] != "agent-alice" {
		t.Errorf("agent_identifier = %v, want agent-alice", data["agent_identifier"])
	}
}

func TestServiceSignRequiresReauthenticationOnCacheMiss(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Sign(context.Background(), "agent-bob", "zome_call", nil)
	if err != ErrReauthenticationRequired {
		t.Errorf("expected ErrReauthenticationRequired, got %v", err)
	}
}

func TestServiceSignEnforcesRateLimit(t *testing.T) {
	limiter := kernel.NewInMemoryLimiterStore()
	svc, cache := newTestService(t, limiter)
	svc.policy = kernel.BackpressurePolicy{RPM: 60, Burst: 1}

	custodialSvc := custodial.NewService(newFakeCustodialStore(), cache, "gateway-1", time.Minute)
	ctx := context.Background()
	if _, err := custodialSvc.Register(ctx, "alice", "agent-alice", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := custodialSvc.Login(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Sign(ctx, "agent-alice", "zome_call", nil); err != nil {
		t.Fatalf("first Sign: %v", err)
	}
	if _, err := svc.Sign(ctx, "agent-alice", "zome_call", nil); err != ErrRateLimited {
		t.Errorf("expected ErrRateLimited on second call within the burst window, got %v", err)
	}
}
