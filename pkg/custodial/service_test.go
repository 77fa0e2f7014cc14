package custodial

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	records map[string]Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (s *fakeStore) GetRecord(_ context.Context, userID string) (Record, error) {
	r, ok := s.records[userID]
	if !ok {
		return Record{}, errWrap("no such user")
	}
	return r, nil
}

func (s *fakeStore) PutKeyMaterial(_ context.Context, userID string, material KeyMaterial, agentIdentifier string) error {
	r := s.records[userID]
	r.UserID = userID
	r.AgentIdentifier = agentIdentifier
	r.KeyMaterial = material
	s.records[userID] = r
	return nil
}

func (s *fakeStore) MarkMigrated(_ context.Context, userID string) error {
	r := s.records[userID]
	r.Migrated = true
	s.records[userID] = r
	return nil
}

func TestServiceRegisterLoginRoundTrips(t *testing.T) {
	store := newFakeStore()
	cache := NewSigningKeyCache(4)
	svc := NewService(store, cache, "gateway-1", time.Minute)
	ctx := context.Background()

	pub, err := svc.Register(ctx, "alice", "agent-alice", "hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(pub) == 0 {
		t.Fatal("expected a non-empty public key")
	}

	agentID, err := svc.Login(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if agentID != "agent-alice" {
		t.Errorf("agent identifier = %q, want agent-alice", agentID)
	}

	if err := cache.Use("agent-alice", func(keyBytes []byte) {
		if len(keyBytes) != 64 {
			t.Errorf("expected a 64-byte ed25519 private key, got %d bytes", len(keyBytes))
		}
	}); err != nil {
		t.Fatalf("expected cache hit after login: %v", err)
	}
}

func TestServiceLoginWrongPasswordFails(t *testing.T) {
	store := newFakeStore()
	cache := NewSigningKeyCache(4)
	svc := NewService(store, cache, "gateway-1", time.Minute)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "agent-alice", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "hunter2-wrong"); err != ErrWrongPassword {
		t.Errorf("expected ErrWrongPassword, got %v", err)
	}
}

func TestServiceMigratedUserCannotLogin(t *testing.T) {
	store := newFakeStore()
	cache := NewSigningKeyCache(4)
	svc := NewService(store, cache, "gateway-1", time.Minute)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "agent-alice", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.MarkMigrated(ctx, "alice"); err != nil {
		t.Fatalf("MarkMigrated: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "hunter2"); err != ErrMigrated {
		t.Errorf("expected ErrMigrated, got %v", err)
	}
}

func TestServiceExportBundleFieldsPopulated(t *testing.T) {
	store := newFakeStore()
	cache := NewSigningKeyCache(4)
	svc := NewService(store, cache, "gateway-1", time.Minute)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "agent-alice", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	bundle, err := svc.Export(ctx, "alice")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if bundle.Version != 1 || bundle.AgentIdentifier != "agent-alice" || bundle.GatewayID != "gateway-1" {
		t.Errorf("unexpected bundle: %+v", bundle)
	}
	if bundle.PublicKey == "" || bundle.EncryptedPrivateKey == "" || bundle.KDFSalt == "" || bundle.CipherNonce == "" {
		t.Error("expected all binary fields to be base64-encoded and non-empty")
	}
}
