package custodial

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrMigrated is returned for any signing attempt against a user record
// that has completed stewardship migration to a self-hosted node.
var ErrMigrated = errors.New("custodial: user has migrated off custodial signing")

// KeyMaterial is the at-rest representation of a custodial Ed25519
// keypair: the public half in the clear, the private half encrypted
// under a password-derived key.
type KeyMaterial struct {
	PublicKey           ed25519.PublicKey
	EncryptedPrivateKey []byte
	KDFSalt             []byte
	CipherNonce         []byte
	CreatedAt           time.Time
}

// Record is the subset of a UserRecord the custodial service reads and
// writes; the full record (username, password hash, permission tier) is
// owned by pkg/store.
type Record struct {
	UserID          string
	AgentIdentifier string
	KeyMaterial     KeyMaterial
	Migrated        bool
}

// Store persists custodial key material alongside user records.
type Store interface {
	GetRecord(ctx context.Context, userID string) (Record, error)
	PutKeyMaterial(ctx context.Context, userID string, material KeyMaterial, agentIdentifier string) error
	MarkMigrated(ctx context.Context, userID string) error
}

// ExportBundle is the serializable structure a user takes with them when
// moving to a self-hosted node.
type ExportBundle struct {
	Version             int    `json:"version"`
	Identifier          string `json:"identifier"`
	AgentIdentifier      string `json:"agent_identifier"`
	PublicKey           string `json:"public_key"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	KDFSalt             string `json:"kdf_salt"`
	CipherNonce         string `json:"cipher_nonce"`
	ExportedAt          string `json:"exported_at"`
	GatewayID           string `json:"doorway_id"`
}

// Service implements registration, login, and stewardship export for
// custodial signing keys.
type Service struct {
	store     Store
	cache     *SigningKeyCache
	gatewayID string
	keyTTL    time.Duration
}

// NewService creates a custodial Service. gatewayID identifies this
// gateway instance in export bundles.
func NewService(store Store, cache *SigningKeyCache, gatewayID string, keyTTL time.Duration) *Service {
	if keyTTL <= 0 {
		keyTTL = 15 * time.Minute
	}
	return &Service{store: store, cache: cache, gatewayID: gatewayID, keyTTL: keyTTL}
}

// Register generates a fresh Ed25519 keypair for userID, encrypts the
// private half under password, and persists the result.
func (s *Service) Register(ctx context.Context, userID, agentIdentifier, password string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	defer Zero(priv)

	ciphertext, salt, nonce, err := Encrypt(password, priv)
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}

	material := KeyMaterial{
		PublicKey:           pub,
		EncryptedPrivateKey: ciphertext,
		KDFSalt:             salt,
		CipherNonce:         nonce,
		CreatedAt:           time.Now(),
	}
	if err := s.store.PutKeyMaterial(ctx, userID, material, agentIdentifier); err != nil {
		return nil, fmt.Errorf("persist key material: %w", err)
	}
	return pub, nil
}

// Login decrypts userID's private signing key with password and places
// it in the cache, returning the agent identifier it now backs.
func (s *Service) Login(ctx context.Context, userID, password string) (string, error) {
	record, err := s.store.GetRecord(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}
	if record.Migrated {
		return "", ErrMigrated
	}

	priv, err := Decrypt(password, record.KeyMaterial.EncryptedPrivateKey, record.KeyMaterial.KDFSalt, record.KeyMaterial.CipherNonce)
	if err != nil {
		return "", err
	}
	defer Zero(priv)

	s.cache.Put(record.AgentIdentifier, priv, s.keyTTL)
	return record.AgentIdentifier, nil
}

// Export builds a stewardship export bundle for userID. It does not
// itself mark the user migrated; call MarkMigrated once the client has
// confirmed receipt.
func (s *Service) Export(ctx context.Context, userID string) (ExportBundle, error) {
	record, err := s.store.GetRecord(ctx, userID)
	if err != nil {
		return ExportBundle{}, fmt.Errorf("load record: %w", err)
	}

	return ExportBundle{
		Version:             1,
		Identifier:          userID,
		AgentIdentifier:     record.AgentIdentifier,
		PublicKey:           base64.StdEncoding.EncodeToString(record.KeyMaterial.PublicKey),
		EncryptedPrivateKey: base64.StdEncoding.EncodeToString(record.KeyMaterial.EncryptedPrivateKey),
		KDFSalt:             base64.StdEncoding.EncodeToString(record.KeyMaterial.KDFSalt),
		CipherNonce:         base64.StdEncoding.EncodeToString(record.KeyMaterial.CipherNonce),
		ExportedAt:          time.Now().UTC().Format(time.RFC3339),
		GatewayID:           s.gatewayID,
	}, nil
}

// MarkMigrated marks userID as having moved to a self-hosted node and
// evicts their signing key from the cache, so the Signing Service cannot
// sign on their behalf until a new login, which Login refuses with
// ErrMigrated.
func (s *Service) MarkMigrated(ctx context.Context, userID string) error {
	record, err := s.store.GetRecord(ctx, userID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if err := s.store.MarkMigrated(ctx, userID); err != nil {
		return err
	}
	s.cache.Remove(record.AgentIdentifier)
	return nil
}
