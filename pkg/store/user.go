// Package store persists the gateway's durable state: user accounts,
// custodial key material, and agent-to-conductor assignments. It is the
// one place SQL lives; every other package depends on the narrower
// interfaces it implements (custodial.Store, conductor.AssignmentStore).
package store

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/custodial"
)

// ErrUserNotFound is returned when no UserRecord exists for the given
// username or user id.
var ErrUserNotFound = errors.New("store: user not found")

// ErrUsernameTaken is returned by CreateUser when the username already
// has a record.
var ErrUsernameTaken = errors.New("store: username already registered")

// UserRecord is the durable row backing authentication and custodial
// signing for one account.
type UserRecord struct {
	UserID              string
	Username            string
	PasswordHash        string
	Tier                authz.Tier
	AgentIdentifier     string
	PublicKey           ed25519.PublicKey
	EncryptedPrivateKey []byte
	KDFSalt             []byte
	CipherNonce         []byte
	Migrated            bool
	CreatedAt           time.Time
}

// UserStore persists UserRecords in Postgres.
type UserStore struct {
	db *sql.DB
}

// NewUserStore wraps an already-opened *sql.DB. The caller owns the
// connection's lifecycle.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userSchema = `
CREATE TABLE IF NOT EXISTS gateway_users (
	user_id               TEXT PRIMARY KEY,
	username              TEXT NOT NULL UNIQUE,
	password_hash         TEXT NOT NULL,
	tier                  INTEGER NOT NULL,
	agent_identifier      TEXT NOT NULL UNIQUE,
	public_key            BYTEA NOT NULL,
	encrypted_private_key BYTEA,
	kdf_salt              BYTEA,
	cipher_nonce          BYTEA,
	migrated              BOOLEAN NOT NULL DEFAULT FALSE,
	created_at            TIMESTAMPTZ NOT NULL
);
`

// Init creates the schema if it does not already exist.
func (s *UserStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, userSchema)
	return err
}

// CreateUser inserts a new account. It fails with ErrUsernameTaken on a
// unique-constraint violation against username.
func (s *UserStore) CreateUser(ctx context.Context, rec UserRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_users
			(user_id, username, password_hash, tier, agent_identifier,
			 public_key, encrypted_private_key, kdf_salt, cipher_nonce,
			 migrated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.UserID, rec.Username, rec.PasswordHash, int(rec.Tier), rec.AgentIdentifier,
		[]byte(rec.PublicKey), rec.EncryptedPrivateKey, rec.KDFSalt, rec.CipherNonce,
		rec.Migrated, rec.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

// GetByUsername loads the record for username, used at login time.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (UserRecord, error) {
	return s.scanOne(ctx, "SELECT user_id, username, password_hash, tier, agent_identifier, public_key, encrypted_private_key, kdf_salt, cipher_nonce, migrated, created_at FROM gateway_users WHERE username = $1", username)
}

// GetByUserID loads the record by its primary key.
func (s *UserStore) GetByUserID(ctx context.Context, userID string) (UserRecord, error) {
	return s.scanOne(ctx, "SELECT user_id, username, password_hash, tier, agent_identifier, public_key, encrypted_private_key, kdf_salt, cipher_nonce, migrated, created_at FROM gateway_users WHERE user_id = $1", userID)
}

func (s *UserStore) scanOne(ctx context.Context, query, arg string) (UserRecord, error) {
	var rec UserRecord
	var tier int
	var pub, encPriv, salt, nonce []byte

	row := s.db.QueryRowContext(ctx, query, arg)
	err := row.Scan(&rec.UserID, &rec.Username, &rec.PasswordHash, &tier, &rec.AgentIdentifier,
		&pub, &encPriv, &salt, &nonce, &rec.Migrated, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("store: scan user record: %w", err)
	}

	rec.Tier = authz.Tier(tier)
	rec.PublicKey = ed25519.PublicKey(pub)
	rec.EncryptedPrivateKey = encPriv
	rec.KDFSalt = salt
	rec.CipherNonce = nonce
	return rec, nil
}

// MarkMigrated sets a user's encrypted private key, KDF salt and cipher
// nonce columns to NULL and sets the
// migrated flag. The row is kept for audit; only signing material is
// purged.
func (s *UserStore) MarkMigrated(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gateway_users
		SET migrated = TRUE, encrypted_private_key = NULL, kdf_salt = NULL, cipher_nonce = NULL
		WHERE user_id = $1
	`, userID)
	return err
}

// custodialAdapter adapts UserStore to custodial.Store, the narrow
// interface the Custodial Key Service depends on.
type custodialAdapter struct {
	users *UserStore
}

// AsCustodialStore exposes s through the custodial.Store interface.
func (s *UserStore) AsCustodialStore() custodial.Store {
	return custodialAdapter{users: s}
}

func (a custodialAdapter) GetRecord(ctx context.Context, userID string) (custodial.Record, error) {
	rec, err := a.users.GetByUserID(ctx, userID)
	if err != nil {
		return custodial.Record{}, err
	}
	return custodial.Record{
		UserID:          rec.UserID,
		AgentIdentifier: rec.AgentIdentifier,
		Migrated:        rec.Migrated,
		KeyMaterial: custodial.KeyMaterial{
			PublicKey:           rec.PublicKey,
			EncryptedPrivateKey: rec.EncryptedPrivateKey,
			KDFSalt:             rec.KDFSalt,
			CipherNonce:         rec.CipherNonce,
			CreatedAt:           rec.CreatedAt,
		},
	}, nil
}

func (a custodialAdapter) PutKeyMaterial(ctx context.Context, userID string, material custodial.KeyMaterial, agentIdentifier string) error {
	_, err := a.users.db.ExecContext(ctx, `
		UPDATE gateway_users
		SET public_key = $2, encrypted_private_key = $3, kdf_salt = $4, cipher_nonce = $5, agent_identifier = $6
		WHERE user_id = $1
	`, userID, []byte(material.PublicKey), material.EncryptedPrivateKey, material.KDFSalt, material.CipherNonce, agentIdentifier)
	return err
}

func (a custodialAdapter) MarkMigrated(ctx context.Context, userID string) error {
	return a.users.MarkMigrated(ctx, userID)
}

// isUniqueViolation checks for Postgres SQLSTATE 23505 (unique_violation).
// Other drivers (e.g. the sqlite store used in single-process dev mode)
// never match and fall through to the raw error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
