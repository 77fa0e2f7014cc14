package store

import (
	"context"
	"crypto/ed25519"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
)

func TestUserStoreCreateAndGetByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewUserStore(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gateway_users")).
		WithArgs("u1", "alice", "hash", int(authz.Authenticated), "agent-alice",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.CreateUser(ctx, UserRecord{
		UserID: "u1", Username: "alice", PasswordHash: "hash",
		Tier: authz.Authenticated, AgentIdentifier: "agent-alice", CreatedAt: now,
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"user_id", "username", "password_hash", "tier", "agent_identifier",
		"public_key", "encrypted_private_key", "kdf_salt", "cipher_nonce", "migrated", "created_at"}).
		AddRow("u1", "alice", "hash", int(authz.Authenticated), "agent-alice",
			[]byte("pub"), []byte("enc"), []byte("salt"), []byte("nonce"), false, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, username, password_hash, tier, agent_identifier, public_key, encrypted_private_key, kdf_salt, cipher_nonce, migrated, created_at FROM gateway_users WHERE username = $1")).
		WithArgs("alice").
		WillReturnRows(rows)

	rec, err := s.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, authz.Authenticated, rec.Tier)
	assert.Equal(t, ed25519.PublicKey("pub"), rec.PublicKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreGetByUsernameNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewUserStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, username, password_hash, tier, agent_identifier, public_key, encrypted_private_key, kdf_salt, cipher_nonce, migrated, created_at FROM gateway_users WHERE username = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "username", "password_hash", "tier", "agent_identifier",
			"public_key", "encrypted_private_key", "kdf_salt", "cipher_nonce", "migrated", "created_at"}))

	_, err = s.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserStoreCreateUserTranslatesUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewUserStore(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gateway_users")).
		WillReturnError(&pq.Error{Code: "23505"})

	err = s.CreateUser(context.Background(), UserRecord{UserID: "u2", Username: "alice"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUserStoreMarkMigratedPurgesKeyColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewUserStore(db)
	mock.ExpectExec(regexp.QuoteMeta("SET migrated = TRUE, encrypted_private_key = NULL, kdf_salt = NULL, cipher_nonce = NULL")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkMigrated(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAsCustodialStoreRoundTripsKeyMaterial(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewUserStore(db)
	custodial := s.AsCustodialStore()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"user_id", "username", "password_hash", "tier", "agent_identifier",
		"public_key", "encrypted_private_key", "kdf_salt", "cipher_nonce", "migrated", "created_at"}).
		AddRow("u1", "alice", "hash", int(authz.Authenticated), "agent-alice",
			[]byte("pub"), []byte("enc"), []byte("salt"), []byte("nonce"), false, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, username, password_hash, tier, agent_identifier, public_key, encrypted_private_key, kdf_salt, cipher_nonce, migrated, created_at FROM gateway_users WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(rows)

	rec, err := custodial.GetRecord(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "agent-alice", rec.AgentIdentifier)
	assert.Equal(t, []byte("enc"), []byte(rec.KeyMaterial.EncryptedPrivateKey))
}
