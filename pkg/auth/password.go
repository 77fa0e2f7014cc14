package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordHasher hashes and verifies custodial account passwords with
// Argon2id, storing parameters alongside the hash in a single
// self-describing PHC-format string so the parameters can change across
// deployments without invalidating hashes issued under the old ones.
type PasswordHasher struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
	keyLen  uint32
	saltLen uint32
}

// NewPasswordHasher returns a PasswordHasher with parameters suitable for
// an interactive login path: 64 MiB memory, 3 iterations, 4 lanes.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		time:    3,
		memory:  64 * 1024,
		threads: 4,
		keyLen:  32,
		saltLen: 16,
	}
}

// Hash derives a PHC-format Argon2id hash string for password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, h.keyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded, a hash previously
// produced by Hash. A malformed or unrecognized encoded string and a
// genuine password mismatch are indistinguishable to the caller: both
// return false, nil. Distinguishing them would leak whether a stored
// record predates a parameter change, which is not the caller's business.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	params, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, nil
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

type phcParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func parsePHC(encoded string) (phcParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// ["", "argon2id", "v=19", "m=...,t=...,p=...", "<salt>", "<key>"]
	if len(parts) != 6 || parts[1] != "argon2id" {
		return phcParams{}, nil, nil, fmt.Errorf("unrecognized hash format")
	}

	var params phcParams
	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return phcParams{}, nil, nil, fmt.Errorf("parse parameters: %w", err)
	}
	params.memory, params.time, params.threads = m, t, p

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return phcParams{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return phcParams{}, nil, nil, fmt.Errorf("decode key: %w", err)
	}

	return params, salt, key, nil
}
