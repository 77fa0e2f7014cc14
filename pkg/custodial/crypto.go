// Package custodial implements the gateway's custodial signing-key
// service: per-user Ed25519 keypair generation at registration,
// password-derived encryption of the private half at rest, and a bounded
// in-memory cache of decrypted keys for the Signing Service to borrow
// from.
package custodial

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	kdfSaltLen   = 16
	cipherNonceLen = chacha20poly1305.NonceSize // 12
	kekLen       = chacha20poly1305.KeySize     // 32

	kdfTime    = 3
	kdfMemory  = 64 * 1024 // KiB
	kdfThreads = 4
)

// ErrWrongPassword is returned by Decrypt when the password does not
// authenticate the ciphertext. It is indistinguishable from any other
// AEAD authentication failure, which is the point: a wrong password must
// never look different from tampered ciphertext.
var ErrWrongPassword = errors.New("custodial: wrong password or corrupted key material")

// deriveKEK derives a 32-byte key-encryption key from password and salt
// using the memory-hard parameters mandated for custodial key material.
func deriveKEK(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, kekLen)
}

// Encrypt encrypts plaintext (an Ed25519 private key) under a key derived
// from password, generating a fresh salt and nonce. It returns the
// ciphertext alongside the salt and nonce needed to decrypt it later.
func Encrypt(password string, plaintext []byte) (ciphertext, salt, nonce []byte, err error) {
	salt = make([]byte, kdfSaltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce = make([]byte, cipherNonceLen)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	kek := deriveKEK(password, salt)
	defer Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("construct aead: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, salt, nonce, nil
}

// Decrypt reverses Encrypt. A wrong password surfaces as ErrWrongPassword,
// never as a silent mismatch.
func Decrypt(password string, ciphertext, salt, nonce []byte) ([]byte, error) {
	if len(salt) != kdfSaltLen {
		return nil, fmt.Errorf("custodial: invalid salt length %d", len(salt))
	}
	if len(nonce) != cipherNonceLen {
		return nil, fmt.Errorf("custodial: invalid nonce length %d", len(nonce))
	}

	kek := deriveKEK(password, salt)
	defer Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, fmt.Errorf("construct aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

// Zero overwrites b with zero bytes in place. Used on key-encryption keys
// and decrypted private keys once they are no longer needed, so no
// sensitive byte reaches the garbage collector uncleared.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
