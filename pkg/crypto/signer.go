package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer is a generic message signer used wherever the gateway needs to
// attach a verifiable signature: custodial request signing today, any
// future signed artifact tomorrow.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
}

// Ed25519Signer signs with a held Ed25519 private key.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key, e.g. one just
// decrypted from custodial key material.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

func (s *Ed25519Signer) Verify(message []byte, signature []byte) bool {
	return ed25519.Verify(s.pubKey, message, signature)
}

// Verify checks a hex-encoded signature against a hex-encoded public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
