package custodial

import "testing"

func TestEncryptDecryptRoundTrips(t *testing.T) {
	plaintext := []byte("a 32-byte ed25519 private seed!")

	ciphertext, salt, nonce, err := Encrypt("hunter2", plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted, err := Decrypt("hunter2", ciphertext, salt, nonce)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPasswordFailsAuthentication(t *testing.T) {
	ciphertext, salt, nonce, err := Encrypt("hunter2", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	_, err = Decrypt("hunter2-wrong", ciphertext, salt, nonce)
	if err != ErrWrongPassword {
		t.Errorf("expected ErrWrongPassword, got %v", err)
	}
}

func TestEncryptProducesCorrectSaltAndNonceLengths(t *testing.T) {
	_, salt, nonce, err := Encrypt("hunter2", []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(salt) != 16 {
		t.Errorf("salt length = %d, want 16", len(salt))
	}
	if len(nonce) != 12 {
		t.Errorf("nonce length = %d, want 12", len(nonce))
	}
}

func TestZeroClearsBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zero(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not zeroed: %d", i, v)
		}
	}
}
