package cryptocore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, AEADKeySize)
	rand.Read(key)
	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}

	nonce := make([]byte, AEADNonceSize)
	rand.Read(nonce)
	plaintext := []byte("post-quantum handshake complete")
	aad := []byte("session-001")

	ciphertext, err := aead.Seal(nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := aead.Open(nonce, ciphertext, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open() = %q, want %q", got, plaintext)
	}
}

func TestAEADTamperRejected(t *testing.T) {
	key := make([]byte, AEADKeySize)
	rand.Read(key)
	aead, err := NewAEAD(key)
	if err != nil {
		t.Fatalf("NewAEAD: %v", err)
	}

	nonce := make([]byte, AEADNonceSize)
	rand.Read(nonce)
	ciphertext, err := aead.Seal(nonce, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ciphertext[0] ^= 0x01

	if _, err := aead.Open(nonce, ciphertext, nil); !errors.Is(err, ErrAeadDecryptionFailure) {
		t.Fatalf("Open() error = %v, want ErrAeadDecryptionFailure", err)
	}
}

func TestAEADInvalidKeySize(t *testing.T) {
	key := make([]byte, 31)
	if _, err := NewAEAD(key); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("NewAEAD() error = %v, want ErrInvalidKeySize", err)
	}
}
