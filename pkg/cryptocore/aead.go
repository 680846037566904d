package cryptocore

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD key and nonce sizes for the reference binding (ChaCha20-Poly1305).
const (
	AEADKeySize   = chacha20poly1305.KeySize   // 32 bytes
	AEADNonceSize = chacha20poly1305.NonceSize // 12 bytes
)

// AEAD is the data-plane authenticated-encryption primitive. It is
// referenced by the handshake only at the moment a derived session key is
// handed off to the data plane (see pkg/sessionkdf); it takes no part in
// handshake negotiation itself.
type AEAD struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// NewAEAD constructs a ChaCha20-Poly1305 AEAD bound to a 32-byte key.
// Fails ErrInvalidKeySize if key is not exactly AEADKeySize bytes.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, AEADKeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAeadEncryptionFailure, err)
	}
	return &AEAD{aead: aead}, nil
}

// Seal encrypts and authenticates plaintext under nonce and aad, returning
// the ciphertext with the authentication tag appended. nonce MUST be
// AEADNonceSize bytes and MUST NOT be reused under the same key.
func (a *AEAD) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, fmt.Errorf("%w: expected %d-byte nonce, got %d", ErrInvalidKeySize, AEADNonceSize, len(nonce))
	}
	return a.aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext under nonce and aad. On any
// authentication failure it returns ErrAeadDecryptionFailure and no
// plaintext bytes.
func (a *AEAD) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, fmt.Errorf("%w: expected %d-byte nonce, got %d", ErrInvalidKeySize, AEADNonceSize, len(nonce))
	}
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrAeadDecryptionFailure)
	}
	return plaintext, nil
}
