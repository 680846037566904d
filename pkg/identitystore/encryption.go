package identitystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// IVSize is the AES-GCM nonce size.
const IVSize = 12

var (
	ErrEncryptionFailed = errors.New("identitystore: encryption failed")
	ErrDecryptionFailed = errors.New("identitystore: decryption failed")
	ErrEmptyPlaintext   = errors.New("identitystore: plaintext cannot be empty")
	ErrEmptyCiphertext  = errors.New("identitystore: ciphertext cannot be empty")
)

// EncryptedData holds an AES-256-GCM ciphertext (tag included) and its IV.
type EncryptedData struct {
	Ciphertext []byte
	IV         [IVSize]byte
}

// Encrypt encrypts plaintext with a fresh random IV under AES-256-GCM.
func Encrypt(plaintext []byte, key [KeySize]byte) (*EncryptedData, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, fmt.Errorf("%w: generating IV: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nil, iv[:], plaintext, nil)
	return &EncryptedData{Ciphertext: ciphertext, IV: iv}, nil
}

// Decrypt authenticates and decrypts an EncryptedData under AES-256-GCM.
func Decrypt(encrypted *EncryptedData, key [KeySize]byte) ([]byte, error) {
	if encrypted == nil {
		return nil, fmt.Errorf("%w: encrypted data is nil", ErrDecryptionFailed)
	}
	if len(encrypted.Ciphertext) == 0 {
		return nil, ErrEmptyCiphertext
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := gcm.Open(nil, encrypted.IV[:], encrypted.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed or wrong key", ErrDecryptionFailed)
	}
	return plaintext, nil
}
