// Package identitystore provides encrypted disk storage for a node's
// static identity: its long-lived static-KEM keypair and signature
// keypair. It is adapted from the project's hybrid-keypair keystore,
// narrowed to the two keypairs pkg/cryptocore.Provider actually manages.
package identitystore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPassphraseLength is the minimum required passphrase length.
	MinPassphraseLength = 12
	// MaxPassphraseLength is the maximum allowed passphrase length.
	MaxPassphraseLength = 1024
	// KeySize is the output key size for AES-256-GCM.
	KeySize = 32
	// SaltSize is the size of the PBKDF2 salt in bytes.
	SaltSize = 32
	// DefaultIterations is the PBKDF2 iteration count.
	DefaultIterations = 100000
)

var (
	ErrPassphraseTooShort = errors.New("passphrase must be at least 12 characters")
	ErrPassphraseTooLong  = errors.New("passphrase must not exceed 1024 characters")
	ErrEmptyPassphrase    = errors.New("passphrase cannot be empty")
	ErrInvalidSaltSize    = errors.New("salt must be 32 bytes")
	ErrInvalidIterations  = errors.New("iterations must be at least 10000")
)

// ValidatePassphrase checks passphrase length and rejects whitespace-only input.
func ValidatePassphrase(passphrase string) error {
	if len(passphrase) == 0 {
		return ErrEmptyPassphrase
	}

	charCount := utf8.RuneCountInString(passphrase)
	if charCount < MinPassphraseLength {
		return fmt.Errorf("%w (got %d characters, need %d)", ErrPassphraseTooShort, charCount, MinPassphraseLength)
	}
	if charCount > MaxPassphraseLength {
		return fmt.Errorf("%w (got %d characters, max %d)", ErrPassphraseTooLong, charCount, MaxPassphraseLength)
	}

	allWhitespace := true
	for _, r := range passphrase {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			allWhitespace = false
			break
		}
	}
	if allWhitespace {
		return errors.New("passphrase cannot be only whitespace")
	}

	return nil
}

// DeriveKey derives a 32-byte AES-256-GCM key from a passphrase using
// PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase string, salt []byte, iterations int) ([KeySize]byte, error) {
	var key [KeySize]byte

	if err := ValidatePassphrase(passphrase); err != nil {
		return key, fmt.Errorf("invalid passphrase: %w", err)
	}
	if len(salt) != SaltSize {
		return key, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidSaltSize, len(salt), SaltSize)
	}
	if iterations < 10000 {
		return key, fmt.Errorf("%w: got %d, minimum 10000", ErrInvalidIterations, iterations)
	}

	derived := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
	copy(key[:], derived)
	for i := range derived {
		derived[i] = 0
	}
	return key, nil
}
