// Package cryptocore implements the pluggable KEM/AEAD/signature provider
// and the three-mode key-exchange facade that the handshake state machine
// is built on.
package cryptocore

import "errors"

// Error kinds, one sentinel per taxonomy entry. Call sites wrap these with
// fmt.Errorf("...: %w", ErrX) to attach operation-specific context.
var (
	// ErrKemFailure indicates the underlying KEM library rejected inputs or
	// failed internally (keygen, encapsulation, or decapsulation).
	ErrKemFailure = errors.New("cryptocore: kem failure")
	// ErrSignatureFailure indicates a malformed signature encoding or a
	// signer-internal error during sign.
	ErrSignatureFailure = errors.New("cryptocore: signature failure")
	// ErrAeadEncryptionFailure indicates the AEAD cipher failed to seal.
	ErrAeadEncryptionFailure = errors.New("cryptocore: aead encryption failure")
	// ErrAeadDecryptionFailure indicates authentication tag mismatch or a
	// cipher-internal error during open. Never carries partial plaintext.
	ErrAeadDecryptionFailure = errors.New("cryptocore: aead decryption failure")
	// ErrInvalidKeySize indicates a key or slice length does not match the
	// bound algorithm's published length.
	ErrInvalidKeySize = errors.New("cryptocore: invalid key size")
	// ErrInvalidMode indicates a KEX operation was given input of the wrong
	// length for the selected mode, or an unknown mode was requested.
	ErrInvalidMode = errors.New("cryptocore: invalid kex mode input")
)
