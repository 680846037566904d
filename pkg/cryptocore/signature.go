package cryptocore

import (
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
)

// SupportedSignatureSchemes lists the names this core accepts at
// SignatureScheme construction, matching CIRCL's sign/schemes registry
// names exactly.
var SupportedSignatureSchemes = []string{
	"Dilithium2",
	"Falcon-512",
	"SPHINCS+-SHAKE-128s-simple",
}

// SignatureScheme wraps a single selected CIRCL signature scheme, resolved
// by name at construction time. Long-term peer identity proofs are built
// on whichever of Dilithium2 / Falcon-512 / SPHINCS+-SHAKE-128s-simple the
// caller selects; the handshake state machine itself never consumes this
// type directly (§4.3: it is an extension point for upper layers).
type SignatureScheme struct {
	name   string
	scheme sign.Scheme
}

// NewSignatureScheme resolves name against the supported set and returns a
// bound scheme instance.
func NewSignatureScheme(name string) (*SignatureScheme, error) {
	scheme := schemes.ByName(name)
	if scheme == nil {
		return nil, fmt.Errorf("%w: unsupported signature scheme %q", ErrSignatureFailure, name)
	}
	return &SignatureScheme{name: name, scheme: scheme}, nil
}

// Name returns the scheme's registry name.
func (s *SignatureScheme) Name() string { return s.name }

// PublicKeySize returns the bound scheme's public key length in bytes.
func (s *SignatureScheme) PublicKeySize() int { return s.scheme.PublicKeySize() }

// PrivateKeySize returns the bound scheme's private key length in bytes.
func (s *SignatureScheme) PrivateKeySize() int { return s.scheme.PrivateKeySize() }

// GenerateKeypair generates a fresh signing keypair.
func (s *SignatureScheme) GenerateKeypair() (publicKey, privateKey []byte, err error) {
	pk, sk, err := s.scheme.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: keypair generation: %v", ErrSignatureFailure, err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal public key: %v", ErrSignatureFailure, err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal private key: %v", ErrSignatureFailure, err)
	}
	return pkBytes, skBytes, nil
}

// Sign produces a signature over message under privateKey.
func (s *SignatureScheme) Sign(message, privateKey []byte) ([]byte, error) {
	if len(privateKey) != s.scheme.PrivateKeySize() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, s.scheme.PrivateKeySize(), len(privateKey))
	}
	sk, err := s.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal private key: %v", ErrSignatureFailure, err)
	}
	return s.scheme.Sign(sk, message, nil), nil
}

// Verify checks signature over message under publicKey. A false return
// means the signature did not verify; ErrSignatureFailure is returned only
// when publicKey or signature cannot be parsed at all.
func (s *SignatureScheme) Verify(message, signature, publicKey []byte) (bool, error) {
	if len(publicKey) != s.scheme.PublicKeySize() {
		return false, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, s.scheme.PublicKeySize(), len(publicKey))
	}
	pk, err := s.scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: unmarshal public key: %v", ErrSignatureFailure, err)
	}
	return s.scheme.Verify(pk, message, signature, nil), nil
}
