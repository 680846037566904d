package cryptocore

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/cloudflare/circl/kem/mceliece/mceliece460896"
)

// Provider binds the core to concrete algorithm instances: a long-lived
// static KEM, a per-handshake ephemeral KEM, and a selectable signature
// scheme. It is stateless past construction and safe for concurrent use by
// multiple handshakes — the bound kem.Scheme/sign.Scheme handles carry no
// mutable state of their own, and each operation call below draws fresh
// randomness from crypto/rand internally.
type Provider struct {
	staticKEM    kem.Scheme
	ephemeralKEM kem.Scheme
	signer       *SignatureScheme
}

// NewProvider constructs the reference-binding provider: Classic McEliece
// 460896 for the static KEM, Kyber-768 for the ephemeral KEM, and the named
// signature scheme (one of Dilithium2, Falcon-512,
// SPHINCS+-SHAKE-128s-simple).
func NewProvider(sigScheme string) (*Provider, error) {
	signer, err := NewSignatureScheme(sigScheme)
	if err != nil {
		return nil, err
	}
	return &Provider{
		staticKEM:    mceliece460896.Scheme(),
		ephemeralKEM: kyber768.Scheme(),
		signer:       signer,
	}, nil
}

// StaticKEM exposes the bound static-KEM scheme, chiefly so callers can
// read its published size quadruple without duplicating constants.
func (p *Provider) StaticKEM() kem.Scheme { return p.staticKEM }

// EphemeralKEM exposes the bound ephemeral-KEM scheme.
func (p *Provider) EphemeralKEM() kem.Scheme { return p.ephemeralKEM }

// Signer exposes the bound signature scheme.
func (p *Provider) Signer() *SignatureScheme { return p.signer }

// GenerateStaticKeypair generates a fresh static-KEM keypair.
func (p *Provider) GenerateStaticKeypair() (publicKey, secretKey []byte, err error) {
	return generateKeypair(p.staticKEM)
}

// GenerateEphemeralKeypair generates a fresh ephemeral-KEM keypair.
func (p *Provider) GenerateEphemeralKeypair() (publicKey, secretKey []byte, err error) {
	return generateKeypair(p.ephemeralKEM)
}

// EncapsulateStatic encapsulates against a peer's static public key.
func (p *Provider) EncapsulateStatic(peerPublicKey []byte) (sharedSecret, ciphertext []byte, err error) {
	return encapsulate(p.staticKEM, peerPublicKey)
}

// EncapsulateEphemeral encapsulates against a peer's ephemeral public key.
func (p *Provider) EncapsulateEphemeral(peerPublicKey []byte) (sharedSecret, ciphertext []byte, err error) {
	return encapsulate(p.ephemeralKEM, peerPublicKey)
}

// DecapsulateStatic recovers the shared secret from a static-KEM ciphertext.
func (p *Provider) DecapsulateStatic(ciphertext, secretKey []byte) (sharedSecret []byte, err error) {
	return decapsulate(p.staticKEM, ciphertext, secretKey)
}

// DecapsulateEphemeral recovers the shared secret from an ephemeral-KEM
// ciphertext.
func (p *Provider) DecapsulateEphemeral(ciphertext, secretKey []byte) (sharedSecret []byte, err error) {
	return decapsulate(p.ephemeralKEM, ciphertext, secretKey)
}

// Sign produces a signature over msg under the bound signature scheme.
func (p *Provider) Sign(message, secretKey []byte) ([]byte, error) {
	return p.signer.Sign(message, secretKey)
}

// Verify checks a signature under the bound signature scheme. Returns
// false on mismatch; only a malformed encoding surfaces ErrSignatureFailure.
func (p *Provider) Verify(message, signature, publicKey []byte) (bool, error) {
	return p.signer.Verify(message, signature, publicKey)
}

func generateKeypair(scheme kem.Scheme) ([]byte, []byte, error) {
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: keypair generation: %v", ErrKemFailure, err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal public key: %v", ErrKemFailure, err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal secret key: %v", ErrKemFailure, err)
	}
	return pkBytes, skBytes, nil
}

func encapsulate(scheme kem.Scheme, peerPublicKey []byte) ([]byte, []byte, error) {
	if len(peerPublicKey) != scheme.PublicKeySize() {
		return nil, nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, scheme.PublicKeySize(), len(peerPublicKey))
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(peerPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal public key: %v", ErrKemFailure, err)
	}
	ct, ss, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encapsulate: %v", ErrKemFailure, err)
	}
	return ss, ct, nil
}

func decapsulate(scheme kem.Scheme, ciphertext, secretKey []byte) ([]byte, error) {
	if len(secretKey) != scheme.PrivateKeySize() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, scheme.PrivateKeySize(), len(secretKey))
	}
	if len(ciphertext) != scheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidKeySize, scheme.CiphertextSize(), len(ciphertext))
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal secret key: %v", ErrKemFailure, err)
	}
	ss, err := scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decapsulate: %v", ErrKemFailure, err)
	}
	return ss, nil
}
