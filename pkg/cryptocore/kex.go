package cryptocore

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// KemMode selects one of the three key-agreement strategies the KEX facade
// presents behind a single (generate_keypair, encapsulate, decapsulate)
// interface.
type KemMode int

const (
	// ModeClassical performs plain X25519 ECDH.
	ModeClassical KemMode = iota
	// ModePqcOnly performs static-KEM encapsulation via the bound Provider.
	ModePqcOnly
	// ModeHybrid concatenates a PQC static-KEM result with an X25519
	// result, PQC portion first, X25519 portion trailing and 32 bytes wide.
	ModeHybrid
)

// x25519PublicKeySize is the fixed width of the classical half of any
// hybrid key material; it is also used standalone in ModeClassical.
const x25519PublicKeySize = 32

// KeyExchange presents classical ECDH, PQC-only, and hybrid key agreement
// behind one uniform interface so callers can experiment with and
// benchmark modes without branching. It returns raw concatenated secrets
// in hybrid mode — per §4.4's security rationale, that concatenation is a
// KDF input, not a usable key; extracting a uniform key is
// pkg/sessionkdf's job, not this facade's.
type KeyExchange struct {
	mode     KemMode
	provider *Provider
}

// NewKeyExchange binds a KEX facade to a provider and mode. provider may be
// nil only when mode is ModeClassical, which never touches the Provider.
func NewKeyExchange(provider *Provider, mode KemMode) *KeyExchange {
	return &KeyExchange{mode: mode, provider: provider}
}

// Mode reports the bound strategy.
func (k *KeyExchange) Mode() KemMode { return k.mode }

// GenerateKeypair generates a fresh keypair under the bound mode.
func (k *KeyExchange) GenerateKeypair() (secretKey, publicKey []byte, err error) {
	switch k.mode {
	case ModeClassical:
		return generateX25519Keypair()
	case ModePqcOnly:
		pk, sk, err := k.provider.GenerateStaticKeypair()
		if err != nil {
			return nil, nil, err
		}
		return sk, pk, nil
	case ModeHybrid:
		pqcPK, pqcSK, err := k.provider.GenerateStaticKeypair()
		if err != nil {
			return nil, nil, err
		}
		xSK, xPK, err := generateX25519Keypair()
		if err != nil {
			return nil, nil, err
		}
		return append(append([]byte{}, pqcSK...), xSK...),
			append(append([]byte{}, pqcPK...), xPK...), nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown mode", ErrInvalidMode)
	}
}

// Encapsulate runs the bound mode's encapsulation strategy against a
// peer's public key.
func (k *KeyExchange) Encapsulate(peerPublicKey []byte) (sharedSecret, ciphertext []byte, err error) {
	switch k.mode {
	case ModeClassical:
		return encapsulateX25519(peerPublicKey)
	case ModePqcOnly:
		return k.provider.EncapsulateStatic(peerPublicKey)
	case ModeHybrid:
		if len(peerPublicKey) < x25519PublicKeySize {
			return nil, nil, fmt.Errorf("%w: hybrid public key shorter than classical half", ErrInvalidMode)
		}
		split := len(peerPublicKey) - x25519PublicKeySize
		pqcPK, classicalPK := peerPublicKey[:split], peerPublicKey[split:]

		if wantSize := k.provider.StaticKEM().PublicKeySize(); len(pqcPK) != wantSize {
			return nil, nil, fmt.Errorf("%w: hybrid PQC prefix is %d bytes, want %d",
				ErrInvalidMode, len(pqcPK), wantSize)
		}

		pqcSS, pqcCT, err := k.provider.EncapsulateStatic(pqcPK)
		if err != nil {
			return nil, nil, err
		}
		classicalSS, classicalPub, err := encapsulateX25519(classicalPK)
		if err != nil {
			return nil, nil, err
		}
		return append(append([]byte{}, pqcSS...), classicalSS...),
			append(append([]byte{}, pqcCT...), classicalPub...), nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown mode", ErrInvalidMode)
	}
}

// Decapsulate runs the bound mode's decapsulation strategy.
func (k *KeyExchange) Decapsulate(ciphertext, secretKey []byte) (sharedSecret []byte, err error) {
	switch k.mode {
	case ModeClassical:
		return decapsulateX25519(ciphertext, secretKey)
	case ModePqcOnly:
		return k.provider.DecapsulateStatic(ciphertext, secretKey)
	case ModeHybrid:
		if len(secretKey) < x25519PublicKeySize || len(ciphertext) < x25519PublicKeySize {
			return nil, fmt.Errorf("%w: hybrid input shorter than classical half", ErrInvalidMode)
		}
		skSplit := len(secretKey) - x25519PublicKeySize
		pqcSK, classicalSK := secretKey[:skSplit], secretKey[skSplit:]
		ctSplit := len(ciphertext) - x25519PublicKeySize
		pqcCT, classicalCT := ciphertext[:ctSplit], ciphertext[ctSplit:]

		pqcSS, err := k.provider.DecapsulateStatic(pqcCT, pqcSK)
		if err != nil {
			return nil, err
		}
		classicalSS, err := decapsulateX25519(classicalCT, classicalSK)
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, pqcSS...), classicalSS...), nil
	default:
		return nil, fmt.Errorf("%w: unknown mode", ErrInvalidMode)
	}
}

func generateX25519Keypair() (secretKey, publicKey []byte, err error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: x25519 keygen: %v", ErrKemFailure, err)
	}
	return priv.Bytes(), priv.PublicKey().Bytes(), nil
}

// encapsulateX25519 generates a fresh ephemeral scalar, performs ECDH
// against peerPublicKey, and returns the shared secret alongside the fresh
// ephemeral public key as the "ciphertext" — matching the KEM-shaped
// interface the facade presents over classical ECDH.
func encapsulateX25519(peerPublicKey []byte) (sharedSecret, ciphertext []byte, err error) {
	if len(peerPublicKey) != x25519PublicKeySize {
		return nil, nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidMode, x25519PublicKeySize, len(peerPublicKey))
	}
	peer, err := ecdh.X25519().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid peer public key: %v", ErrInvalidMode, err)
	}
	eph, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: x25519 ephemeral keygen: %v", ErrKemFailure, err)
	}
	secret, err := eph.ECDH(peer)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: x25519 ecdh: %v", ErrKemFailure, err)
	}
	return secret, eph.PublicKey().Bytes(), nil
}

func decapsulateX25519(ciphertext, secretKey []byte) ([]byte, error) {
	if len(ciphertext) != x25519PublicKeySize || len(secretKey) != x25519PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d-byte ciphertext and secret key", ErrInvalidMode, x25519PublicKeySize)
	}
	priv, err := ecdh.X25519().NewPrivateKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid secret key: %v", ErrInvalidMode, err)
	}
	peer, err := ecdh.X25519().NewPublicKey(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext: %v", ErrInvalidMode, err)
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 ecdh: %v", ErrKemFailure, err)
	}
	return secret, nil
}
