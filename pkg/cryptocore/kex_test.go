package cryptocore

import (
	"bytes"
	"errors"
	"testing"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider("Dilithium2")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestKEXRoundTripAllModes(t *testing.T) {
	p := testProvider(t)

	for _, mode := range []KemMode{ModeClassical, ModePqcOnly, ModeHybrid} {
		mode := mode
		t.Run(modeName(mode), func(t *testing.T) {
			kex := NewKeyExchange(p, mode)

			sk, pk, err := kex.GenerateKeypair()
			if err != nil {
				t.Fatalf("GenerateKeypair: %v", err)
			}

			ss1, ct, err := kex.Encapsulate(pk)
			if err != nil {
				t.Fatalf("Encapsulate: %v", err)
			}

			ss2, err := kex.Decapsulate(ct, sk)
			if err != nil {
				t.Fatalf("Decapsulate: %v", err)
			}

			if !bytes.Equal(ss1, ss2) {
				t.Fatalf("shared secrets differ: %x vs %x", ss1, ss2)
			}
		})
	}
}

func TestKEXHybridLengthInvariants(t *testing.T) {
	p := testProvider(t)
	kex := NewKeyExchange(p, ModeHybrid)

	_, pk, err := kex.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	pqcPKLen := p.StaticKEM().PublicKeySize()
	if len(pk) != pqcPKLen+32 {
		t.Fatalf("len(pk) = %d, want %d", len(pk), pqcPKLen+32)
	}

	ss, ct, err := kex.Encapsulate(pk)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}

	pqcCTLen := p.StaticKEM().CiphertextSize()
	if len(ct) != pqcCTLen+32 {
		t.Fatalf("len(ct) = %d, want %d", len(ct), pqcCTLen+32)
	}
	if len(ss) != 32+32 {
		t.Fatalf("len(ss) = %d, want %d", len(ss), 64)
	}
}

func TestKEXHybridCompositionality(t *testing.T) {
	p := testProvider(t)
	kex := NewKeyExchange(p, ModeHybrid)

	sk, pk, err := kex.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	honestSS, ct, err := kex.Encapsulate(pk)
	if err != nil {
		t.Fatalf("Encapsulate: %v", err)
	}
	honestSS2, err := kex.Decapsulate(ct, sk)
	if err != nil {
		t.Fatalf("Decapsulate: %v", err)
	}
	if !bytes.Equal(honestSS, honestSS2) {
		t.Fatalf("honest round trip mismatch")
	}

	// Flip every bit of the classical (trailing 32-byte) half of the peer
	// public key: the resulting shared secret must differ.
	tamperedPK := append([]byte{}, pk...)
	for i := len(tamperedPK) - 32; i < len(tamperedPK); i++ {
		tamperedPK[i] ^= 0xFF
	}
	tamperedSS, _, err := kex.Encapsulate(tamperedPK)
	if err != nil {
		t.Fatalf("Encapsulate with tampered classical half: %v", err)
	}
	if bytes.Equal(tamperedSS, honestSS) {
		t.Fatalf("tampering classical half did not change shared secret")
	}
}

func TestKEXClassicalBothDirectionsAgree(t *testing.T) {
	// Property scenario A uses symbolic scalars 1 and 2; crypto/ecdh does
	// not expose arbitrary scalar construction, so this instead verifies
	// the commutativity property the scenario is checking: two
	// independently generated keypairs derive byte-equal shared secrets
	// from each side of a classical exchange.
	p := testProvider(t)
	kexI := NewKeyExchange(p, ModeClassical)
	kexR := NewKeyExchange(p, ModeClassical)

	skI, pkI, err := kexI.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair I: %v", err)
	}
	skR, pkR, err := kexR.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair R: %v", err)
	}

	ssI, ctI, err := kexI.Encapsulate(pkR)
	if err != nil {
		t.Fatalf("Encapsulate I: %v", err)
	}
	ssRFromI, err := kexR.Decapsulate(ctI, skR)
	if err != nil {
		t.Fatalf("Decapsulate R: %v", err)
	}
	if !bytes.Equal(ssI, ssRFromI) {
		t.Fatalf("I->R exchange mismatch")
	}

	ssR, ctR, err := kexR.Encapsulate(pkI)
	if err != nil {
		t.Fatalf("Encapsulate R: %v", err)
	}
	ssIFromR, err := kexI.Decapsulate(ctR, skI)
	if err != nil {
		t.Fatalf("Decapsulate I: %v", err)
	}
	if !bytes.Equal(ssR, ssIFromR) {
		t.Fatalf("R->I exchange mismatch")
	}
}

func TestKEXHybridRejectsShortPQCPrefixWithoutConsultingProvider(t *testing.T) {
	p := testProvider(t)
	kex := NewKeyExchange(p, ModeHybrid)

	_, pk, err := kex.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	// Truncate the PQC prefix by one byte, keeping the classical half intact.
	truncated := append([]byte{}, pk[1:]...)

	_, _, err = kex.Encapsulate(truncated)
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("Encapsulate(short PQC prefix) error = %v, want ErrInvalidMode", err)
	}
}

func modeName(m KemMode) string {
	switch m {
	case ModeClassical:
		return "classical"
	case ModePqcOnly:
		return "pqc_only"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}
