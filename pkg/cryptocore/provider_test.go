package cryptocore

import (
	"bytes"
	"errors"
	"testing"
)

func TestProviderStaticKEMRoundTrip(t *testing.T) {
	p := testProvider(t)

	pk, sk, err := p.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("GenerateStaticKeypair: %v", err)
	}

	ss1, ct, err := p.EncapsulateStatic(pk)
	if err != nil {
		t.Fatalf("EncapsulateStatic: %v", err)
	}

	ss2, err := p.DecapsulateStatic(ct, sk)
	if err != nil {
		t.Fatalf("DecapsulateStatic: %v", err)
	}

	if !bytes.Equal(ss1, ss2) {
		t.Fatalf("shared secrets differ")
	}
}

func TestProviderEphemeralKEMRoundTrip(t *testing.T) {
	p := testProvider(t)

	pk, sk, err := p.GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair: %v", err)
	}

	ss1, ct, err := p.EncapsulateEphemeral(pk)
	if err != nil {
		t.Fatalf("EncapsulateEphemeral: %v", err)
	}

	ss2, err := p.DecapsulateEphemeral(ct, sk)
	if err != nil {
		t.Fatalf("DecapsulateEphemeral: %v", err)
	}

	if !bytes.Equal(ss1, ss2) {
		t.Fatalf("shared secrets differ")
	}
}

func TestProviderTamperedCiphertextRejected(t *testing.T) {
	p := testProvider(t)

	pk, sk, err := p.GenerateStaticKeypair()
	if err != nil {
		t.Fatalf("GenerateStaticKeypair: %v", err)
	}
	ss1, ct, err := p.EncapsulateStatic(pk)
	if err != nil {
		t.Fatalf("EncapsulateStatic: %v", err)
	}
	ct[0] ^= 0xFF

	ss2, err := p.DecapsulateStatic(ct, sk)
	// IND-CCA KEMs may implicitly reject (return a pseudorandom but
	// different secret) rather than error; either observable behavior
	// satisfies the tamper-rejection property.
	if err == nil && bytes.Equal(ss1, ss2) {
		t.Fatalf("tampered ciphertext decapsulated to the honest shared secret")
	}
}

func TestProviderSignVerify(t *testing.T) {
	p := testProvider(t)
	pk, sk, err := p.Signer().GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	msg := []byte("peer identity attestation")
	sig, err := p.Sign(msg, sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := p.Verify(msg, sig, pk)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("Verify() = false, want true")
	}

	ok, err = p.Verify([]byte("different message"), sig, pk)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("Verify() = true for altered message, want false")
	}
}

func TestNewProviderRejectsUnknownScheme(t *testing.T) {
	if _, err := NewProvider("not-a-real-scheme"); !errors.Is(err, ErrSignatureFailure) {
		t.Fatalf("NewProvider() error = %v, want ErrSignatureFailure", err)
	}
}

func TestSignatureSchemeSelection(t *testing.T) {
	for _, name := range SupportedSignatureSchemes {
		name := name
		t.Run(name, func(t *testing.T) {
			s, err := NewSignatureScheme(name)
			if err != nil {
				t.Fatalf("NewSignatureScheme(%q): %v", name, err)
			}
			pk, sk, err := s.GenerateKeypair()
			if err != nil {
				t.Fatalf("GenerateKeypair: %v", err)
			}
			sig, err := s.Sign([]byte("msg"), sk)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			ok, err := s.Verify([]byte("msg"), sig, pk)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if !ok {
				t.Fatalf("Verify() = false, want true")
			}
		})
	}
}
