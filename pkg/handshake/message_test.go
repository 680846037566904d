package handshake

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
)

func testFrameSizes(t *testing.T) FrameSizes {
	t.Helper()
	p, err := cryptocore.NewProvider("Dilithium2")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return ComputeFrameSizes(p)
}

func fixtureMessage(t *testing.T, sizes FrameSizes, msgType byte) *Message {
	t.Helper()
	eph := make([]byte, sizes.EphemeralPublicSize)
	for i := range eph {
		eph[i] = byte(i)
	}
	ct := make([]byte, sizes.CiphertextFieldSize)
	for i := range ct {
		ct[i] = byte(255 - i%256)
	}
	return &Message{
		MessageType:      msgType,
		SenderIndex:      42,
		EphemeralPublic:  eph,
		StaticCiphertext: ct,
	}
}

func TestWireCodecRoundTrip(t *testing.T) {
	sizes := testFrameSizes(t)
	m := fixtureMessage(t, sizes, MessageTypeInitiation)

	data, err := m.Serialize(sizes)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data, sizes)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.MessageType != m.MessageType || got.SenderIndex != m.SenderIndex {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if !bytes.Equal(got.EphemeralPublic, m.EphemeralPublic) {
		t.Fatalf("ephemeral_public mismatch")
	}
	if !bytes.Equal(got.StaticCiphertext, m.StaticCiphertext) {
		t.Fatalf("static_ciphertext mismatch")
	}
}

func TestExactFrameSize(t *testing.T) {
	sizes := testFrameSizes(t)
	m := fixtureMessage(t, sizes, MessageTypeInitiation)

	data, err := m.Serialize(sizes)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(data) != sizes.Total {
		t.Fatalf("len(data) = %d, want %d (this binding's derived frame size, not the reference spec's 1232)",
			len(data), sizes.Total)
	}
}

func TestSizeRejection(t *testing.T) {
	sizes := testFrameSizes(t)
	m := fixtureMessage(t, sizes, MessageTypeInitiation)
	data, err := m.Serialize(sizes)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	for _, n := range []int{len(data) - 1, len(data) + 1, 0} {
		input := append(append([]byte{}, data...), 0)[:n]
		if _, err := Deserialize(input, sizes); !errors.Is(err, ErrInvalidMessageSize) {
			t.Fatalf("Deserialize(len=%d) error = %v, want ErrInvalidMessageSize", n, err)
		}
	}
}

func TestMessageOneHeaderBytes(t *testing.T) {
	// Scenario B: serialize message 1, sender_index zero little-endian,
	// mac2 field all zero.
	sizes := testFrameSizes(t)
	eph := make([]byte, sizes.EphemeralPublicSize)
	ct := make([]byte, sizes.CiphertextFieldSize)
	m := &Message{
		MessageType:      MessageTypeInitiation,
		SenderIndex:      0,
		EphemeralPublic:  eph,
		StaticCiphertext: ct,
	}

	data, err := m.Serialize(sizes)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if data[0] != 1 {
		t.Fatalf("bytes[0] = %d, want 1", data[0])
	}
	if !bytes.Equal(data[1:4], []byte{0, 0, 0}) {
		t.Fatalf("bytes[1:4] = %v, want zero reserved", data[1:4])
	}
	if !bytes.Equal(data[4:8], []byte{0, 0, 0, 0}) {
		t.Fatalf("bytes[4:8] = %v, want zero sender_index", data[4:8])
	}
	mac2Start := sizes.Total - macSize
	for i := mac2Start; i < sizes.Total; i++ {
		if data[i] != 0 {
			t.Fatalf("mac2 byte %d = %d, want 0", i-mac2Start, data[i])
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
