package handshake

import (
	"encoding/binary"
	"fmt"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
)

// Message types carried in HandshakeMessage.MessageType.
const (
	MessageTypeInitiation byte = 1
	MessageTypeResponse   byte = 2
)

const (
	reservedSize   = 3
	indexSize      = 4
	timestampSize  = 12
	macSize        = 32
	headerSize     = 1 + reservedSize + indexSize
	fixedTailSize  = timestampSize + macSize + macSize
)

// FrameSizes holds the per-binding field widths the wire codec needs.
// Unlike the source this is adapted from (which hard-codes
// ephemeral_size = 896 and static_size = 188 — values that do not match
// any real KEM the labels name), these are derived from the bound
// Provider's actual algorithm sizes every time a binding is constructed.
// See SPEC_FULL.md §3 for the derivation and why this binding's total
// frame size is not the reference spec's illustrative 1232 bytes.
type FrameSizes struct {
	EphemeralPublicSize     int // ephemeral KEM public key size
	StaticCiphertextSize    int // static KEM ciphertext size (message 1 content)
	EphemeralCiphertextSize int // ephemeral KEM ciphertext size (message 2 content)
	CiphertextFieldSize     int // wire width of the shared static_ciphertext field
	Total                   int // full serialized frame size
}

// ComputeFrameSizes derives this binding's frame geometry from a Provider.
// The static_ciphertext field is shared between message 1 (which carries a
// static-KEM ciphertext) and message 2 (which reuses the field for an
// ephemeral-KEM ciphertext); its wire width is the larger of the two, with
// the shorter content left-aligned and zero-padded.
func ComputeFrameSizes(p *cryptocore.Provider) FrameSizes {
	s := FrameSizes{
		EphemeralPublicSize:     p.EphemeralKEM().PublicKeySize(),
		StaticCiphertextSize:    p.StaticKEM().CiphertextSize(),
		EphemeralCiphertextSize: p.EphemeralKEM().CiphertextSize(),
	}
	s.CiphertextFieldSize = s.StaticCiphertextSize
	if s.EphemeralCiphertextSize > s.CiphertextFieldSize {
		s.CiphertextFieldSize = s.EphemeralCiphertextSize
	}
	s.Total = headerSize + s.EphemeralPublicSize + s.CiphertextFieldSize + fixedTailSize
	return s
}

// Message is the wire-format handshake message: one initiation or one
// response. All multi-byte integer fields are little-endian.
type Message struct {
	MessageType      byte
	SenderIndex      uint32
	EphemeralPublic  []byte
	StaticCiphertext []byte // wire-width field; real content length depends on MessageType
	Timestamp        [timestampSize]byte
	Mac1             [macSize]byte
	Mac2             [macSize]byte
}

// Serialize lays the message out as:
// message_type(1) || reserved(3, zero) || sender_index(4, LE) ||
// ephemeral_public(P) || static_ciphertext(C) || timestamp(12) ||
// mac1(32) || mac2(32), failing ErrInvalidMessageSize if any field does
// not match sizes, or if the assembled buffer is not exactly sizes.Total.
func (m *Message) Serialize(sizes FrameSizes) ([]byte, error) {
	if len(m.EphemeralPublic) != sizes.EphemeralPublicSize {
		return nil, fmt.Errorf("%w: ephemeral_public is %d bytes, want %d",
			ErrInvalidMessageSize, len(m.EphemeralPublic), sizes.EphemeralPublicSize)
	}
	if len(m.StaticCiphertext) != sizes.CiphertextFieldSize {
		return nil, fmt.Errorf("%w: static_ciphertext is %d bytes, want %d",
			ErrInvalidMessageSize, len(m.StaticCiphertext), sizes.CiphertextFieldSize)
	}

	buf := make([]byte, 0, sizes.Total)
	buf = append(buf, m.MessageType)
	buf = append(buf, make([]byte, reservedSize)...)
	buf = binary.LittleEndian.AppendUint32(buf, m.SenderIndex)
	buf = append(buf, m.EphemeralPublic...)
	buf = append(buf, m.StaticCiphertext...)
	buf = append(buf, m.Timestamp[:]...)
	buf = append(buf, m.Mac1[:]...)
	buf = append(buf, m.Mac2[:]...)

	if len(buf) != sizes.Total {
		return nil, fmt.Errorf("%w: assembled %d bytes, want %d", ErrInvalidMessageSize, len(buf), sizes.Total)
	}
	return buf, nil
}

// Deserialize parses a wire frame, failing ErrInvalidMessageSize unless
// data is exactly sizes.Total bytes.
func Deserialize(data []byte, sizes FrameSizes) (*Message, error) {
	if len(data) != sizes.Total {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidMessageSize, len(data), sizes.Total)
	}

	m := &Message{}
	off := 0
	m.MessageType = data[off]
	off += 1 + reservedSize
	m.SenderIndex = binary.LittleEndian.Uint32(data[off : off+indexSize])
	off += indexSize

	m.EphemeralPublic = append([]byte{}, data[off:off+sizes.EphemeralPublicSize]...)
	off += sizes.EphemeralPublicSize

	m.StaticCiphertext = append([]byte{}, data[off:off+sizes.CiphertextFieldSize]...)
	off += sizes.CiphertextFieldSize

	copy(m.Timestamp[:], data[off:off+timestampSize])
	off += timestampSize
	copy(m.Mac1[:], data[off:off+macSize])
	off += macSize
	copy(m.Mac2[:], data[off:off+macSize])
	off += macSize

	return m, nil
}

// padCiphertext left-aligns ct within a zero-padded field of fieldSize
// bytes. Fails ErrInvalidMessageSize if ct is already longer than the
// field.
func padCiphertext(ct []byte, fieldSize int) ([]byte, error) {
	if len(ct) > fieldSize {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, field width is %d",
			ErrInvalidMessageSize, len(ct), fieldSize)
	}
	field := make([]byte, fieldSize)
	copy(field, ct)
	return field, nil
}
