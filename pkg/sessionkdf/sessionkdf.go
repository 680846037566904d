// Package sessionkdf turns a handshake's raw concatenated KEM secrets into
// directional AEAD session keys. It is kept separate from pkg/handshake so
// that Session.SharedSecret's output is never mistaken for a usable key —
// see SPEC_FULL.md §9.
package sessionkdf

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the output size of each derived directional key, matching
// cryptocore.AEADKeySize.
const KeySize = 32

var (
	// ErrDerivationFailed indicates the underlying HKDF reader could not
	// produce the requested output.
	ErrDerivationFailed = errors.New("sessionkdf: key derivation failed")
	// ErrEmptySecret indicates DeriveSessionKeys was called with no input
	// keying material.
	ErrEmptySecret = errors.New("sessionkdf: empty shared secret")
)

// infoLabel distinguishes the initiator->responder and responder->initiator
// directional keys derived from the same raw secret, so a passive endpoint
// reusing one direction's key as the other's is never a valid implementation.
const (
	infoInitiatorToResponder = "pqvpn-session-i2r"
	infoResponderToInitiator = "pqvpn-session-r2i"
)

// SessionKeys holds the pair of directional AEAD keys produced from one
// completed handshake.
type SessionKeys struct {
	InitiatorToResponder [KeySize]byte
	ResponderToInitiator [KeySize]byte
}

// DeriveSessionKeys runs HKDF-SHA256 over rawSecret (the raw concatenation
// returned by handshake.Session.SharedSecret), salted with transcript, to
// produce two independent directional keys. transcript SHOULD bind the
// handshake's sender indices and both parties' ephemeral public keys so
// that two otherwise-identical handshakes between the same static peers
// never derive colliding keys.
func DeriveSessionKeys(rawSecret, transcript []byte) (SessionKeys, error) {
	var keys SessionKeys
	if len(rawSecret) == 0 {
		return keys, ErrEmptySecret
	}

	i2r, err := deriveDirectional(rawSecret, transcript, infoInitiatorToResponder)
	if err != nil {
		return keys, err
	}
	r2i, err := deriveDirectional(rawSecret, transcript, infoResponderToInitiator)
	if err != nil {
		return keys, err
	}

	keys.InitiatorToResponder = i2r
	keys.ResponderToInitiator = r2i
	return keys, nil
}

func deriveDirectional(rawSecret, transcript []byte, label string) ([KeySize]byte, error) {
	var out [KeySize]byte

	info := make([]byte, 0, len(label)+8+len(transcript))
	info = append(info, label...)
	info = binary.BigEndian.AppendUint64(info, uint64(len(transcript)))
	info = append(info, transcript...)

	reader := hkdf.New(sha256.New, rawSecret, transcript, info)
	n, err := io.ReadFull(reader, out[:])
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrDerivationFailed, err)
	}
	if n != KeySize {
		return out, fmt.Errorf("%w: got %d bytes, want %d", ErrDerivationFailed, n, KeySize)
	}
	return out, nil
}
