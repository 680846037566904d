package handshake

import (
	"fmt"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
)

// State is one of the five handshake session states. InitiatorAwaitingResponse
// is not present in the source this is adapted from — see REDESIGN FLAGS #2
// in SPEC_FULL.md: without it, process_response cannot distinguish a
// freshly constructed initiator session from one that has already called
// create_initiation, and would accept a response out of turn.
type State int

const (
	StateInitiatorStart State = iota
	StateInitiatorAwaitingResponse
	StateInitiatorFinished
	StateResponderStart
	StateResponderFinished
	statePoisoned
)

func (s State) String() string {
	switch s {
	case StateInitiatorStart:
		return "InitiatorStart"
	case StateInitiatorAwaitingResponse:
		return "InitiatorAwaitingResponse"
	case StateInitiatorFinished:
		return "InitiatorFinished"
	case StateResponderStart:
		return "ResponderStart"
	case StateResponderFinished:
		return "ResponderFinished"
	default:
		return "Poisoned"
	}
}

// Session is one initiator or responder side of a single handshake. It is
// single-shot and not reentrant: callers must not invoke its methods
// concurrently, and once it reaches a *Finished state (or is poisoned by
// any error) it rejects further handshake calls with ErrInvalidState.
type Session struct {
	state       State
	isInitiator bool
	provider    *cryptocore.Provider
	sizes       FrameSizes

	staticPublic     []byte
	staticPrivate    []byte
	ephemeralPrivate []byte
	sharedSecret     []byte
}

// NewSession generates a fresh static keypair and returns a session in its
// role-appropriate initial state.
func NewSession(provider *cryptocore.Provider, isInitiator bool) (*Session, error) {
	pk, sk, err := provider.GenerateStaticKeypair()
	if err != nil {
		return nil, err
	}
	initial := StateResponderStart
	if isInitiator {
		initial = StateInitiatorStart
	}
	return &Session{
		state:         initial,
		isInitiator:   isInitiator,
		provider:      provider,
		sizes:         ComputeFrameSizes(provider),
		staticPublic:  pk,
		staticPrivate: sk,
	}, nil
}

// NewSessionWithStaticKeypair builds a session bound to an existing static
// keypair — a node's persisted pkg/identitystore identity — instead of
// generating a fresh one. Peers target a node's static public key out-of-band
// (peer configuration); a long-running node must present the same static
// public key across restarts, which plain NewSession cannot do.
func NewSessionWithStaticKeypair(provider *cryptocore.Provider, isInitiator bool, staticPublic, staticPrivate []byte) (*Session, error) {
	initial := StateResponderStart
	if isInitiator {
		initial = StateInitiatorStart
	}
	return &Session{
		state:         initial,
		isInitiator:   isInitiator,
		provider:      provider,
		sizes:         ComputeFrameSizes(provider),
		staticPublic:  append([]byte{}, staticPublic...),
		staticPrivate: append([]byte{}, staticPrivate...),
	}, nil
}

// StaticPublicKey returns this session's static public key, to be
// distributed out-of-band (peer configuration) so the other party can
// target it from CreateInitiation.
func (s *Session) StaticPublicKey() []byte { return s.staticPublic }

// State reports the session's current state.
func (s *Session) State() State { return s.state }

// poison marks the session unusable and returns err unchanged. Per §7,
// all handshake-layer errors are fatal to the session.
func (s *Session) poison(err error) error {
	s.state = statePoisoned
	return err
}

// CreateInitiation builds message 1. responderStaticPublic MUST be the
// intended peer's static public key, obtained out-of-band (peer
// configuration) — never the session's own static public key. The source
// this is adapted from encapsulates against its own static_public, which
// is the bug fixed here (REDESIGN FLAGS #4).
func (s *Session) CreateInitiation(responderStaticPublic []byte, senderIndex uint32) (*Message, error) {
	if s.state != StateInitiatorStart {
		return nil, s.poison(fmt.Errorf("%w: create_initiation requires InitiatorStart, session is %s", ErrInvalidState, s.state))
	}

	ephPub, ephPriv, err := s.provider.GenerateEphemeralKeypair()
	if err != nil {
		return nil, s.poison(err)
	}

	ssStatic, ctStatic, err := s.provider.EncapsulateStatic(responderStaticPublic)
	if err != nil {
		return nil, s.poison(err)
	}

	field, err := padCiphertext(ctStatic, s.sizes.CiphertextFieldSize)
	if err != nil {
		return nil, s.poison(err)
	}

	s.ephemeralPrivate = ephPriv
	s.sharedSecret = ssStatic
	s.state = StateInitiatorAwaitingResponse

	return &Message{
		MessageType:      MessageTypeInitiation,
		SenderIndex:      senderIndex,
		EphemeralPublic:  ephPub,
		StaticCiphertext: field,
	}, nil
}

// ProcessInitiation consumes message 1 on the responder side, returning
// message 2. It zeroes the intermediate static shared secret the instant
// it has been folded into the combined secret (REDESIGN FLAGS #3 — the
// adapted source stores then overwrites this value without clearing it).
func (s *Session) ProcessInitiation(msg *Message) (*Message, error) {
	if s.state != StateResponderStart {
		return nil, s.poison(fmt.Errorf("%w: process_initiation requires ResponderStart, session is %s", ErrInvalidState, s.state))
	}
	if msg.MessageType != MessageTypeInitiation {
		return nil, s.poison(fmt.Errorf("%w: expected message_type 1, got %d", ErrInvalidMessageSize, msg.MessageType))
	}

	if len(msg.StaticCiphertext) < s.sizes.StaticCiphertextSize {
		return nil, s.poison(fmt.Errorf("%w: static ciphertext field is %d bytes, want at least %d",
			ErrInvalidMessageSize, len(msg.StaticCiphertext), s.sizes.StaticCiphertextSize))
	}
	staticCT := msg.StaticCiphertext[:s.sizes.StaticCiphertextSize]
	ssStatic, err := s.provider.DecapsulateStatic(staticCT, s.staticPrivate)
	if err != nil {
		return nil, s.poison(err)
	}

	responderEphPub, responderEphPriv, err := s.provider.GenerateEphemeralKeypair()
	if err != nil {
		cryptocore.Zero(ssStatic)
		return nil, s.poison(err)
	}

	ssEphemeral, ctResponse, err := s.provider.EncapsulateEphemeral(msg.EphemeralPublic)
	if err != nil {
		cryptocore.Zero(ssStatic)
		return nil, s.poison(err)
	}

	combined := make([]byte, 0, len(ssStatic)+len(ssEphemeral))
	combined = append(combined, ssStatic...)
	combined = append(combined, ssEphemeral...)
	cryptocore.Zero(ssStatic)

	field, err := padCiphertext(ctResponse, s.sizes.CiphertextFieldSize)
	if err != nil {
		cryptocore.Zero(combined)
		return nil, s.poison(err)
	}

	s.ephemeralPrivate = responderEphPriv
	s.sharedSecret = combined
	s.state = StateResponderFinished

	return &Message{
		MessageType:      MessageTypeResponse,
		SenderIndex:      msg.SenderIndex + 1,
		EphemeralPublic:  responderEphPub,
		StaticCiphertext: field,
	}, nil
}

// ProcessResponse consumes message 2 on the initiator side, finalizing the
// shared secret. It requires StateInitiatorAwaitingResponse (REDESIGN
// FLAGS #2): a session that never called CreateInitiation is still in
// StateInitiatorStart and is rejected here, which the adapted source's
// single InitiatorStart state could not express.
func (s *Session) ProcessResponse(msg *Message) error {
	if s.state != StateInitiatorAwaitingResponse {
		return s.poison(fmt.Errorf("%w: process_response requires InitiatorAwaitingResponse, session is %s", ErrInvalidState, s.state))
	}
	if msg.MessageType != MessageTypeResponse {
		return s.poison(fmt.Errorf("%w: expected message_type 2, got %d", ErrInvalidMessageSize, msg.MessageType))
	}

	if len(msg.StaticCiphertext) < s.sizes.EphemeralCiphertextSize {
		return s.poison(fmt.Errorf("%w: response ciphertext field is %d bytes, want at least %d",
			ErrInvalidMessageSize, len(msg.StaticCiphertext), s.sizes.EphemeralCiphertextSize))
	}
	ephemeralCT := msg.StaticCiphertext[:s.sizes.EphemeralCiphertextSize]
	ssEphemeral, err := s.provider.DecapsulateEphemeral(ephemeralCT, s.ephemeralPrivate)
	if err != nil {
		return s.poison(err)
	}

	combined := make([]byte, 0, len(s.sharedSecret)+len(ssEphemeral))
	combined = append(combined, s.sharedSecret...)
	combined = append(combined, ssEphemeral...)
	cryptocore.Zero(s.sharedSecret)
	cryptocore.Zero(s.ephemeralPrivate)

	s.sharedSecret = combined
	s.ephemeralPrivate = nil
	s.state = StateInitiatorFinished
	return nil
}

// SharedSecret returns the session's final shared secret. It is only
// meaningful once the session has reached a *Finished state; the returned
// slice is a raw KEM-secret concatenation and MUST be passed through
// pkg/sessionkdf before use as a key (see SPEC_FULL.md §9).
func (s *Session) SharedSecret() ([]byte, error) {
	if s.state != StateInitiatorFinished && s.state != StateResponderFinished {
		return nil, fmt.Errorf("%w: session has not finished (state %s)", ErrInvalidState, s.state)
	}
	return append([]byte{}, s.sharedSecret...), nil
}

// Destroy zeroes all retained secret material and poisons the session.
// Safe to call at any point, including after normal completion; callers
// SHOULD call this when a session is dropped due to timeout or
// cancellation (§5 Concurrency & Resource Model).
func (s *Session) Destroy() {
	cryptocore.ZeroAll(s.staticPrivate, s.ephemeralPrivate, s.sharedSecret)
	s.state = statePoisoned
}
