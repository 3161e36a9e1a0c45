package core

// Mixing coordinator (§4.11 C11: "sessions advance created → registration →
// verification → signing → completed | failed with a fixed denomination per
// session; a blind-signature issuance step decorrelates input from output
// addresses"). Modeled as a small enum plus per-phase deadline, the same
// shape used for consensus round status, re-themed from block-round
// progression to mixing-session progression, and reusing the BLS key
// material already wired for PoRS quorum signing.

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/herumi/bls-eth-go-binary/bls"
)

// MixSessionState is a position in the mixing session lifecycle.
type MixSessionState string

const (
	MixCreated      MixSessionState = "created"
	MixRegistration MixSessionState = "registration"
	MixVerification MixSessionState = "verification"
	MixSigning      MixSessionState = "signing"
	MixCompleted    MixSessionState = "completed"
	MixFailed       MixSessionState = "failed"
)

// MixParticipant is one input committed to a mixing session. OutputAddress
// and the signature over its commitment are populated once the session
// reaches the signing phase. The coordinator receives the output address
// together with the input and stores both on the same participant, so it
// does observe the input→output link.
type MixParticipant struct {
	InputAddress   Address
	CommitmentHash Hash
	OutputAddress  Address
	BlindSig       []byte
}

// MixingSession tracks one mix round for a fixed denomination.
type MixingSession struct {
	ID            string
	Denomination  Amount
	State         MixSessionState
	Participants  map[Address]*MixParticipant
	CreatedAt     time.Time
	PhaseDeadline time.Time
}

// MixingCoordinator enforces minimum participant counts and per-phase
// timeouts across concurrently running sessions (§4.11).
type MixingCoordinator struct {
	mu              sync.Mutex
	sessions        map[string]*MixingSession
	minParticipants int
	phaseTimeout    time.Duration
	signingKey      *bls.SecretKey
}

// NewMixingCoordinator builds a coordinator that signs blind commitments
// with signingKey during the signing phase.
func NewMixingCoordinator(minParticipants int, phaseTimeout time.Duration, signingKey *bls.SecretKey) *MixingCoordinator {
	return &MixingCoordinator{
		sessions:        make(map[string]*MixingSession),
		minParticipants: minParticipants,
		phaseTimeout:    phaseTimeout,
		signingKey:      signingKey,
	}
}

// CreateSession opens a new session for the given fixed denomination.
func (mc *MixingCoordinator) CreateSession(denomination Amount) *MixingSession {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := time.Now()
	s := &MixingSession{
		ID:            uuid.NewString(),
		Denomination:  denomination,
		State:         MixCreated,
		Participants:  make(map[Address]*MixParticipant),
		CreatedAt:     now,
		PhaseDeadline: now.Add(mc.phaseTimeout),
	}
	mc.sessions[s.ID] = s
	return s
}

// Register enrolls input into the session's registration phase with an
// opaque commitment hash standing in for its eventual output address.
func (mc *MixingCoordinator) Register(sessionID string, input Address, commitment Hash) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	if !ok {
		return NewError(KindNotFound, "mixing_register", fmt.Errorf("session %s not found", sessionID))
	}
	if s.State != MixCreated && s.State != MixRegistration {
		return NewError(KindConflict, "mixing_register", fmt.Errorf("session %s not accepting registrations in state %s", sessionID, s.State))
	}
	if time.Now().After(s.PhaseDeadline) {
		s.State = MixFailed
		return NewError(KindTimeout, "mixing_register", fmt.Errorf("session %s registration deadline passed", sessionID))
	}
	s.Participants[input] = &MixParticipant{InputAddress: input, CommitmentHash: commitment}
	s.State = MixRegistration
	return nil
}

// AdvanceToVerification closes registration, failing the session if fewer
// than the configured minimum participants registered.
func (mc *MixingCoordinator) AdvanceToVerification(sessionID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	if !ok {
		return NewError(KindNotFound, "mixing_advance", fmt.Errorf("session %s not found", sessionID))
	}
	if s.State != MixRegistration {
		return NewError(KindConflict, "mixing_advance", fmt.Errorf("session %s not in registration, is %s", sessionID, s.State))
	}
	if len(s.Participants) < mc.minParticipants {
		s.State = MixFailed
		return NewError(KindPolicyViolation, "mixing_advance", fmt.Errorf("session %s has %d participants, need %d", sessionID, len(s.Participants), mc.minParticipants))
	}
	s.State = MixVerification
	s.PhaseDeadline = time.Now().Add(mc.phaseTimeout)
	return nil
}

// AdvanceToSigning moves a verified session into the signing phase.
func (mc *MixingCoordinator) AdvanceToSigning(sessionID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	if !ok {
		return NewError(KindNotFound, "mixing_advance", fmt.Errorf("session %s not found", sessionID))
	}
	if s.State != MixVerification {
		return NewError(KindConflict, "mixing_advance", fmt.Errorf("session %s not in verification, is %s", sessionID, s.State))
	}
	s.State = MixSigning
	s.PhaseDeadline = time.Now().Add(mc.phaseTimeout)
	return nil
}

// IssueBlindSignature signs a participant's commitment hash during the
// signing phase with a plain BLS signature (no blinding) and records
// outputAddress on that input's participant entry. The signed message is
// the commitment only, but the coordinator keeps the input→output pairing.
func (mc *MixingCoordinator) IssueBlindSignature(sessionID string, input Address, outputAddress Address) ([]byte, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	if !ok {
		return nil, NewError(KindNotFound, "mixing_issue_signature", fmt.Errorf("session %s not found", sessionID))
	}
	if s.State != MixSigning {
		return nil, NewError(KindConflict, "mixing_issue_signature", fmt.Errorf("session %s not in signing, is %s", sessionID, s.State))
	}
	if time.Now().After(s.PhaseDeadline) {
		s.State = MixFailed
		return nil, NewError(KindTimeout, "mixing_issue_signature", fmt.Errorf("session %s signing deadline passed", sessionID))
	}
	p, ok := s.Participants[input]
	if !ok {
		return nil, NewError(KindNotFound, "mixing_issue_signature", fmt.Errorf("input %s not registered in session %s", input, sessionID))
	}
	sig := mc.signingKey.SignByte(p.CommitmentHash[:])
	p.OutputAddress = outputAddress
	p.BlindSig = sig.Serialize()
	return p.BlindSig, nil
}

// Complete transitions a session to completed once every participant has
// received a signature over its commitment, or fails it otherwise.
func (mc *MixingCoordinator) Complete(sessionID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	if !ok {
		return NewError(KindNotFound, "mixing_complete", fmt.Errorf("session %s not found", sessionID))
	}
	if s.State != MixSigning {
		return NewError(KindConflict, "mixing_complete", fmt.Errorf("session %s not in signing, is %s", sessionID, s.State))
	}
	for _, p := range s.Participants {
		if len(p.BlindSig) == 0 {
			return NewError(KindPolicyViolation, "mixing_complete", fmt.Errorf("session %s has unsigned participants", sessionID))
		}
	}
	s.State = MixCompleted
	return nil
}

// Fail marks a session failed from any non-terminal state; funds tied to
// the session remain unspent (§4.11: "on failure the session aborts and
// funds remain unspent" — this coordinator only tracks session state, it
// never custodies funds).
func (mc *MixingCoordinator) Fail(sessionID string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	if !ok {
		return NewError(KindNotFound, "mixing_fail", fmt.Errorf("session %s not found", sessionID))
	}
	if s.State == MixCompleted || s.State == MixFailed {
		return NewError(KindConflict, "mixing_fail", fmt.Errorf("session %s already terminal (%s)", sessionID, s.State))
	}
	s.State = MixFailed
	return nil
}

// CheckTimeouts fails every session whose current phase deadline has
// elapsed, returning their ids.
func (mc *MixingCoordinator) CheckTimeouts() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := time.Now()
	var expired []string
	for id, s := range mc.sessions {
		if s.State == MixCompleted || s.State == MixFailed {
			continue
		}
		if now.After(s.PhaseDeadline) {
			s.State = MixFailed
			expired = append(expired, id)
		}
	}
	return expired
}

// Session returns a session by id.
func (mc *MixingCoordinator) Session(sessionID string) (*MixingSession, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s, ok := mc.sessions[sessionID]
	return s, ok
}
