package core

import (
	"testing"
	"time"
)

func newTestMixingCoordinator(t *testing.T) *MixingCoordinator {
	t.Helper()
	if err := initBLS(); err != nil {
		t.Fatalf("init bls: %v", err)
	}
	kp, err := GenerateQuorumKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return NewMixingCoordinator(2, time.Minute, &kp.Secret)
}

func TestMixingSessionHappyPath(t *testing.T) {
	mc := newTestMixingCoordinator(t)
	session := mc.CreateSession(100)

	var in1, in2, out1, out2 Address
	in1[0], in2[0] = 1, 2
	out1[0], out2[0] = 3, 4

	if err := mc.Register(session.ID, in1, Hash{0xAA}); err != nil {
		t.Fatalf("register in1: %v", err)
	}
	if err := mc.Register(session.ID, in2, Hash{0xBB}); err != nil {
		t.Fatalf("register in2: %v", err)
	}
	if err := mc.AdvanceToVerification(session.ID); err != nil {
		t.Fatalf("advance to verification: %v", err)
	}
	if err := mc.AdvanceToSigning(session.ID); err != nil {
		t.Fatalf("advance to signing: %v", err)
	}
	if _, err := mc.IssueBlindSignature(session.ID, in1, out1); err != nil {
		t.Fatalf("issue signature in1: %v", err)
	}
	if _, err := mc.IssueBlindSignature(session.ID, in2, out2); err != nil {
		t.Fatalf("issue signature in2: %v", err)
	}
	if err := mc.Complete(session.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, ok := mc.Session(session.ID)
	if !ok || got.State != MixCompleted {
		t.Fatalf("expected completed session, got %+v", got)
	}
}

func TestMixingSessionFailsBelowMinParticipants(t *testing.T) {
	mc := newTestMixingCoordinator(t)
	session := mc.CreateSession(100)

	var in1 Address
	in1[0] = 1
	if err := mc.Register(session.ID, in1, Hash{0xAA}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mc.AdvanceToVerification(session.ID); err == nil {
		t.Fatal("expected failure for insufficient participants")
	}
	got, _ := mc.Session(session.ID)
	if got.State != MixFailed {
		t.Fatalf("expected failed state, got %s", got.State)
	}
}

func TestMixingCheckTimeouts(t *testing.T) {
	mc := NewMixingCoordinator(1, -time.Second, nil)
	session := mc.CreateSession(50)
	expired := mc.CheckTimeouts()
	if len(expired) != 1 || expired[0] != session.ID {
		t.Fatalf("expected session %s to expire, got %v", session.ID, expired)
	}
}
