package core

import "testing"

func TestCommitAmountVerifies(t *testing.T) {
	ctx, err := NewAttestationContext()
	if err != nil {
		t.Fatalf("new attestation context: %v", err)
	}
	var blinding Hash
	blinding[0] = 0x42

	c, err := CommitAmount(ctx, 12345, blinding)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := VerifyCommitment(ctx, c); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyCommitmentRejectsTamperedClaim(t *testing.T) {
	ctx, err := NewAttestationContext()
	if err != nil {
		t.Fatalf("new attestation context: %v", err)
	}
	var blinding Hash
	c, err := CommitAmount(ctx, 100, blinding)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	c.ClaimedValue[0] ^= 0xFF
	if err := VerifyCommitment(ctx, c); err == nil {
		t.Fatal("expected verification to fail for a tampered claimed value")
	}
}
