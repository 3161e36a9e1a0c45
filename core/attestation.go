package core

import (
	"fmt"
	"sync"

	gokzg4844 "github.com/crate-crypto/go-kzg-4844"
)

// AttestationContext wraps the trusted-setup context used both to verify
// optional PoRW folding-result ZK attestations and as the commitment
// primitive behind confidential transfers (§9 Open Question: "what ZK
// scheme" — resolved as "reuse the KZG context for both").
type AttestationContext struct {
	ctx *gokzg4844.Context
}

var defaultAttestationCtx *AttestationContext
var defaultAttestationOnce sync.Once
var defaultAttestationErr error

// NewAttestationContext loads the library's embedded 4096-point trusted
// setup into a new verifier on every call; DefaultAttestationContext holds
// the single shared instance.
func NewAttestationContext() (*AttestationContext, error) {
	ctx, err := gokzg4844.NewContext4096Secure()
	if err != nil {
		return nil, NewError(KindInternal, "new_attestation_context", fmt.Errorf("load trusted setup: %w", err))
	}
	return &AttestationContext{ctx: ctx}, nil
}

// DefaultAttestationContext returns the process-wide context, loading it on
// first use.
func DefaultAttestationContext() (*AttestationContext, error) {
	defaultAttestationOnce.Do(func() {
		defaultAttestationCtx, defaultAttestationErr = NewAttestationContext()
	})
	return defaultAttestationCtx, defaultAttestationErr
}

// FoldingAttestation is the optional ZK proof a miner attaches to a PoRW
// block asserting it ran the claimed folding computation without revealing
// the trajectory (§4.7.iv).
type FoldingAttestation struct {
	Commitment gokzg4844.KZGCommitment
	Proof      gokzg4844.KZGProof
	Point      gokzg4844.Scalar
	ClaimedValue gokzg4844.Scalar
}

// VerifyFoldingAttestation checks a KZG opening proof: that Commitment
// opens to ClaimedValue at Point.
func (a *AttestationContext) VerifyFoldingAttestation(att FoldingAttestation) error {
	if err := a.ctx.VerifyKZGProof(att.Commitment, att.Point, att.ClaimedValue, att.Proof); err != nil {
		return NewError(KindInvalidProof, "verify_folding_attestation", err)
	}
	return nil
}

// CommitBlob commits to an arbitrary polynomial blob. core/confidential.go
// does not call it; CommitAmount commits through the context directly.
func (a *AttestationContext) CommitBlob(blob gokzg4844.Blob) (gokzg4844.KZGCommitment, error) {
	commitment, err := a.ctx.BlobToKZGCommitment(blob, 0)
	if err != nil {
		return gokzg4844.KZGCommitment{}, NewError(KindInternal, "commit_blob", err)
	}
	return commitment, nil
}
