package core

import (
	"fmt"
	"time"
)

const yearSeconds = 365.25 * 24 * 3600

// PoRWPolicy pins the consensus parameters governing minting, fixed in
// genesis metadata (§4.7 reward formula).
type PoRWPolicy struct {
	TargetInterval    time.Duration // T_target
	InflationRate     float64       // π, default 0.02
	MinFactor         float64       // clamp lower bound
	MaxFactor         float64       // clamp upper bound
	MinScore          float64       // minimum-quality threshold
	ScoreTolerance    float64       // ±ε for re-scoring
}

// DefaultPoRWPolicy mirrors the values used in the worked example (§8
// scenario 2).
func DefaultPoRWPolicy() PoRWPolicy {
	return PoRWPolicy{
		TargetInterval: 600 * time.Second,
		InflationRate:  0.02,
		MinFactor:      0.25,
		MaxFactor:      4.0,
		MinScore:       0.0,
		ScoreTolerance: 0.01,
	}
}

// FoldingTarget is a ranked candidate consumed from the external scientific
// scorer; the engine's contract is only that it carries a stable
// identifier and an expected-difficulty tag (§4.7 target selection).
type FoldingTarget struct {
	TargetID           string
	ExpectedDifficulty float64
}

// FoldingResult is the simulator's (or delegate's) output for a target.
type FoldingResult struct {
	TargetID       string
	StructureBytes []byte
	Score          float64
	Energy         float64
	RMSD           float64
	Attestation    *FoldingAttestation
}

// PoRWEngine selects folding targets, validates results, and computes
// minted amounts (C7).
type PoRWEngine struct {
	policy PoRWPolicy
	attCtx *AttestationContext
}

// NewPoRWEngine builds an engine with the given policy. attCtx may be nil
// if ZK attestation is not in use on this deployment.
func NewPoRWEngine(policy PoRWPolicy, attCtx *AttestationContext) *PoRWEngine {
	return &PoRWEngine{policy: policy, attCtx: attCtx}
}

// clamp bounds x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// RewardFor computes minted_amount for a PoRW block at blockTime, given the
// previous PoRW block's timestamp and the current total supply (§4.7
// reward formula). lastPoRWTimestamp may be the zero time for the first
// PoRW block after genesis, in which case Δt is taken to be exactly
// TargetInterval (a factor of 1).
func (e *PoRWEngine) RewardFor(totalSupply Amount, lastPoRWTimestamp, blockTime time.Time) Amount {
	target := e.policy.TargetInterval
	deltaT := blockTime.Sub(lastPoRWTimestamp).Seconds()
	if lastPoRWTimestamp.IsZero() {
		deltaT = target.Seconds()
	}
	bBase := float64(totalSupply) * e.policy.InflationRate * target.Seconds() / yearSeconds
	factor := clamp(deltaT/target.Seconds(), e.policy.MinFactor, e.policy.MaxFactor)
	minted := bBase * factor
	if minted < 0 {
		minted = 0
	}
	return Amount(minted)
}

// VerifyFoldingResult checks the four-part validation contract in §4.7:
// the declared target hashes into protein_data_ref, the score clears the
// threshold, re-scoring reproduces the reported score within tolerance,
// and any ZK attestation verifies. rescore may be nil when the validating
// node has no live scoring function available, in which case check (iii)
// is skipped and the result is accepted on the other three criteria.
func (e *PoRWEngine) VerifyFoldingResult(target FoldingTarget, result FoldingResult, proteinDataRef Hash, rescore func(structure []byte) (float64, error)) error {
	wantRef, err := CanonicalHash(target.TargetID)
	if err != nil {
		return NewError(KindInternal, "verify_folding_result", err)
	}
	if wantRef != proteinDataRef {
		return NewError(KindInvalidProof, "verify_folding_result", fmt.Errorf("protein_data_ref does not match target %s", target.TargetID))
	}
	if result.Score < e.policy.MinScore {
		return NewError(KindInvalidProof, "verify_folding_result", fmt.Errorf("score %f below minimum %f", result.Score, e.policy.MinScore))
	}
	if rescore != nil {
		recomputed, err := rescore(result.StructureBytes)
		if err != nil {
			return NewError(KindInvalidProof, "verify_folding_result", fmt.Errorf("rescore: %w", err))
		}
		if diff := recomputed - result.Score; diff > e.policy.ScoreTolerance || diff < -e.policy.ScoreTolerance {
			return NewError(KindInvalidProof, "verify_folding_result", fmt.Errorf("rescored %f diverges from reported %f beyond tolerance", recomputed, result.Score))
		}
	}
	if result.Attestation != nil {
		if e.attCtx == nil {
			return NewError(KindInvalidProof, "verify_folding_result", fmt.Errorf("attestation present but no attestation context configured"))
		}
		if err := e.attCtx.VerifyFoldingAttestation(*result.Attestation); err != nil {
			return err
		}
	}
	return nil
}

// DifficultyAdjustment recomputes MinScore for the next epoch so that the
// realized mean inter-PoRW interval over recent blocks tracks
// TargetInterval within tolerance (§4.7 Difficulty).
func (e *PoRWEngine) DifficultyAdjustment(recentIntervals []time.Duration) {
	if len(recentIntervals) == 0 {
		return
	}
	var sum time.Duration
	for _, d := range recentIntervals {
		sum += d
	}
	mean := sum / time.Duration(len(recentIntervals))
	target := e.policy.TargetInterval
	switch {
	case mean < target*9/10:
		e.policy.MinScore *= 1.05
	case mean > target*11/10:
		e.policy.MinScore *= 0.95
	}
	if e.policy.MinScore < 0 {
		e.policy.MinScore = 0
	}
}
