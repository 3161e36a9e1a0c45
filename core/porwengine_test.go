package core

import "testing"

func mustTargetRef(t *testing.T, targetID string) Hash {
	t.Helper()
	ref, err := CanonicalHash(targetID)
	if err != nil {
		t.Fatalf("canonical hash: %v", err)
	}
	return ref
}

func TestVerifyFoldingResultRejectsMismatchedProteinDataRef(t *testing.T) {
	e := NewPoRWEngine(DefaultPoRWPolicy(), nil)
	target := FoldingTarget{TargetID: "target-1"}
	result := FoldingResult{Score: 1.0}
	if err := e.VerifyFoldingResult(target, result, Hash{0xff}, nil); err == nil {
		t.Fatal("expected rejection when protein_data_ref does not hash from target_id")
	}
}

func TestVerifyFoldingResultRejectsBelowMinScore(t *testing.T) {
	policy := DefaultPoRWPolicy()
	policy.MinScore = 0.5
	e := NewPoRWEngine(policy, nil)
	target := FoldingTarget{TargetID: "target-1"}
	result := FoldingResult{Score: 0.1}
	ref := mustTargetRef(t, target.TargetID)
	if err := e.VerifyFoldingResult(target, result, ref, nil); err == nil {
		t.Fatal("expected rejection of a score below the minimum threshold")
	}
}

func TestVerifyFoldingResultSkipsRescoreWhenNil(t *testing.T) {
	e := NewPoRWEngine(DefaultPoRWPolicy(), nil)
	target := FoldingTarget{TargetID: "target-1"}
	result := FoldingResult{Score: 0.9, StructureBytes: []byte("structure")}
	ref := mustTargetRef(t, target.TargetID)
	if err := e.VerifyFoldingResult(target, result, ref, nil); err != nil {
		t.Fatalf("expected result to verify without a rescore function, got %v", err)
	}
}

func TestVerifyFoldingResultRejectsRescoreOutsideTolerance(t *testing.T) {
	policy := DefaultPoRWPolicy()
	policy.ScoreTolerance = 0.01
	e := NewPoRWEngine(policy, nil)
	target := FoldingTarget{TargetID: "target-1"}
	result := FoldingResult{Score: 0.9, StructureBytes: []byte("structure")}
	ref := mustTargetRef(t, target.TargetID)
	rescore := func(structure []byte) (float64, error) { return 0.5, nil }
	if err := e.VerifyFoldingResult(target, result, ref, rescore); err == nil {
		t.Fatal("expected rejection when rescoring diverges beyond tolerance")
	}
}

func TestVerifyFoldingResultAcceptsRescoreWithinTolerance(t *testing.T) {
	policy := DefaultPoRWPolicy()
	policy.ScoreTolerance = 0.05
	e := NewPoRWEngine(policy, nil)
	target := FoldingTarget{TargetID: "target-1"}
	result := FoldingResult{Score: 0.9, StructureBytes: []byte("structure")}
	ref := mustTargetRef(t, target.TargetID)
	rescore := func(structure []byte) (float64, error) { return 0.91, nil }
	if err := e.VerifyFoldingResult(target, result, ref, rescore); err != nil {
		t.Fatalf("expected rescore within tolerance to verify, got %v", err)
	}
}
