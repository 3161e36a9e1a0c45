package core

import "testing"

func TestValidatorSetAdmitRejectsBelowMinStake(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 1
	if err := vs.Admit(addr, nil, nil, MinStake-1); err == nil {
		t.Fatal("expected admission below MinStake to fail")
	}
	if vs.Size() != 0 {
		t.Fatalf("expected no validators admitted, got %d", vs.Size())
	}
}

func TestValidatorSetAdmitAndEligible(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 1
	if err := vs.Admit(addr, nil, nil, MinStake); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if vs.Size() != 1 {
		t.Fatalf("expected size 1, got %d", vs.Size())
	}
	eligible := vs.Eligible()
	if len(eligible) != 1 || eligible[0].Address != addr {
		t.Fatalf("expected addr to be eligible, got %+v", eligible)
	}
}

func TestValidatorSetEligibleExcludesUnreliable(t *testing.T) {
	reliab := NewReliabilityTracker(0.5)
	vs := NewValidatorSet(reliab)
	var reliable, unreliable Address
	reliable[0], unreliable[0] = 1, 2
	if err := vs.Admit(reliable, nil, nil, MinStake); err != nil {
		t.Fatalf("admit reliable: %v", err)
	}
	if err := vs.Admit(unreliable, nil, nil, MinStake); err != nil {
		t.Fatalf("admit unreliable: %v", err)
	}
	reliab.RecordOutcome(unreliable, false)
	reliab.RecordOutcome(unreliable, false)
	reliab.RecordOutcome(unreliable, false)

	eligible := vs.Eligible()
	if len(eligible) != 1 || eligible[0].Address != reliable {
		t.Fatalf("expected only the reliable validator eligible, got %+v", eligible)
	}
}

func TestValidatorSetRemove(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 1
	if err := vs.Admit(addr, nil, nil, MinStake); err != nil {
		t.Fatalf("admit: %v", err)
	}
	vs.Remove(addr)
	if vs.Size() != 0 {
		t.Fatalf("expected validator removed, size=%d", vs.Size())
	}
}

func TestValidatorSetSlashEvictsBelowMinStake(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 1
	if err := vs.Admit(addr, nil, nil, MinStake); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := vs.Slash(addr); err != nil {
		t.Fatalf("slash: %v", err)
	}
	if vs.Size() != 0 {
		t.Fatalf("expected a single slash on a minimally staked validator to evict it, size=%d", vs.Size())
	}
}

func TestValidatorSetSlashUnknownValidatorFails(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 9
	if err := vs.Slash(addr); err == nil {
		t.Fatal("expected slashing an unknown validator to fail")
	}
}

func TestValidatorSetElectWeightedPicksDistinctValidators(t *testing.T) {
	vs := NewValidatorSet(nil)
	for i := byte(1); i <= 5; i++ {
		var addr Address
		addr[0] = i
		if err := vs.Admit(addr, nil, nil, MinStake*Amount(i)); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	chosen, err := vs.ElectWeighted(3)
	if err != nil {
		t.Fatalf("elect weighted: %v", err)
	}
	if len(chosen) != 3 {
		t.Fatalf("expected 3 chosen validators, got %d", len(chosen))
	}
	seen := make(map[Address]bool)
	for _, v := range chosen {
		if seen[v.Address] {
			t.Fatalf("expected distinct validators, got duplicate %s", v.Address)
		}
		seen[v.Address] = true
	}
}

func TestValidatorSetElectWeightedCapsAtEligibleSize(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 1
	if err := vs.Admit(addr, nil, nil, MinStake); err != nil {
		t.Fatalf("admit: %v", err)
	}
	chosen, err := vs.ElectWeighted(5)
	if err != nil {
		t.Fatalf("elect weighted: %v", err)
	}
	if len(chosen) != 1 {
		t.Fatalf("expected elect to cap at 1 eligible validator, got %d", len(chosen))
	}
}

func TestValidatorSetBLSPublicKeysForUnknownValidatorFails(t *testing.T) {
	vs := NewValidatorSet(nil)
	var addr Address
	addr[0] = 1
	if _, err := vs.BLSPublicKeysFor([]Address{addr}); err == nil {
		t.Fatal("expected lookup for an unregistered validator to fail")
	}
}
