package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

// MinStake is the minimum stake required for admission to the validator
// set, a consensus parameter pinned in genesis.
const MinStake = Amount(1000 * AmountScale)

// SlashFraction is the fraction of stake forfeited on a slashing event.
const SlashFraction = 0.1

// ValidatorInfo describes one PoRS quorum-eligible node.
type ValidatorInfo struct {
	Address      Address
	PublicKey    []byte // compressed secp256k1 key, address derivation
	BLSPublicKey []byte // serialized BLS12-381 public key, quorum signature verification
	Stake        Amount
	Admitted     bool
}

// ValidatorSet tracks admission, weighted election, and slashing for PoRS
// quorum membership (C8/C10).
type ValidatorSet struct {
	mu         sync.RWMutex
	validators map[Address]*ValidatorInfo
	reliab     *ReliabilityTracker
}

// NewValidatorSet builds an empty set backed by the given reliability
// tracker for eligibility checks.
func NewValidatorSet(reliab *ReliabilityTracker) *ValidatorSet {
	return &ValidatorSet{validators: make(map[Address]*ValidatorInfo), reliab: reliab}
}

// Admit adds a validator if it meets the minimum stake requirement.
func (vs *ValidatorSet) Admit(addr Address, pubKey, blsPubKey []byte, stake Amount) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if stake < MinStake {
		return NewError(KindPolicyViolation, "admit_validator", fmt.Errorf("stake %d below minimum %d", stake, MinStake))
	}
	vs.validators[addr] = &ValidatorInfo{Address: addr, PublicKey: pubKey, BLSPublicKey: blsPubKey, Stake: stake, Admitted: true}
	return nil
}

// BLSPublicKeysFor resolves the BLS public keys for a set of signer
// addresses, used to verify a PoRS block's aggregate quorum signature.
// Returns an error if any address is not an admitted validator with a
// registered BLS key.
func (vs *ValidatorSet) BLSPublicKeysFor(addrs []Address) ([]bls.PublicKey, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]bls.PublicKey, 0, len(addrs))
	for _, addr := range addrs {
		v, ok := vs.validators[addr]
		if !ok || len(v.BLSPublicKey) == 0 {
			return nil, NewError(KindNotFound, "bls_public_keys_for", fmt.Errorf("no registered bls key for validator %s", addr))
		}
		var pk bls.PublicKey
		if err := pk.Deserialize(v.BLSPublicKey); err != nil {
			return nil, NewError(KindMalformedEntity, "bls_public_keys_for", fmt.Errorf("validator %s: %w", addr, err))
		}
		out = append(out, pk)
	}
	return out, nil
}

// Remove evicts a validator, e.g. after repeated slashing drives its stake
// to zero.
func (vs *ValidatorSet) Remove(addr Address) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.validators, addr)
}

// Eligible returns the admitted validators whose reliability score clears
// the quorum threshold (§4.8: "unreliable nodes are excluded from the
// quorum").
func (vs *ValidatorSet) Eligible() []*ValidatorInfo {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]*ValidatorInfo, 0, len(vs.validators))
	for _, v := range vs.validators {
		if v.Admitted && (vs.reliab == nil || vs.reliab.IsReliable(v.Address)) {
			out = append(out, v)
		}
	}
	return out
}

// Size returns the total number of admitted validators (eligible or not).
// The default quorum threshold is computed from the eligible set instead.
func (vs *ValidatorSet) Size() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.validators)
}

// ElectWeighted picks n distinct validators from the eligible set with
// probability proportional to stake.
func (vs *ValidatorSet) ElectWeighted(n int) ([]*ValidatorInfo, error) {
	pool := vs.Eligible()
	if n > len(pool) {
		n = len(pool)
	}
	chosen := make([]*ValidatorInfo, 0, n)
	remaining := append([]*ValidatorInfo{}, pool...)
	for len(chosen) < n && len(remaining) > 0 {
		var total int64
		for _, v := range remaining {
			total += int64(v.Stake)
		}
		if total <= 0 {
			chosen = append(chosen, remaining[0])
			remaining = remaining[1:]
			continue
		}
		pick, err := rand.Int(rand.Reader, big.NewInt(total))
		if err != nil {
			return nil, NewError(KindInternal, "elect_weighted", err)
		}
		running := int64(0)
		idx := 0
		for i, v := range remaining {
			running += int64(v.Stake)
			if pick.Int64() < running {
				idx = i
				break
			}
		}
		chosen = append(chosen, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return chosen, nil
}

// Slash forfeits SlashFraction of addr's stake as a penalty for
// misbehavior (e.g. signing a challenge round it failed), removing the
// validator entirely if its stake drops below MinStake.
func (vs *ValidatorSet) Slash(addr Address) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.validators[addr]
	if !ok {
		return NewError(KindNotFound, "slash_validator", fmt.Errorf("validator %s not in set", addr))
	}
	penalty := Amount(float64(v.Stake) * SlashFraction)
	if penalty > v.Stake {
		penalty = v.Stake
	}
	v.Stake -= penalty
	if v.Stake < MinStake {
		delete(vs.validators, addr)
	}
	return nil
}
