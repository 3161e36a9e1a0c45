package core

import (
	"fmt"
	"sort"
	"sync"
)

// State is the materialized view derived from the chain: account balances,
// total supply, total fees collected, and the last-applied block pointer
// (§3 State).
type State struct {
	mu sync.RWMutex

	balances           map[Address]Amount
	totalSupply        Amount
	totalFeesCollected Amount
	lastProcessedIndex uint64
	lastProcessedHash  Hash
	hasApplied         bool
}

// NewState returns an empty state, as it exists before genesis is applied.
func NewState() *State {
	return &State{balances: make(map[Address]Amount)}
}

// Balance returns addr's current balance; unknown addresses have zero
// balance.
func (s *State) Balance(addr Address) Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[addr]
}

// TotalSupply returns the cumulative minted amount across all PoRW blocks.
func (s *State) TotalSupply() Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSupply
}

// TotalFeesCollected returns the cumulative fee total across all blocks.
func (s *State) TotalFeesCollected() Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalFeesCollected
}

// LastProcessed returns the index/hash of the most recently applied block.
func (s *State) LastProcessed() (uint64, Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastProcessedIndex, s.lastProcessedHash, s.hasApplied
}

// Apply advances state by exactly one block, per the §4.4 balance
// computation rule. It must be called only after ChainStore.Append commits,
// giving the crash-consistent append-then-apply ordering (§5).
func (s *State) Apply(blk *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch blk.Header.BlockType {
	case BlockPoRW:
		if blk.Coinbase == nil {
			return NewError(KindMalformedEntity, "apply_block", fmt.Errorf("PoRW block missing coinbase"))
		}
		s.balances[blk.Coinbase.Recipient] += blk.MintedAmount
		s.totalSupply += blk.MintedAmount
	case BlockPoRS:
		var feeTotal Amount
		for _, tx := range blk.Transactions {
			if tx.Sender != AddressZero {
				if s.balances[tx.Sender] < tx.Amount+tx.Fee {
					return NewError(KindInsufficientFunds, "apply_block", fmt.Errorf("tx %s: sender %s balance too low", tx.ID.Short(), tx.Sender))
				}
				s.balances[tx.Sender] -= tx.Amount + tx.Fee
			}
			s.balances[tx.Recipient] += tx.Amount
			feeTotal += tx.Fee
		}
		var rewardTotal Amount
		for _, amt := range blk.StorageRewards {
			rewardTotal += amt
		}
		if rewardTotal != feeTotal {
			return NewError(KindPolicyViolation, "apply_block", fmt.Errorf("storage_rewards sum %d != fee total %d", rewardTotal, feeTotal))
		}
		for addr, amt := range blk.StorageRewards {
			s.balances[addr] += amt
		}
		s.totalFeesCollected += feeTotal
	default:
		return NewError(KindMalformedEntity, "apply_block", fmt.Errorf("unknown block type %q", blk.Header.BlockType))
	}
	s.lastProcessedIndex = blk.Header.Index
	s.lastProcessedHash = blk.BlockHash
	s.hasApplied = true
	return nil
}

// Revert reverses blk's effects, for reorgs (§4.4 revert).
func (s *State) Revert(blk *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch blk.Header.BlockType {
	case BlockPoRW:
		if blk.Coinbase == nil {
			return NewError(KindMalformedEntity, "revert_block", fmt.Errorf("PoRW block missing coinbase"))
		}
		s.balances[blk.Coinbase.Recipient] -= blk.MintedAmount
		s.totalSupply -= blk.MintedAmount
	case BlockPoRS:
		var feeTotal Amount
		for _, tx := range blk.Transactions {
			s.balances[tx.Recipient] -= tx.Amount
			if tx.Sender != AddressZero {
				s.balances[tx.Sender] += tx.Amount + tx.Fee
			}
			feeTotal += tx.Fee
		}
		for addr, amt := range blk.StorageRewards {
			s.balances[addr] -= amt
		}
		s.totalFeesCollected -= feeTotal
	default:
		return NewError(KindMalformedEntity, "revert_block", fmt.Errorf("unknown block type %q", blk.Header.BlockType))
	}
	return nil
}

// Snapshot returns a verifiable digest over sorted balances (§4.4
// snapshot), built as a Merkle root (core/merkle.go) over one
// "address:balance" leaf per account.
func (s *State) Snapshot() (Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]Address, 0, len(s.balances))
	for a := range s.balances {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		for k := 0; k < len(addrs[i]); k++ {
			if addrs[i][k] != addrs[j][k] {
				return addrs[i][k] < addrs[j][k]
			}
		}
		return false
	})
	if len(addrs) == 0 {
		return Hash{}, nil
	}
	leaves := make([][]byte, len(addrs))
	for i, a := range addrs {
		leaves[i] = []byte(fmt.Sprintf("%s:%d", a.String(), s.balances[a]))
	}
	return MerkleRoot(leaves)
}

// Verify recomputes state from scratch by replaying every block in cs and
// checks the result matches s (§4.4 verify).
func (s *State) Verify(cs *ChainStore) error {
	fresh := NewState()
	height := cs.Height()
	for i := uint64(0); i < height; i++ {
		blk, err := cs.GetByIndex(i)
		if err != nil {
			return err
		}
		if err := fresh.Apply(blk); err != nil {
			return err
		}
	}
	wantSnap, err := fresh.Snapshot()
	if err != nil {
		return err
	}
	gotSnap, err := s.Snapshot()
	if err != nil {
		return err
	}
	if wantSnap != gotSnap {
		return NewError(KindConflict, "verify_state", fmt.Errorf("materialized state diverges from chain replay: want %s got %s", wantSnap.Short(), gotSnap.Short()))
	}
	return nil
}
