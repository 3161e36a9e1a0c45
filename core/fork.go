package core

// Fork choice and checkpointing (§4.10 C10: reorg on greater cumulative
// work, checkpoints every K blocks as a reorg barrier). Uses a
// revert/reapply skeleton over a single-metric chain-work comparison,
// `Σ minted_amount + α·Σ quorum_weight` (§9 Open Question resolution,
// α pinned in genesis).

import (
	"fmt"
	"sync"
)

// blockWork is the cumulative-work contribution of a single block: its
// minted amount (PoRW) plus alpha times its quorum weight (PoRS, the
// number of distinct validator signatures in pors_proof).
func blockWork(b *Block, alpha float64) float64 {
	w := float64(b.MintedAmount)
	if b.PoRSProof != nil {
		w += alpha * float64(len(b.PoRSProof.SignerAddresses))
	}
	return w
}

// ForkManager tracks orphaned/competing blocks, reorganizing the canonical
// chain when a pending branch accumulates greater cumulative work, subject
// to the checkpoint barrier.
type ForkManager struct {
	mu              sync.Mutex
	chain           *ChainStore
	state           *State
	mempool         *Mempool
	alpha           float64
	checkpointEvery uint64
	lastCheckpoint  uint64
	pending         map[Hash]*Block   // orphan blocks not yet canonical, keyed by their own hash
	childrenOf      map[Hash][]Hash   // previous_hash -> child hashes, for quick lookup
}

// NewForkManager wires a fork manager to the chain store, state manager,
// and mempool it reorganizes, with reorgs barred below the most recent
// checkpoint.
func NewForkManager(chain *ChainStore, state *State, mempool *Mempool, checkpointEvery uint64, alpha float64) *ForkManager {
	return &ForkManager{
		chain:           chain,
		state:           state,
		mempool:         mempool,
		alpha:           alpha,
		checkpointEvery: checkpointEvery,
		pending:         make(map[Hash]*Block),
		childrenOf:      make(map[Hash][]Hash),
	}
}

// AddBlock applies b directly if it extends the current tip, otherwise
// holds it as a pending sibling/orphan and re-evaluates cumulative work
// across every branch that now resolves to a known ancestor (§4.10 steps
// 2-3).
func (fm *ForkManager) AddBlock(b *Block) (applied bool, err error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	tip, err := fm.chain.Latest()
	if err != nil {
		return false, err
	}
	if b.Header.PreviousHash == tip.BlockHash && b.Header.Index == tip.Header.Index+1 {
		if err := fm.applyCanonical(b); err != nil {
			return false, err
		}
		delete(fm.pending, b.BlockHash)
		fm.resolveChildren(b.BlockHash)
		return true, nil
	}

	if _, exists := fm.pending[b.BlockHash]; !exists {
		fm.pending[b.BlockHash] = b
		fm.childrenOf[b.Header.PreviousHash] = append(fm.childrenOf[b.Header.PreviousHash], b.BlockHash)
	}
	return false, fm.tryReorgTo(b, tip)
}

// resolveChildren re-attempts any pending blocks whose parent is now
// canonical, letting a multi-block catch-up cascade apply in order.
func (fm *ForkManager) resolveChildren(parent Hash) {
	children := fm.childrenOf[parent]
	delete(fm.childrenOf, parent)
	for _, childHash := range children {
		child, ok := fm.pending[childHash]
		if !ok {
			continue
		}
		tip, err := fm.chain.Latest()
		if err != nil {
			return
		}
		if child.Header.PreviousHash == tip.BlockHash && child.Header.Index == tip.Header.Index+1 {
			if err := fm.applyCanonical(child); err == nil {
				delete(fm.pending, childHash)
				fm.resolveChildren(childHash)
			}
		}
	}
}

func (fm *ForkManager) applyCanonical(b *Block) error {
	if err := fm.chain.Append(b); err != nil {
		return err
	}
	if err := fm.state.Apply(b); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		fm.mempool.Remove(tx.ID)
	}
	return nil
}

// tryReorgTo walks b's ancestry back through pending blocks until it links
// to a canonical ancestor, compares the resulting branch's cumulative work
// against the canonical chain from that same fork point, and reorganizes
// if the pending branch wins.
func (fm *ForkManager) tryReorgTo(b *Block, tip *Block) error {
	branch := []*Block{b}
	cur := b
	for {
		if cur.Header.PreviousHash == tip.BlockHash {
			break // already linked to the current tip; no reorg possible from here
		}
		ancestor, ok := fm.pending[cur.Header.PreviousHash]
		if ok {
			branch = append([]*Block{ancestor}, branch...)
			cur = ancestor
			continue
		}
		canonicalAncestor, err := fm.chain.GetByHash(cur.Header.PreviousHash)
		if err != nil {
			return nil // ancestry incomplete; wait for more blocks
		}
		return fm.evaluateReorg(canonicalAncestor, branch, tip)
	}
	return nil
}

func (fm *ForkManager) evaluateReorg(forkPoint *Block, branch []*Block, tip *Block) error {
	if forkPoint.Header.Index < fm.lastCheckpoint {
		return NewError(KindConflict, "reorg", fmt.Errorf("fork point %d older than checkpoint %d", forkPoint.Header.Index, fm.lastCheckpoint))
	}

	canonical, err := fm.chain.Range(forkPoint.Header.Index+1, tip.Header.Index+1)
	if err != nil {
		return err
	}
	var canonicalWork, branchWork float64
	for _, blk := range canonical {
		canonicalWork += blockWork(blk, fm.alpha)
	}
	for _, blk := range branch {
		branchWork += blockWork(blk, fm.alpha)
	}
	if branchWork <= canonicalWork {
		return nil
	}
	return fm.reorg(forkPoint, canonical, branch)
}

// reorg reverts state down to forkPoint, truncates the chain store, and
// replays the winning branch, re-injecting orphaned transactions into the
// mempool (§4.10 step 3).
func (fm *ForkManager) reorg(forkPoint *Block, oldBranch, newBranch []*Block) error {
	for i := len(oldBranch) - 1; i >= 0; i-- {
		if err := fm.state.Revert(oldBranch[i]); err != nil {
			return err
		}
	}
	if err := fm.chain.TruncateAbove(forkPoint.Header.Index); err != nil {
		return err
	}

	newTxIDs := make(map[Hash]bool)
	for _, blk := range newBranch {
		for _, tx := range blk.Transactions {
			newTxIDs[tx.ID] = true
		}
	}
	for _, blk := range newBranch {
		if err := fm.applyCanonical(blk); err != nil {
			return err
		}
		delete(fm.pending, blk.BlockHash)
	}
	for _, blk := range oldBranch {
		for _, tx := range blk.Transactions {
			if newTxIDs[tx.ID] {
				continue
			}
			_ = fm.mempool.Add(tx) // best-effort re-injection; duplicates/invalid entries are dropped
		}
	}
	return nil
}

// Checkpoint commits a reorg barrier at the highest block index that is a
// multiple of checkpointEvery and not above the tip index, if the tip has
// advanced checkpointEvery blocks since the last one (§4.10: "every K
// blocks the node commits a block hash as a reorg barrier").
func (fm *ForkManager) Checkpoint() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	height := fm.chain.Height()
	if height == 0 {
		return
	}
	tipIndex := height - 1
	if tipIndex >= fm.lastCheckpoint+fm.checkpointEvery {
		fm.lastCheckpoint = tipIndex - (tipIndex % fm.checkpointEvery)
	}
}

// LastCheckpoint returns the height below which reorgs are barred.
func (fm *ForkManager) LastCheckpoint() uint64 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.lastCheckpoint
}
