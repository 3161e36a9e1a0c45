package core

import (
	"testing"
	"time"
)

func newTestForkFixture(t *testing.T) (*ForkManager, *ChainStore, *State) {
	t.Helper()
	genesis, err := NewGenesisBlock("test-net", time.Unix(1700000000, 0).UTC())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	chain, err := NewChainStore(ChainStoreConfig{Dir: t.TempDir(), GenesisBlock: genesis})
	if err != nil {
		t.Fatalf("chain store: %v", err)
	}
	state := NewState()
	if err := state.Apply(genesis); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	mempool := NewMempool(DefaultMempoolConfig())
	fm := NewForkManager(chain, state, mempool, 1000, 1.0)
	return fm, chain, state
}

func mintedChild(t *testing.T, parent *Block, minted Amount, ts time.Time) *Block {
	t.Helper()
	b := &Block{
		Header: Header{
			Index:        parent.Header.Index + 1,
			PreviousHash: parent.BlockHash,
			Timestamp:    ts,
			BlockType:    BlockPoRW,
		},
		MintedAmount: minted,
		Coinbase: &Transaction{
			Sender:    AddressZero,
			Recipient: AddressZero,
			Amount:    minted,
			Timestamp: ts,
			Status:    TxConfirmed,
		},
	}
	id, err := b.Coinbase.Hash()
	if err != nil {
		t.Fatalf("coinbase hash: %v", err)
	}
	b.Coinbase.ID = id
	if err := b.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return b
}

func TestForkManagerAppliesDirectExtension(t *testing.T) {
	fm, chain, _ := newTestForkFixture(t)
	genesis, _ := chain.Latest()
	child := mintedChild(t, genesis, 10, genesis.Header.Timestamp.Add(time.Minute))

	applied, err := fm.AddBlock(child)
	if err != nil {
		t.Fatalf("add block: %v", err)
	}
	if !applied {
		t.Fatal("expected direct extension to apply immediately")
	}
	if chain.Height() != 2 {
		t.Fatalf("expected 2 stored blocks (genesis + child), got %d", chain.Height())
	}
}

func TestForkManagerReorgsToGreaterWork(t *testing.T) {
	fm, chain, _ := newTestForkFixture(t)
	genesis, _ := chain.Latest()

	weak := mintedChild(t, genesis, 5, genesis.Header.Timestamp.Add(time.Minute))
	if _, err := fm.AddBlock(weak); err != nil {
		t.Fatalf("add weak: %v", err)
	}
	if chain.Height() != 2 {
		t.Fatalf("expected weak branch applied as the second stored block, got %d blocks", chain.Height())
	}

	strong := mintedChild(t, genesis, 50, genesis.Header.Timestamp.Add(2*time.Minute))
	if _, err := fm.AddBlock(strong); err != nil {
		t.Fatalf("add strong: %v", err)
	}
	tip, err := chain.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if tip.BlockHash != strong.BlockHash {
		t.Fatalf("expected reorg to the higher-work branch, tip is %s", tip.BlockHash.Short())
	}
}

func TestForkManagerCheckpointAdvances(t *testing.T) {
	fm, chain, _ := newTestForkFixture(t)
	genesis, _ := chain.Latest()
	parent := genesis
	for i := 0; i < 5; i++ {
		child := mintedChild(t, parent, 1, parent.Header.Timestamp.Add(time.Minute))
		if _, err := fm.AddBlock(child); err != nil {
			t.Fatalf("add block %d: %v", i, err)
		}
		parent = child
	}
	fm2 := NewForkManager(chain, nil, nil, 3, 1.0)
	fm2.Checkpoint()
	if fm2.LastCheckpoint() != 3 {
		t.Fatalf("expected checkpoint at height 3, got %d", fm2.LastCheckpoint())
	}
}
