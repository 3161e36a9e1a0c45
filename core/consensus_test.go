package core

import (
	"testing"
	"time"
)

func newTestDriver(t *testing.T) (*Driver, *ChainStore, *Mempool) {
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
	policy := DefaultPoRWPolicy()
	engine := NewPoRWEngine(policy, nil)
	validator := NewValidator(ValidationParams{
		MinFee:             0,
		MinScore:           0,
		QuorumSize:         1,
		TimestampTolerance: time.Hour,
		TargetInterval:     time.Minute,
	}, chain, state, engine, nil, nil, nil)

	cfg := DriverConfig{
		PorsInterval:    time.Second,
		CheckpointEvery: 1000,
		Alpha:           1.0,
		MaxBlockTxs:     100,
		NetworkID:       "test-net",
	}
	d := NewDriver(cfg, chain, state, mempool, validator, engine, nil, nil)
	return d, chain, mempool
}

func TestAssemblePoRWBlockMintsAndApplies(t *testing.T) {
	d, chain, _ := newTestDriver(t)

	var minerAddr Address
	minerAddr[0] = 0x01

	result := FoldingResult{TargetID: "target-1", Score: 0.9, Energy: -12.5, RMSD: 1.2}
	ref, err := CanonicalHash(result.TargetID)
	if err != nil {
		t.Fatalf("canonical hash: %v", err)
	}
	b, err := d.AssemblePoRWBlock(result, ref, minerAddr)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if b.Header.BlockType != BlockPoRW {
		t.Fatalf("expected PoRW block, got %s", b.Header.BlockType)
	}
	if err := d.ApplyIncomingBlock(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if chain.Height() != 2 {
		t.Fatalf("expected 2 stored blocks (genesis + PoRW block), got %d", chain.Height())
	}
}

func TestAssemblePoRSBlockRequiresQuorum(t *testing.T) {
	d, _, _ := newTestDriver(t)
	round := NewQuorumRound("challenge-1", 2)
	if _, err := d.AssemblePoRSBlock(round); err == nil {
		t.Fatal("expected error for round without quorum")
	}
}

func TestSplitEvenlyDistributesRemainder(t *testing.T) {
	var a, b, c Address
	a[0], b[0], c[0] = 1, 2, 3
	out := splitEvenly(10, []Address{a, b, c})
	var total Amount
	for _, amt := range out {
		total += amt
	}
	if total != 10 {
		t.Fatalf("expected total 10, got %d", total)
	}
}
