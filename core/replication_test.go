package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestBlockPayloadRoundTrip(t *testing.T) {
	blk, err := NewGenesisBlock("test-net", time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	raw, err := json.Marshal(NewBlockPayload{Block: blk})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded NewBlockPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Block.BlockHash != blk.BlockHash {
		t.Fatalf("block hash mismatch after round trip: got %s want %s", decoded.Block.BlockHash.Hex(), blk.BlockHash.Hex())
	}
}

func TestAdmitTransactionRejectsUnvalidatedTransaction(t *testing.T) {
	v, _ := newTestValidator(t, ValidationParams{MinFee: 1})
	mempool := NewMempool(DefaultMempoolConfig())
	cs := &ChainSync{mempool: mempool, validator: v}

	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	tx, err := NewTransaction(sender, Address{0x02}, 10*AmountScale, 1, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}

	if err := cs.admitTransaction(tx); err == nil {
		t.Fatal("expected an unfunded sender's transaction to be rejected before reaching the mempool")
	}
	if mempool.Len() != 0 {
		t.Fatalf("expected mempool to stay empty after a rejected transaction, got %d", mempool.Len())
	}
}

func TestAdmitTransactionAcceptsValidatedTransaction(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{MinFee: 1})
	mempool := NewMempool(DefaultMempoolConfig())
	cs := &ChainSync{mempool: mempool, validator: v}

	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	fundAddress(t, state, sender, 1000*AmountScale)
	tx, err := NewTransaction(sender, Address{0x02}, 10*AmountScale, 1, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}

	if err := cs.admitTransaction(tx); err != nil {
		t.Fatalf("expected funded, signed transaction to be admitted, got %v", err)
	}
	if mempool.Len() != 1 {
		t.Fatalf("expected mempool to hold 1 transaction, got %d", mempool.Len())
	}
}

func TestGetBlockPayloadRoundTrip(t *testing.T) {
	raw, err := json.Marshal(GetBlockPayload{Index: 42})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded GetBlockPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Index != 42 {
		t.Fatalf("expected index 42, got %d", decoded.Index)
	}
}
