package core

import (
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func fundAddress(t *testing.T, state *State, addr Address, amount Amount) {
	t.Helper()
	blk := &Block{
		Header:       Header{Index: 1, BlockType: BlockPoRW, Timestamp: time.Now().UTC()},
		MintedAmount: amount,
		Coinbase:     &Transaction{Sender: AddressZero, Recipient: addr, Amount: amount},
	}
	if err := state.Apply(blk); err != nil {
		t.Fatalf("fund address: %v", err)
	}
}

func newTestValidator(t *testing.T, params ValidationParams) (*Validator, *State) {
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
	engine := NewPoRWEngine(DefaultPoRWPolicy(), nil)
	return NewValidator(params, chain, state, engine, nil, nil, nil), state
}

func TestValidateTransactionAcceptsFundedSender(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{MinFee: 1})
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	fundAddress(t, state, sender, 1000*AmountScale)

	recipient := Address{0x02}
	tx, err := NewTransaction(sender, recipient, 10*AmountScale, 1, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if err := v.ValidateTransaction(tx, 0); err != nil {
		t.Fatalf("expected funded, signed transaction to validate, got %v", err)
	}
}

func TestValidateTransactionRejectsInsufficientFunds(t *testing.T) {
	v, _ := newTestValidator(t, ValidationParams{MinFee: 0})
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	recipient := Address{0x02}
	tx, err := NewTransaction(sender, recipient, 10*AmountScale, 0, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if err := v.ValidateTransaction(tx, 0); err == nil {
		t.Fatal("expected insufficient-funds rejection for an unfunded sender")
	}
}

func TestValidateTransactionRejectsZeroRecipient(t *testing.T) {
	v, _ := newTestValidator(t, ValidationParams{MinFee: 0})
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	tx, err := NewTransaction(sender, AddressZero, 1, 0, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if err := v.ValidateTransaction(tx, 0); err == nil {
		t.Fatal("expected rejection of a transaction to the zero address")
	}
}

func TestValidateBlockHeaderRejectsWrongPreviousHash(t *testing.T) {
	v, _ := newTestValidator(t, ValidationParams{TimestampTolerance: time.Minute, TargetInterval: time.Minute})
	tip := &Block{Header: Header{Index: 5}, BlockHash: Hash{0x01}}
	next := &Block{Header: Header{Index: 6, PreviousHash: Hash{0x02}, Timestamp: time.Now().UTC()}}
	next.BlockHash, _ = next.ComputeHash()
	if err := v.ValidateBlockHeader(next, tip); err == nil {
		t.Fatal("expected rejection of a block whose previous_hash does not match the tip")
	}
}

func TestValidatePoRWRejectsForgedProteinDataRef(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{MinScore: 0})
	minted := v.engine.RewardFor(state.TotalSupply(), time.Time{}, time.Now().UTC())
	blk := &Block{
		Header:         Header{BlockType: BlockPoRW, Timestamp: time.Now().UTC()},
		ProteinDataRef: Hash{0xde, 0xad}, // does not hash from the claimed target_id
		PoRWProof:      &PoRWProof{TargetID: "target-1", Score: 1.0},
		MintedAmount:   minted,
		Coinbase:       &Transaction{Sender: AddressZero, Recipient: Address{0x02}, Amount: minted},
	}
	if err := v.ValidatePoRW(blk); err == nil {
		t.Fatal("expected rejection of a protein_data_ref that does not hash from the proof's target_id")
	}
}

func TestValidatePoRWAcceptsMatchingProteinDataRef(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{MinScore: 0})
	minted := v.engine.RewardFor(state.TotalSupply(), time.Time{}, time.Now().UTC())
	ref := mustTargetRef(t, "target-1")
	blk := &Block{
		Header:         Header{BlockType: BlockPoRW, Timestamp: time.Now().UTC()},
		ProteinDataRef: ref,
		PoRWProof:      &PoRWProof{TargetID: "target-1", Score: 1.0},
		MintedAmount:   minted,
		Coinbase:       &Transaction{Sender: AddressZero, Recipient: Address{0x02}, Amount: minted},
	}
	if err := v.ValidatePoRW(blk); err != nil {
		t.Fatalf("expected a matching protein_data_ref/target_id to validate, got %v", err)
	}
}

func TestValidatePoRSRejectsDoubleSpendWithinBlock(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{QuorumSize: 0})
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	fundAddress(t, state, sender, 10*AmountScale)
	tx1, err := NewTransaction(sender, Address{0x02}, 6*AmountScale, 1, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	tx2, err := NewTransaction(sender, Address{0x03}, 6*AmountScale, 1, 1, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	blk := &Block{
		Header:         Header{BlockType: BlockPoRS},
		Transactions:   []*Transaction{tx1, tx2},
		PoRSProof:      &PoRSProof{ChallengeID: "c1"},
		StorageRewards: map[Address]Amount{{0x09}: 2},
	}
	if err := v.ValidatePoRS(blk, map[string]bool{}); err == nil {
		t.Fatal("expected rejection of a block that overdraws a sender's balance across its own transactions")
	}
}

func TestValidatePoRSRejectsFeeBelowMinimum(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{QuorumSize: 0, MinFee: 2})
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	fundAddress(t, state, sender, 1000*AmountScale)
	tx, err := NewTransaction(sender, Address{0x02}, 1*AmountScale, 1, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	blk := &Block{
		Header:         Header{BlockType: BlockPoRS},
		Transactions:   []*Transaction{tx},
		PoRSProof:      &PoRSProof{ChallengeID: "c1"},
		StorageRewards: map[Address]Amount{{0x09}: 1},
	}
	if err := v.ValidatePoRS(blk, map[string]bool{}); err == nil {
		t.Fatal("expected rejection of an in-block transaction paying below minimum_fee")
	}
}

func TestValidatePoRSRejectsReusedChallengeID(t *testing.T) {
	v, _ := newTestValidator(t, ValidationParams{QuorumSize: 0})
	blk := &Block{
		Header:         Header{BlockType: BlockPoRS},
		PoRSProof:      &PoRSProof{ChallengeID: "dup-challenge"},
		StorageRewards: map[Address]Amount{},
	}
	seen := map[string]bool{"dup-challenge": true}
	if err := v.ValidatePoRS(blk, seen); err == nil {
		t.Fatal("expected rejection of a block reusing a spent challenge_id")
	}
}

func TestValidatePoRSRejectsMismatchedStorageRewards(t *testing.T) {
	v, state := newTestValidator(t, ValidationParams{QuorumSize: 0})
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := AddressFromPubKey(sk.PubKey().SerializeCompressed())
	fundAddress(t, state, sender, 1000*AmountScale)
	tx, err := NewTransaction(sender, Address{0x02}, 1*AmountScale, 5, 0, sk)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	blk := &Block{
		Header:         Header{BlockType: BlockPoRS},
		Transactions:   []*Transaction{tx},
		PoRSProof:      &PoRSProof{ChallengeID: "c1"},
		StorageRewards: map[Address]Amount{{0x03}: 1}, // fee is 5, reward totals only 1
	}
	if err := v.ValidatePoRS(blk, map[string]bool{}); err == nil {
		t.Fatal("expected rejection when storage_rewards sum does not match fee total")
	}
}

func TestValidatePoRSVerifiesAggregateQuorumSignature(t *testing.T) {
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
	engine := NewPoRWEngine(DefaultPoRWPolicy(), nil)

	validators := NewValidatorSet(nil)
	var signers []Address
	var quorumSigs [][]byte
	challengeID := "round-1"
	digest := QuorumDigest(challengeID)
	for i := 0; i < 3; i++ {
		kp, err := GenerateQuorumKeypair()
		if err != nil {
			t.Fatalf("generate bls keypair: %v", err)
		}
		var addr Address
		addr[0] = byte(i + 1)
		if err := validators.Admit(addr, nil, kp.Public.Serialize(), MinStake); err != nil {
			t.Fatalf("admit: %v", err)
		}
		sig := SignQuorum(&kp.Secret, digest)
		quorumSigs = append(quorumSigs, sig.Serialize())
		signers = append(signers, addr)
	}
	agg := AggregateQuorumSignatures(mustDeserializeSigs(t, quorumSigs))

	v := NewValidator(ValidationParams{QuorumSize: 3}, chain, state, engine, nil, validators, nil)
	blk := &Block{
		Header: Header{BlockType: BlockPoRS},
		PoRSProof: &PoRSProof{
			ChallengeID:        challengeID,
			SignerAddresses:    signers,
			AggregateSignature: agg.Serialize(),
		},
		StorageRewards: map[Address]Amount{},
	}
	if err := v.ValidatePoRS(blk, map[string]bool{}); err != nil {
		t.Fatalf("expected valid aggregate quorum signature to verify, got %v", err)
	}

	blk.PoRSProof.ChallengeID = "tampered-round"
	if err := v.ValidatePoRS(blk, map[string]bool{}); err == nil {
		t.Fatal("expected signature verification to fail once the signed digest no longer matches challenge_id")
	}
}

func mustDeserializeSigs(t *testing.T, raw [][]byte) []bls.Sign {
	t.Helper()
	out := make([]bls.Sign, 0, len(raw))
	for _, r := range raw {
		var s bls.Sign
		if err := s.Deserialize(r); err != nil {
			t.Fatalf("deserialize sig: %v", err)
		}
		out = append(out, s)
	}
	return out
}
