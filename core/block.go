package core

import (
	"fmt"
	"time"
)

// Header is the common envelope shared by both block variants (§3,
// §9 "dynamic dispatch over block types collapses to a tagged variant").
type Header struct {
	Index        uint64    `json:"index"`
	PreviousHash Hash      `json:"previous_hash"`
	Timestamp    time.Time `json:"timestamp"`
	BlockType    BlockType `json:"block_type"`
}

// PoRWProof carries the folding-result evidence a miner attaches to a PoRW
// block (§3 PoRW block, §4.7 folding-result validation contract).
type PoRWProof struct {
	TargetID          string             `json:"target_id"`
	FoldingParamsHash Hash               `json:"folding_params_hash"`
	Score             float64            `json:"score"`
	Energy            float64            `json:"energy"`
	RMSD              float64            `json:"rmsd"`
	StructureBytes    []byte             `json:"structure_bytes,omitempty"`
	Attestation       *FoldingAttestation `json:"attestation,omitempty"`
}

// PoRSProof carries the quorum evidence backing a PoRS block (§3 PoRS
// block, §4.8 quorum aggregation).
type PoRSProof struct {
	ChallengeID       string   `json:"challenge_id"`
	SignerAddresses   []Address `json:"signer_addresses"`
	AggregateSignature []byte  `json:"aggregate_signature"`
}

// Block is the tagged union of PoRW and PoRS variants. Exactly one of the
// type-specific payloads is populated, selected by Header.BlockType.
type Block struct {
	Header Header `json:"header"`

	// PoRW-only fields.
	ProteinDataRef Hash       `json:"protein_data_ref,omitempty"`
	PoRWProof      *PoRWProof `json:"porw_proof,omitempty"`
	MintedAmount   Amount     `json:"minted_amount,omitempty"`
	Coinbase       *Transaction `json:"coinbase,omitempty"`

	// PoRS-only fields.
	Transactions   []*Transaction   `json:"transactions,omitempty"`
	PoRSProof      *PoRSProof       `json:"pors_proof,omitempty"`
	StorageRewards map[Address]Amount `json:"storage_rewards,omitempty"`

	BlockHash Hash `json:"block_hash"`
}

// hashView excludes BlockHash itself, per the §3 block-hash rule.
type hashView struct {
	Header         Header             `json:"header"`
	ProteinDataRef Hash               `json:"protein_data_ref,omitempty"`
	PoRWProof      *PoRWProof         `json:"porw_proof,omitempty"`
	MintedAmount   Amount             `json:"minted_amount,omitempty"`
	Coinbase       *Transaction       `json:"coinbase,omitempty"`
	Transactions   []*Transaction     `json:"transactions,omitempty"`
	PoRSProof      *PoRSProof         `json:"pors_proof,omitempty"`
	StorageRewards map[Address]Amount `json:"storage_rewards,omitempty"`
}

func (b *Block) hashView() hashView {
	return hashView{
		Header:         b.Header,
		ProteinDataRef: b.ProteinDataRef,
		PoRWProof:      b.PoRWProof,
		MintedAmount:   b.MintedAmount,
		Coinbase:       b.Coinbase,
		Transactions:   b.Transactions,
		PoRSProof:      b.PoRSProof,
		StorageRewards: b.StorageRewards,
	}
}

// ComputeHash recomputes the canonical block hash (C1 canonical_hash).
func (b *Block) ComputeHash() (Hash, error) {
	return CanonicalHash(b.hashView())
}

// Seal computes and stores BlockHash. Call once, after all other fields are
// final.
func (b *Block) Seal() error {
	h, err := b.ComputeHash()
	if err != nil {
		return NewError(KindInternal, "seal_block", err)
	}
	b.BlockHash = h
	return nil
}

// VerifyHash re-derives the hash and checks it against the stored
// BlockHash, the self-consistency invariant in §8.
func (b *Block) VerifyHash() error {
	h, err := b.ComputeHash()
	if err != nil {
		return NewError(KindMalformedEntity, "verify_block_hash", err)
	}
	if h != b.BlockHash {
		return NewError(KindMalformedEntity, "verify_block_hash", fmt.Errorf("stored %s recomputed %s", b.BlockHash.Short(), h.Short()))
	}
	return nil
}

// NewGenesisBlock builds the single index=0 block per §6 Genesis: empty
// previous_hash, zeroed coinbase, total_supply=0.
func NewGenesisBlock(networkID string, timestamp time.Time) (*Block, error) {
	b := &Block{
		Header: Header{
			Index:        0,
			PreviousHash: Hash{},
			Timestamp:    timestamp,
			BlockType:    BlockPoRW,
		},
		MintedAmount: 0,
		Coinbase: &Transaction{
			Sender:    AddressZero,
			Recipient: AddressZero,
			Amount:    0,
			Fee:       0,
			Timestamp: timestamp,
			Status:    TxConfirmed,
		},
	}
	coinbaseID, err := b.Coinbase.Hash()
	if err != nil {
		return nil, NewError(KindInternal, "new_genesis_block", err)
	}
	b.Coinbase.ID = coinbaseID
	if err := b.Seal(); err != nil {
		return nil, err
	}
	return b, nil
}
