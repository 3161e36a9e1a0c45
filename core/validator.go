package core

import (
	"fmt"
	"time"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

// ValidationParams holds the consensus parameters the Validator checks
// against, pinned by genesis metadata (§4.6).
type ValidationParams struct {
	MinFee             Amount
	MinScore           float64
	QuorumSize         int
	TimestampTolerance time.Duration
	TargetInterval     time.Duration
}

// Validator applies structural, cryptographic, and economic rules to
// transactions and both block types (C6).
type Validator struct {
	params     ValidationParams
	chain      *ChainStore
	state      *State
	engine     *PoRWEngine
	attest     *AttestationContext
	validators *ValidatorSet
	rescore    func(structure []byte) (float64, error)
}

// NewValidator builds a Validator wired to the chain store, state manager,
// and PoRW engine it checks candidates against. attest may be nil, in
// which case confidential-transfer commitments are accepted unverified
// (deployments without the KZG trusted setup loaded). validators may be
// nil, in which case ValidatePoRS checks quorum size and challenge
// freshness but cannot cryptographically verify the aggregate signature.
// rescore may be nil, in which case ValidatePoRW skips re-running the
// folding scorer and accepts the reported score as-is.
func NewValidator(params ValidationParams, chain *ChainStore, state *State, engine *PoRWEngine, attest *AttestationContext, validators *ValidatorSet, rescore func(structure []byte) (float64, error)) *Validator {
	return &Validator{params: params, chain: chain, state: state, engine: engine, attest: attest, validators: validators, rescore: rescore}
}

// ValidateTransaction returns nil if tx is structurally, cryptographically,
// and economically valid to admit to the mempool (§4.6 transaction rules).
func (v *Validator) ValidateTransaction(tx *Transaction, reserved Amount) error {
	if tx.Recipient.IsZero() {
		return NewError(KindMalformedEntity, "validate_transaction", fmt.Errorf("recipient must not be the zero address"))
	}
	if tx.Sender == AddressZero {
		return nil // coinbase-style mint transactions are validated by the PoRW path, not here.
	}
	if tx.Fee < v.params.MinFee {
		return NewError(KindPolicyViolation, "validate_transaction", fmt.Errorf("fee %d below minimum %d", tx.Fee, v.params.MinFee))
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	balance := v.state.Balance(tx.Sender)
	if balance < tx.Amount+tx.Fee+reserved {
		return NewError(KindInsufficientFunds, "validate_transaction", fmt.Errorf("sender %s balance %d insufficient for %d (reserved %d)", tx.Sender, balance, tx.Amount+tx.Fee, reserved))
	}
	if tx.ConfidentialData != nil && v.attest != nil {
		if err := VerifyCommitment(v.attest, tx.ConfidentialData); err != nil {
			return NewError(KindInvalidProof, "validate_transaction", fmt.Errorf("confidential commitment: %w", err))
		}
	}
	return nil
}

// ValidateBlockHeader checks the rules shared by both block types (§4.6
// block rules).
func (v *Validator) ValidateBlockHeader(blk *Block, tip *Block) error {
	if err := blk.VerifyHash(); err != nil {
		return err
	}
	if tip != nil {
		if blk.Header.PreviousHash != tip.BlockHash {
			return NewError(KindConflict, "validate_block_header", fmt.Errorf("previous_hash %s does not match tip %s", blk.Header.PreviousHash.Short(), tip.BlockHash.Short()))
		}
		if blk.Header.Index != tip.Header.Index+1 {
			return NewError(KindConflict, "validate_block_header", fmt.Errorf("index %d is not tip+1 (%d)", blk.Header.Index, tip.Header.Index+1))
		}
		delta := blk.Header.Timestamp.Sub(tip.Header.Timestamp)
		if delta < -v.params.TimestampTolerance || delta > 2*v.params.TargetInterval+v.params.TimestampTolerance {
			return NewError(KindPolicyViolation, "validate_block_header", fmt.Errorf("timestamp delta %s outside tolerance", delta))
		}
	} else if blk.Header.Index != 0 {
		return NewError(KindConflict, "validate_block_header", fmt.Errorf("first block must be index 0"))
	}
	return nil
}

// ValidatePoRW checks PoRW-specific rules (§4.6 PoRW-specific).
func (v *Validator) ValidatePoRW(blk *Block) error {
	if blk.PoRWProof == nil || blk.Coinbase == nil {
		return NewError(KindMalformedEntity, "validate_porw", fmt.Errorf("missing porw_proof or coinbase"))
	}
	if blk.PoRWProof.Score < v.params.MinScore {
		return NewError(KindInvalidProof, "validate_porw", fmt.Errorf("score %f below threshold %f", blk.PoRWProof.Score, v.params.MinScore))
	}
	target := FoldingTarget{TargetID: blk.PoRWProof.TargetID}
	result := FoldingResult{
		TargetID:       blk.PoRWProof.TargetID,
		StructureBytes: blk.PoRWProof.StructureBytes,
		Score:          blk.PoRWProof.Score,
		Energy:         blk.PoRWProof.Energy,
		RMSD:           blk.PoRWProof.RMSD,
		Attestation:    blk.PoRWProof.Attestation,
	}
	if err := v.engine.VerifyFoldingResult(target, result, blk.ProteinDataRef, v.rescore); err != nil {
		return err
	}
	lastPoRW, err := v.chain.LatestByType(BlockPoRW, &blk.Header.Index)
	var lastTimestamp time.Time
	if err == nil {
		lastTimestamp = lastPoRW.Header.Timestamp
	}
	wantMinted := v.engine.RewardFor(v.state.TotalSupply(), lastTimestamp, blk.Header.Timestamp)
	if blk.MintedAmount != wantMinted {
		return NewError(KindPolicyViolation, "validate_porw", fmt.Errorf("minted_amount %d != policy output %d", blk.MintedAmount, wantMinted))
	}
	return nil
}

// ValidatePoRS checks PoRS-specific rules (§4.6 PoRS-specific).
func (v *Validator) ValidatePoRS(blk *Block, seenChallengeIDs map[string]bool) error {
	if blk.PoRSProof == nil {
		return NewError(KindMalformedEntity, "validate_pors", fmt.Errorf("missing pors_proof"))
	}
	if len(blk.PoRSProof.SignerAddresses) < v.params.QuorumSize {
		return NewError(KindInvalidProof, "validate_pors", fmt.Errorf("quorum %d below required %d", len(blk.PoRSProof.SignerAddresses), v.params.QuorumSize))
	}
	if seenChallengeIDs[blk.PoRSProof.ChallengeID] {
		return NewError(KindConflict, "validate_pors", fmt.Errorf("challenge_id %s already used", blk.PoRSProof.ChallengeID))
	}
	if v.validators != nil {
		pubKeys, err := v.validators.BLSPublicKeysFor(blk.PoRSProof.SignerAddresses)
		if err != nil {
			return NewError(KindInvalidProof, "validate_pors", err)
		}
		var agg bls.Sign
		if err := agg.Deserialize(blk.PoRSProof.AggregateSignature); err != nil {
			return NewError(KindMalformedEntity, "validate_pors", fmt.Errorf("aggregate_signature: %w", err))
		}
		digest := QuorumDigest(blk.PoRSProof.ChallengeID)
		if !VerifyAggregateQuorum(agg, pubKeys, digest) {
			return NewError(KindInvalidSignature, "validate_pors", fmt.Errorf("aggregate quorum signature does not verify"))
		}
	}
	var feeTotal Amount
	seenTx := make(map[Hash]bool, len(blk.Transactions))
	spent := make(map[Address]Amount)
	for _, tx := range blk.Transactions {
		if err := tx.VerifySignature(); err != nil && tx.Sender != AddressZero {
			return err
		}
		if seenTx[tx.ID] {
			return NewError(KindConflict, "validate_pors", fmt.Errorf("duplicate tx %s within block", tx.ID.Short()))
		}
		seenTx[tx.ID] = true
		feeTotal += tx.Fee
		if tx.Sender == AddressZero {
			continue
		}
		if tx.Fee < v.params.MinFee {
			return NewError(KindPolicyViolation, "validate_pors", fmt.Errorf("tx %s fee %d below minimum %d", tx.ID.Short(), tx.Fee, v.params.MinFee))
		}
		spent[tx.Sender] += tx.Amount + tx.Fee
		if spent[tx.Sender] > v.state.Balance(tx.Sender) {
			return NewError(KindInsufficientFunds, "validate_pors", fmt.Errorf("sender %s balance %d insufficient for in-block spend %d (double-spend within block or against applied balance)", tx.Sender, v.state.Balance(tx.Sender), spent[tx.Sender]))
		}
	}
	var rewardTotal Amount
	for _, amt := range blk.StorageRewards {
		rewardTotal += amt
	}
	if rewardTotal != feeTotal {
		return NewError(KindPolicyViolation, "validate_pors", fmt.Errorf("storage_rewards sum %d != fee total %d", rewardTotal, feeTotal))
	}
	return nil
}
