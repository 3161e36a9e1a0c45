package core

// Consensus driver (§4.10 C10): schedules PoRS block production at a fixed
// cadence, admits PoRW blocks as folding results become available, and
// applies both via the fork manager's apply-or-reorg path before gossiping
// the accepted block. Uses a start/stop ticker skeleton driving the dual
// PoRW/PoRS cadence.

import (
	"context"
	"fmt"
	"time"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"github.com/sirupsen/logrus"
)

// DriverConfig holds the cadence and checkpoint parameters pinned by
// genesis metadata.
type DriverConfig struct {
	PorsInterval    time.Duration
	CheckpointEvery uint64
	Alpha           float64
	MaxBlockTxs     int
	NetworkID       string
}

// Driver orchestrates block production and acceptance for both consensus
// tracks (C10).
type Driver struct {
	cfg        DriverConfig
	chain      *ChainStore
	state      *State
	mempool    *Mempool
	validator  *Validator
	engine     *PoRWEngine
	fork       *ForkManager
	sync       *ChainSync
	validators *ValidatorSet
	logger     *logrus.Logger
}

// NewDriver wires a driver to the already-constructed chain components. The
// ChainSync's onBlock callback should be set to d.ApplyIncomingBlock so
// gossiped and gap-filled blocks flow through the same acceptance path as
// locally produced ones.
func NewDriver(cfg DriverConfig, chain *ChainStore, state *State, mempool *Mempool, validator *Validator, engine *PoRWEngine, validators *ValidatorSet, logger *logrus.Logger) *Driver {
	return &Driver{
		cfg:        cfg,
		chain:      chain,
		state:      state,
		mempool:    mempool,
		validator:  validator,
		engine:     engine,
		fork:       NewForkManager(chain, state, mempool, cfg.CheckpointEvery, cfg.Alpha),
		validators: validators,
		logger:     logger,
	}
}

// AttachSync wires the driver to the node's gossip/sync layer for block
// announcement after acceptance.
func (d *Driver) AttachSync(cs *ChainSync) { d.sync = cs }

// ApplyIncomingBlock validates and applies a block received over the wire
// (gossip or gap-fill), the shared entry point for §4.10 step 1-3.
func (d *Driver) ApplyIncomingBlock(b *Block) error {
	tip, err := d.chain.Latest()
	if err != nil {
		return err
	}
	if b.Header.PreviousHash == tip.BlockHash {
		if err := d.validator.ValidateBlockHeader(b, tip); err != nil {
			return err
		}
	}
	if err := d.validateByType(b); err != nil {
		return err
	}
	applied, err := d.fork.AddBlock(b)
	if err != nil {
		return err
	}
	d.fork.Checkpoint()
	if applied && d.logger != nil {
		d.logger.WithFields(logrus.Fields{"index": b.Header.Index, "type": b.Header.BlockType}).Info("consensus: applied block")
	}
	return nil
}

func (d *Driver) validateByType(b *Block) error {
	switch b.Header.BlockType {
	case BlockPoRW:
		return d.validator.ValidatePoRW(b)
	case BlockPoRS:
		return d.validator.ValidatePoRS(b, d.seenChallengeIDs())
	default:
		return NewError(KindMalformedEntity, "validate_by_type", fmt.Errorf("unknown block_type %q", b.Header.BlockType))
	}
}

// eligibleValidators returns the validators currently allowed to take part
// in a quorum round, or nil if the driver was built without a validator set
// (e.g. single-node test harnesses).
func (d *Driver) eligibleValidators() []*ValidatorInfo {
	if d.validators == nil {
		return nil
	}
	return d.validators.Eligible()
}

// seenChallengeIDs scans the canonical chain for previously used PoRS
// challenge_ids, rebuilding the duplicate-detection set on demand. A
// production node would maintain this incrementally; rebuilding is simpler
// and the chain height bounds its cost.
func (d *Driver) seenChallengeIDs() map[string]bool {
	seen := make(map[string]bool)
	height := d.chain.Height()
	blocks, err := d.chain.Range(0, height)
	if err != nil {
		return seen
	}
	for _, b := range blocks {
		if b.PoRSProof != nil {
			seen[b.PoRSProof.ChallengeID] = true
		}
	}
	return seen
}

// AssemblePoRSBlock builds a candidate PoRS block from the highest-fee
// mempool transactions and a completed quorum round, splitting the fee
// total evenly among signers as storage_rewards (§4.6 PoRS-specific: sum
// must equal fee total).
func (d *Driver) AssemblePoRSBlock(round *QuorumRound) (*Block, error) {
	if !round.HasQuorum() {
		return nil, NewError(KindPolicyViolation, "assemble_pors_block", fmt.Errorf("round %s has not reached quorum", round.ChallengeID))
	}
	tip, err := d.chain.Latest()
	if err != nil {
		return nil, err
	}
	txs := d.mempool.TopN(d.cfg.MaxBlockTxs)

	var feeTotal Amount
	for _, tx := range txs {
		feeTotal += tx.Fee
	}
	signers, rawSigs := round.SignersAndSignatures()
	rewards := splitEvenly(feeTotal, signers)

	agg, err := aggregateRawSignatures(rawSigs)
	if err != nil {
		return nil, err
	}

	b := &Block{
		Header: Header{
			Index:        tip.Header.Index + 1,
			PreviousHash: tip.BlockHash,
			Timestamp:    time.Now().UTC(),
			BlockType:    BlockPoRS,
		},
		Transactions: txs,
		PoRSProof: &PoRSProof{
			ChallengeID:        round.ChallengeID,
			SignerAddresses:    signers,
			AggregateSignature: agg,
		},
		StorageRewards: rewards,
	}
	if err := b.Seal(); err != nil {
		return nil, err
	}
	return b, nil
}

// aggregateRawSignatures combines per-validator BLS signatures collected
// over a round's QuorumDigest into a single aggregate signature for the
// block's pors_proof.
func aggregateRawSignatures(rawSigs [][]byte) ([]byte, error) {
	if err := initBLS(); err != nil {
		return nil, err
	}
	sigs := make([]bls.Sign, 0, len(rawSigs))
	for _, raw := range rawSigs {
		var sig bls.Sign
		if err := sig.Deserialize(raw); err != nil {
			return nil, NewError(KindInvalidSignature, "aggregate_raw_signatures", err)
		}
		sigs = append(sigs, sig)
	}
	agg := AggregateQuorumSignatures(sigs)
	return agg.Serialize(), nil
}

func splitEvenly(total Amount, recipients []Address) map[Address]Amount {
	out := make(map[Address]Amount, len(recipients))
	if len(recipients) == 0 {
		return out
	}
	share := total / Amount(len(recipients))
	remainder := total % Amount(len(recipients))
	for i, addr := range recipients {
		amt := share
		if Amount(i) < remainder {
			amt++
		}
		out[addr] += amt
	}
	return out
}

// AssemblePoRWBlock builds a candidate PoRW block crediting minerAddress
// with the policy-computed reward for a verified folding result (§4.7).
func (d *Driver) AssemblePoRWBlock(result FoldingResult, proteinDataRef Hash, minerAddress Address) (*Block, error) {
	tip, err := d.chain.Latest()
	if err != nil {
		return nil, err
	}
	lastPoRW, err := d.chain.LatestByType(BlockPoRW, nil)
	var lastTimestamp time.Time
	if err == nil {
		lastTimestamp = lastPoRW.Header.Timestamp
	}
	now := time.Now().UTC()
	minted := d.engine.RewardFor(d.state.TotalSupply(), lastTimestamp, now)

	coinbase := &Transaction{
		Sender:    AddressZero,
		Recipient: minerAddress,
		Amount:    minted,
		Timestamp: now,
		Status:    TxConfirmed,
	}
	coinbaseID, err := coinbase.Hash()
	if err != nil {
		return nil, NewError(KindInternal, "assemble_porw_block", err)
	}
	coinbase.ID = coinbaseID

	b := &Block{
		Header: Header{
			Index:        tip.Header.Index + 1,
			PreviousHash: tip.BlockHash,
			Timestamp:    now,
			BlockType:    BlockPoRW,
		},
		ProteinDataRef: proteinDataRef,
		PoRWProof: &PoRWProof{
			TargetID:       result.TargetID,
			Score:          result.Score,
			Energy:         result.Energy,
			RMSD:           result.RMSD,
			StructureBytes: result.StructureBytes,
			Attestation:    result.Attestation,
		},
		MintedAmount: minted,
		Coinbase:     coinbase,
	}
	if err := b.Seal(); err != nil {
		return nil, err
	}
	return b, nil
}

// ProduceAndApply assembles, validates, applies, and (if wired) announces
// a block produced by build, the shared tail of both production paths.
func (d *Driver) ProduceAndApply(build func() (*Block, error)) (*Block, error) {
	b, err := build()
	if err != nil {
		return nil, err
	}
	if err := d.ApplyIncomingBlock(b); err != nil {
		return nil, err
	}
	if d.sync != nil {
		if err := d.sync.AnnounceBlock(b); err != nil && d.logger != nil {
			d.logger.WithError(err).Warn("consensus: announce block failed")
		}
	}
	return b, nil
}

// Run drives the PoRS production cadence until ctx is cancelled, invoking
// collectQuorum to gather a signed challenge round from active validators
// before each block attempt (§4.10: "fixed cadence... one block per
// T_pors seconds"). collectQuorum is injected because quorum gathering is
// itself a network round trip across peer connections, owned by the
// caller's P2P wiring rather than the driver; it receives the currently
// eligible validator set and the quorum threshold so it knows who to query
// and how many signatures to wait for.
func (d *Driver) Run(ctx context.Context, collectQuorum func(ctx context.Context, eligible []*ValidatorInfo, threshold int) (*QuorumRound, error)) {
	ticker := time.NewTicker(d.cfg.PorsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eligible := d.eligibleValidators()
			threshold := QuorumSizeFor(len(eligible))
			round, err := collectQuorum(ctx, eligible, threshold)
			if err != nil {
				if d.logger != nil {
					d.logger.WithError(err).Warn("consensus: quorum collection failed")
				}
				continue
			}
			if _, err := d.ProduceAndApply(func() (*Block, error) { return d.AssemblePoRSBlock(round) }); err != nil {
				if d.logger != nil {
					d.logger.WithError(err).Warn("consensus: PoRS production failed")
				}
			}
		}
	}
}
