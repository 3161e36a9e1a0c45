// Package genesis pins the network-wide metadata and consensus parameters
// a node must agree on before joining the network (§6 External Interfaces:
// "Network id and consensus parameters are pinned in the genesis
// metadata"). Kept separate from the runtime-tunable node config: this
// package holds what's pinned at birth, pkg/config holds what's tunable
// per node.
package genesis

import (
	"time"

	"porwchain-network/core"
)

// Metadata is the fixed set of parameters every node on a network must
// agree on; it is not read from a node's local config file, it is either
// embedded at build time or fetched once from a trusted peer and then
// treated as immutable for the node's lifetime.
type Metadata struct {
	NetworkID string    `json:"network_id"`
	Timestamp time.Time `json:"timestamp"`

	// Alpha weights quorum signatures against minted amount in the
	// cumulative-work comparison used for fork choice (§9 Open Question,
	// §4.10).
	Alpha float64 `json:"alpha"`

	// CheckpointEvery is the number of blocks between reorg-barrier
	// checkpoints (§4.10).
	CheckpointEvery uint64 `json:"checkpoint_every"`

	// PorsInterval is the target cadence between PoRS blocks, T_pors
	// (§4.10).
	PorsInterval time.Duration `json:"pors_interval"`

	PoRW      core.PoRWPolicy         `json:"porw_policy"`
	Validation core.ValidationParams  `json:"validation_params"`

	// KZGTrustedSetup selects the embedded KZG trusted setup used for
	// PoRW folding attestations and confidential-transfer commitments
	// (§9 Open Question resolution: "a fixed SRS loaded at genesis").
	KZGTrustedSetup string `json:"kzg_trusted_setup"`
}

// Mainnet is the canonical production network's genesis metadata.
func Mainnet() Metadata {
	return Metadata{
		NetworkID:       "porwchain-mainnet",
		Timestamp:       time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		Alpha:           1.0,
		CheckpointEvery: 1000,
		PorsInterval:    30 * time.Second,
		PoRW:            core.DefaultPoRWPolicy(),
		Validation: core.ValidationParams{
			MinFee:             1,
			MinScore:           0.0,
			QuorumSize:         0, // computed per validator-set size via core.QuorumSizeFor
			TimestampTolerance: 30 * time.Second,
			TargetInterval:     600 * time.Second,
		},
		KZGTrustedSetup: "default-4096-secure",
	}
}

// Testnet relaxes timing and fee parameters for local development and CI.
func Testnet() Metadata {
	m := Mainnet()
	m.NetworkID = "porwchain-testnet"
	m.PorsInterval = 5 * time.Second
	m.Validation.MinFee = 0
	m.Validation.TimestampTolerance = 5 * time.Minute
	return m
}

// Block builds the genesis block described by m: index=0, empty
// previous_hash, zeroed coinbase, total_supply=0 (§6 Genesis).
func (m Metadata) Block() (*core.Block, error) {
	return core.NewGenesisBlock(m.NetworkID, m.Timestamp)
}
