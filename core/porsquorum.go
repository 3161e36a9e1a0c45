package core

import (
	"sync"
	"time"
)

// DefaultVerificationThreshold is the reliability score a node must meet
// to remain quorum-eligible (§4.8).
const DefaultVerificationThreshold = 0.8

// defaultDecay weights recent challenge outcomes more heavily than old
// ones, giving an exponentially weighted success fraction.
const defaultDecay = 0.9

// ReliabilityTracker maintains each storage node's exponentially weighted
// challenge success score over a sliding window (§4.8 reliability score).
type ReliabilityTracker struct {
	mu        sync.Mutex
	decay     float64
	threshold float64
	scores    map[Address]float64
}

// NewReliabilityTracker builds a tracker using the default decay and the
// given eligibility threshold.
func NewReliabilityTracker(threshold float64) *ReliabilityTracker {
	return &ReliabilityTracker{decay: defaultDecay, threshold: threshold, scores: make(map[Address]float64)}
}

// RecordOutcome folds a challenge result for node into its running score:
// new = decay*old + (1-decay)*outcome, where outcome is 1 for success, 0
// for failure.
func (r *ReliabilityTracker) RecordOutcome(node Address, success bool) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	prev, ok := r.scores[node]
	if !ok {
		prev = outcome
	}
	next := r.decay*prev + (1-r.decay)*outcome
	r.scores[node] = next
	return next
}

// Score returns node's current reliability score; unseen nodes score 1.0
// (benefit of the doubt until their first challenge).
func (r *ReliabilityTracker) Score(node Address) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scores[node]; ok {
		return s
	}
	return 1.0
}

// IsReliable reports whether node meets the eligibility threshold.
func (r *ReliabilityTracker) IsReliable(node Address) bool {
	return r.Score(node) >= r.threshold
}

// QuorumRound collects signed challenge-round attestations from validators
// for a single challenge_id, tracking per-signer votes scoped to that one
// round rather than a global singleton.
type QuorumRound struct {
	mu          sync.Mutex
	ChallengeID string
	threshold   int
	signatures  map[Address][]byte
	startedAt   time.Time
}

// NewQuorumRound opens collection for a challenge round requiring
// threshold distinct validator signatures.
func NewQuorumRound(challengeID string, threshold int) *QuorumRound {
	return &QuorumRound{ChallengeID: challengeID, threshold: threshold, signatures: make(map[Address][]byte), startedAt: time.Now()}
}

// AddSignature records validator's signature over the round's digest.
// Duplicate validators are ignored. Returns the number of distinct
// signers collected so far.
func (q *QuorumRound) AddSignature(validator Address, sig []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.signatures[validator]; !ok {
		q.signatures[validator] = sig
	}
	return len(q.signatures)
}

// HasQuorum reports whether enough distinct validators have signed.
func (q *QuorumRound) HasQuorum() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signatures) >= q.threshold
}

// Signers returns the addresses that have signed, for inclusion in the
// block's pors_proof.
func (q *QuorumRound) Signers() []Address {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Address, 0, len(q.signatures))
	for a := range q.signatures {
		out = append(out, a)
	}
	return out
}

// SignersAndSignatures returns the signing addresses alongside their raw
// signature bytes, in matching order, for aggregation into a block's
// aggregate_signature.
func (q *QuorumRound) SignersAndSignatures() ([]Address, [][]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	addrs := make([]Address, 0, len(q.signatures))
	sigs := make([][]byte, 0, len(q.signatures))
	for a, s := range q.signatures {
		addrs = append(addrs, a)
		sigs = append(sigs, s)
	}
	return addrs, sigs
}

// QuorumSizeFor computes the default quorum size ceil(2f/3)+1 for a
// validator set of n members, where f = (n-1)/3 is the tolerated faulty
// count (§4.6 PoRS-specific: "N=configured, default ceil(2f/3)+1").
func QuorumSizeFor(n int) int {
	if n <= 0 {
		return 0
	}
	f := (n - 1) / 3
	return (2*f+2)/3 + 1
}
