package core

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// MinSamplePositions is the minimum number of indices a Sample challenge
// must request, sized to prevent trivially caching hashes (§4.8 challenge
// protocol).
const MinSamplePositions = 128

// Challenge is a verifier's request for proof of storage over one chunk
// (§4.8 challenge protocol).
type Challenge struct {
	ChallengeID string        `json:"challenge_id"`
	ChunkID     string        `json:"chunk_id"`
	Type        ChallengeType `json:"type"`
	Start       int           `json:"start,omitempty"`
	End         int           `json:"end,omitempty"`
	Indices     []int         `json:"indices,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Response is a prover's answer to a Challenge.
type Response struct {
	ChallengeID string    `json:"challenge_id"`
	ChunkID     string    `json:"chunk_id"`
	Proof       Hash      `json:"proof"`
	Timestamp   time.Time `json:"timestamp"`
}

// randInt returns a uniform random integer in [0, n) using crypto/rand, to
// keep challenge parameters unpredictable (§4.8: "sized to prevent
// trivially caching hashes").
func randInt(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("porschallenge: n must be positive")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// NewChallenge builds a challenge of type t with randomly chosen
// parameters over a chunk of the given length.
func NewChallenge(chunkID string, chunkLen int, t ChallengeType) (Challenge, error) {
	ch := Challenge{
		ChallengeID: uuid.NewString(),
		ChunkID:     chunkID,
		Type:        t,
		Timestamp:   time.Now().UTC(),
	}
	switch t {
	case ChallengeHash:
		// no parameters: the whole chunk is challenged.
	case ChallengeRange:
		if chunkLen < 2 {
			return Challenge{}, NewError(KindMalformedEntity, "new_challenge", fmt.Errorf("chunk too small for a range challenge"))
		}
		start, err := randInt(chunkLen - 1)
		if err != nil {
			return Challenge{}, NewError(KindInternal, "new_challenge", err)
		}
		end, err := randInt(chunkLen - start)
		if err != nil {
			return Challenge{}, NewError(KindInternal, "new_challenge", err)
		}
		end += start + 1
		ch.Start, ch.End = start, end
	case ChallengeSample:
		n := MinSamplePositions
		if chunkLen < n {
			n = chunkLen
		}
		seen := make(map[int]bool, n)
		indices := make([]int, 0, n)
		for len(indices) < n {
			idx, err := randInt(chunkLen)
			if err != nil {
				return Challenge{}, NewError(KindInternal, "new_challenge", err)
			}
			if seen[idx] {
				continue
			}
			seen[idx] = true
			indices = append(indices, idx)
		}
		ch.Indices = indices
	default:
		return Challenge{}, NewError(KindMalformedEntity, "new_challenge", fmt.Errorf("unknown challenge type %q", t))
	}
	return ch, nil
}

// ExpectedProof computes the deterministic proof for ch over the
// authoritative chunk bytes, used by both the prover and the verifier
// (§4.8 challenge types).
func ExpectedProof(ch Challenge, chunk []byte) (Hash, error) {
	switch ch.Type {
	case ChallengeHash:
		return Hash(sha256.Sum256(chunk)), nil
	case ChallengeRange:
		if ch.Start < 0 || ch.End > len(chunk) || ch.Start >= ch.End {
			return Hash{}, NewError(KindMalformedEntity, "expected_proof", fmt.Errorf("range [%d,%d) out of bounds for chunk of length %d", ch.Start, ch.End, len(chunk)))
		}
		return Hash(sha256.Sum256(chunk[ch.Start:ch.End])), nil
	case ChallengeSample:
		buf := make([]byte, 0, len(ch.Indices))
		for _, idx := range ch.Indices {
			if idx < 0 || idx >= len(chunk) {
				return Hash{}, NewError(KindMalformedEntity, "expected_proof", fmt.Errorf("index %d out of bounds for chunk of length %d", idx, len(chunk)))
			}
			buf = append(buf, chunk[idx])
		}
		return Hash(sha256.Sum256(buf)), nil
	default:
		return Hash{}, NewError(KindMalformedEntity, "expected_proof", fmt.Errorf("unknown challenge type %q", ch.Type))
	}
}

// VerifyResponse checks that resp.Proof matches the proof recomputed from
// the verifier's own authoritative chunk bytes.
func VerifyResponse(ch Challenge, resp Response, chunk []byte) (bool, error) {
	if resp.ChallengeID != ch.ChallengeID {
		return false, NewError(KindMalformedEntity, "verify_response", fmt.Errorf("challenge id mismatch"))
	}
	want, err := ExpectedProof(ch, chunk)
	if err != nil {
		return false, err
	}
	return want == resp.Proof, nil
}

// ChallengeScheduler issues storage challenges over locally held chunks
// and folds each response's outcome into a ReliabilityTracker, the
// feedback loop ValidatorSet.Eligible reads from to exclude unreliable
// storage nodes from the PoRS quorum (§4.8).
type ChallengeScheduler struct {
	store  *ChunkStore
	reliab *ReliabilityTracker
}

// NewChallengeScheduler ties a scheduler to the chunk store it samples
// the authoritative chunk bytes from and the reliability tracker it
// scores outcomes into.
func NewChallengeScheduler(store *ChunkStore, reliab *ReliabilityTracker) *ChallengeScheduler {
	return &ChallengeScheduler{store: store, reliab: reliab}
}

// Issue builds a new challenge of type t over the chunk referenced by id,
// sized against the verifier's own local copy.
func (cs *ChallengeScheduler) Issue(id ChunkID, t ChallengeType) (Challenge, error) {
	data, err := cs.store.Get(id)
	if err != nil {
		return Challenge{}, err
	}
	return NewChallenge(id.String(), len(data), t)
}

// Score verifies resp from node against the scheduler's own chunk bytes
// and records the outcome in the reliability tracker, returning whether
// the response was valid.
func (cs *ChallengeScheduler) Score(ch Challenge, resp Response, node Address) (bool, error) {
	id, err := ParseChunkID(ch.ChunkID)
	if err != nil {
		return false, err
	}
	data, err := cs.store.Get(id)
	if err != nil {
		cs.reliab.RecordOutcome(node, false)
		return false, err
	}
	ok, err := VerifyResponse(ch, resp, data)
	if err != nil {
		cs.reliab.RecordOutcome(node, false)
		return false, err
	}
	cs.reliab.RecordOutcome(node, ok)
	return ok, nil
}
