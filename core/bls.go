package core

import (
	"crypto/sha256"
	"fmt"
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

var blsInitOnce sync.Once
var blsInitErr error

// initBLS brings up the BLS12-381 runtime once per process, lazily calling
// bls.Init on first use rather than in a package init().
func initBLS() error {
	blsInitOnce.Do(func() {
		if err := bls.Init(bls.BLS12_381); err != nil {
			blsInitErr = fmt.Errorf("bls: init: %w", err)
			return
		}
		blsInitErr = bls.SetETHmode(bls.EthModeDraft07)
	})
	return blsInitErr
}

// QuorumKeyPair is a validator's BLS12-381 signing key, used to co-sign
// PoRS challenge-round quorum certificates.
type QuorumKeyPair struct {
	Secret bls.SecretKey
	Public bls.PublicKey
}

// GenerateQuorumKeypair creates a new BLS12-381 keypair for quorum signing.
func GenerateQuorumKeypair() (*QuorumKeyPair, error) {
	if err := initBLS(); err != nil {
		return nil, err
	}
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return &QuorumKeyPair{Secret: sk, Public: *sk.GetPublicKey()}, nil
}

// QuorumDigest derives the fixed 32-byte message a PoRS quorum signs over
// for a given challenge round, so every validator signs (and every
// verifier checks) the same digest without carrying the raw challenge id
// through the BLS signing API.
func QuorumDigest(challengeID string) Hash {
	return Hash(sha256.Sum256([]byte(challengeID)))
}

// SignQuorum signs digest with the validator's BLS secret key.
func SignQuorum(sk *bls.SecretKey, digest Hash) bls.Sign {
	return *sk.SignByte(digest[:])
}

// AggregateQuorumSignatures combines per-validator signatures into a single
// aggregate signature for a PoRS quorum certificate (C8 quorum_weight).
func AggregateQuorumSignatures(sigs []bls.Sign) bls.Sign {
	var agg bls.Sign
	agg.Aggregate(sigs)
	return agg
}

// VerifyAggregateQuorum verifies an aggregate signature against the set of
// public keys that must each have signed the same digest.
func VerifyAggregateQuorum(agg bls.Sign, pubKeys []bls.PublicKey, digest Hash) bool {
	if len(pubKeys) == 0 {
		return false
	}
	return agg.FastAggregateVerify(pubKeys, digest[:])
}
