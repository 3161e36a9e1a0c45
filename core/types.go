package core

import (
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte SHA-256 digest used for block hashes, transaction ids,
// and chunk/content identifiers.
type Hash [32]byte

func (h Hash) Hex() string    { return hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool {
	var z Hash
	return h == z
}

// Short returns a truncated hex form for log lines.
func (h Hash) Short() string {
	s := h.Hex()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash: expected %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Address is the 20-byte hash160-equivalent of a public key. It is never
// serialized directly on the wire; Base58Check (see address.go) is used
// for display and transaction fields.
type Address [20]byte

func (a Address) String() string { return EncodeAddress(a) }

// MarshalText encodes a as Base58Check, so JSON fields and map keys of
// type Address carry the checksummed string form.
func (a Address) MarshalText() ([]byte, error) { return []byte(EncodeAddress(a)), nil }

// UnmarshalText decodes a Base58Check address produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}
func (a Address) IsZero() bool {
	var z Address
	return a == z
}

// AddressZero is the reserved sender for coinbase-style mint transactions.
var AddressZero = Address{}

// Amount is an integer minor-unit representation (8 decimal places) of a
// transferable value. Using an integer avoids the floating-point hashing
// hazard called out for consensus-relevant numbers.
type Amount uint64

// AmountScale is the number of minor units per whole coin.
const AmountScale = 100_000_000

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxRejected  TxStatus = "rejected"
)

// BlockType tags which consensus track produced a block.
type BlockType string

const (
	BlockPoRW BlockType = "PoRW"
	BlockPoRS BlockType = "PoRS"
)

// ChallengeType enumerates the PoRS storage-challenge kinds.
type ChallengeType string

const (
	ChallengeHash  ChallengeType = "hash"
	ChallengeRange ChallengeType = "range"
	ChallengeSample ChallengeType = "sample"
)
