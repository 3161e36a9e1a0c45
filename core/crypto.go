package core

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// KeyPair holds a secp256k1 keypair used for transaction signing and address
// derivation (C1).
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// GenerateKeypair creates a new secp256k1 keypair.
func GenerateKeypair() (*KeyPair, error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &KeyPair{Private: sk, Public: sk.PubKey()}, nil
}

// PublicKeyBytes returns the compressed SEC1 encoding of the public key.
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.Public.SerializeCompressed()
}

// Sign signs a message digest with the keypair's private key, using the
// same decred secp256k1 -> crypto/ecdsa bridge Verify uses.
func Sign(digest Hash, sk *secp256k1.PrivateKey) ([]byte, error) {
	ecdsaKey := sk.ToECDSA()
	r, s, err := ecdsa.Sign(rand.Reader, ecdsaKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	sig := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig, nil
}

// Verify checks a 64-byte (r||s) ECDSA signature against a compressed
// public key.
func Verify(digest Hash, sig, pubKey []byte) (bool, error) {
	if len(sig) != 64 {
		return false, fmt.Errorf("crypto: signature must be 64 bytes, got %d", len(sig))
	}
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("crypto: parse pubkey: %w", err)
	}
	ecdsaPub := pk.ToECDSA()

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(ecdsaPub, digest[:], r, s), nil
}
