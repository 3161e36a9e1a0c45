package core

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 teacher wallet.go uses the same deprecated package for hash160
)

// AddressVersion is the single-byte version prefix pinned in genesis.
const AddressVersion = 0x1C

// hash160 computes RIPEMD160(SHA256(data)), the same construction the
// teacher's wallet.go uses to derive an address from a public key.
func hash160(data []byte) [20]byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	sum := r.Sum(nil)
	var out [20]byte
	copy(out[:], sum)
	return out
}

// AddressFromPubKey derives a 20-byte address from a compressed secp256k1
// public key (C1: address_from_pubkey).
func AddressFromPubKey(pubKey []byte) Address {
	return Address(hash160(pubKey))
}

// checksum returns the first 4 bytes of double-SHA256(version||payload).
func checksum(versionAndPayload []byte) [4]byte {
	first := sha256.Sum256(versionAndPayload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// EncodeAddress renders an Address as Base58Check: version || hash160 || checksum.
func EncodeAddress(addr Address) string {
	payload := make([]byte, 0, 1+20+4)
	payload = append(payload, AddressVersion)
	payload = append(payload, addr[:]...)
	cks := checksum(payload)
	payload = append(payload, cks[:]...)
	return base58.Encode(payload)
}

// DecodeAddress parses and validates a Base58Check address, returning
// MalformedEntity on any structural failure (C1: validate_address).
func DecodeAddress(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, NewError(KindMalformedEntity, "decode_address", fmt.Errorf("base58 decode: %w", err))
	}
	if len(raw) != 1+20+4 {
		return Address{}, NewError(KindMalformedEntity, "decode_address", fmt.Errorf("expected 25 bytes, got %d", len(raw)))
	}
	version := raw[0]
	hash := raw[1:21]
	wantChecksum := raw[21:25]
	gotChecksum := checksum(raw[:21])
	if version != AddressVersion {
		return Address{}, NewError(KindMalformedEntity, "decode_address", fmt.Errorf("unexpected version byte 0x%x", version))
	}
	for i := range gotChecksum {
		if gotChecksum[i] != wantChecksum[i] {
			return Address{}, NewError(KindMalformedEntity, "decode_address", fmt.Errorf("checksum mismatch"))
		}
	}
	var addr Address
	copy(addr[:], hash)
	return addr, nil
}

// ValidateAddress reports whether s is a structurally valid address
// (C1: validate_address).
func ValidateAddress(s string) bool {
	_, err := DecodeAddress(s)
	return err == nil
}
