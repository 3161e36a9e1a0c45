package core

// Encrypted memo envelope (§4.11 C11 Privacy add-ons: "Encrypted memo").
// A fresh ephemeral key pair is generated per memo; ECDH against the
// recipient's public key derives a HKDF-SHA256 key for ChaCha20-Poly1305
// symmetric memo encryption.

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const memoHKDFInfo = "porwchain-network/memo/v1"

// EncryptedMemo is the on-wire envelope carried in Transaction.Memo.
type EncryptedMemo struct {
	EphemeralPubKey []byte `json:"ephemeral_pub_key"`
	Nonce           []byte `json:"nonce"`
	Ciphertext      []byte `json:"ciphertext"`
}

func ecdhSharedSecret(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var pubJ, sharedJ secp256k1.JacobianPoint
	pub.AsJacobian(&pubJ)
	secp256k1.ScalarMultNonConst(&priv.Key, &pubJ, &sharedJ)
	sharedJ.ToAffine()
	x := sharedJ.X.Bytes()
	return x[:]
}

func memoKey(secret []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte(memoHKDFInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptMemo encrypts plaintext for recipientPubKey, generating a fresh
// ephemeral key pair for the ECDH exchange (§4.11).
func EncryptMemo(plaintext []byte, recipientPubKey []byte) (*EncryptedMemo, error) {
	recipient, err := secp256k1.ParsePubKey(recipientPubKey)
	if err != nil {
		return nil, NewError(KindMalformedEntity, "encrypt_memo", fmt.Errorf("parse recipient pubkey: %w", err))
	}
	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, NewError(KindInternal, "encrypt_memo", err)
	}
	secret := ecdhSharedSecret(ephemeral, recipient)
	key, err := memoKey(secret)
	if err != nil {
		return nil, NewError(KindInternal, "encrypt_memo", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, NewError(KindInternal, "encrypt_memo", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, NewError(KindInternal, "encrypt_memo", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return &EncryptedMemo{
		EphemeralPubKey: ephemeral.PubKey().SerializeCompressed(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// DecryptMemo recovers the plaintext using the recipient's private key,
// re-deriving the same ECDH shared secret and HKDF key (§4.11: "decryption
// is symmetric").
func DecryptMemo(memo *EncryptedMemo, recipientKey *secp256k1.PrivateKey) ([]byte, error) {
	ephemeral, err := secp256k1.ParsePubKey(memo.EphemeralPubKey)
	if err != nil {
		return nil, NewError(KindMalformedEntity, "decrypt_memo", fmt.Errorf("parse ephemeral pubkey: %w", err))
	}
	secret := ecdhSharedSecret(recipientKey, ephemeral)
	key, err := memoKey(secret)
	if err != nil {
		return nil, NewError(KindInternal, "decrypt_memo", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, NewError(KindInternal, "decrypt_memo", err)
	}
	plaintext, err := aead.Open(nil, memo.Nonce, memo.Ciphertext, nil)
	if err != nil {
		return nil, NewError(KindInvalidSignature, "decrypt_memo", fmt.Errorf("decryption failed: %w", err))
	}
	return plaintext, nil
}
