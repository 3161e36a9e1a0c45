package core

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestEncryptDecryptMemoRoundTrip(t *testing.T) {
	recipientKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	plaintext := []byte("meet at the usual place")

	memo, err := EncryptMemo(plaintext, recipientKey.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptMemo(memo, recipientKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptMemoWrongKeyFails(t *testing.T) {
	recipientKey, _ := secp256k1.GeneratePrivateKey()
	otherKey, _ := secp256k1.GeneratePrivateKey()

	memo, err := EncryptMemo([]byte("secret"), recipientKey.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptMemo(memo, otherKey); err == nil {
		t.Fatal("expected decryption to fail with the wrong key")
	}
}
