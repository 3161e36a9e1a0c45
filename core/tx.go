package core

import (
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
)

// Transaction moves value from Sender to Recipient, optionally carrying an
// encrypted Memo and/or a ConfidentialData commitment (§3 Data Model).
type Transaction struct {
	ID               Hash          `json:"id"`
	Sender           Address       `json:"sender"`
	Recipient        Address       `json:"recipient"`
	Amount           Amount        `json:"amount"`
	Fee              Amount        `json:"fee"`
	Nonce            uint64        `json:"nonce"`
	Timestamp        time.Time     `json:"timestamp"`
	SenderPubKey     []byte        `json:"sender_pub_key"`
	Signature        []byte        `json:"signature,omitempty"`
	Memo             *EncryptedMemo `json:"memo,omitempty"`
	ConfidentialData *Commitment   `json:"confidential_data,omitempty"`
	Status           TxStatus      `json:"status"`
}

// txSigningView is the subset of fields that are hashed and signed; the ID
// and Signature themselves are excluded so signing is well-founded.
type txSigningView struct {
	Sender       Address        `json:"sender"`
	Recipient    Address        `json:"recipient"`
	Amount       Amount         `json:"amount"`
	Fee          Amount         `json:"fee"`
	Nonce        uint64         `json:"nonce"`
	Timestamp    time.Time      `json:"timestamp"`
	SenderPubKey []byte         `json:"sender_pub_key"`
	Memo         *EncryptedMemo `json:"memo,omitempty"`
	Confidential *Commitment    `json:"confidential_data,omitempty"`
}

func (tx *Transaction) signingView() txSigningView {
	return txSigningView{
		Sender:       tx.Sender,
		Recipient:    tx.Recipient,
		Amount:       tx.Amount,
		Fee:          tx.Fee,
		Nonce:        tx.Nonce,
		Timestamp:    tx.Timestamp,
		SenderPubKey: tx.SenderPubKey,
		Memo:         tx.Memo,
		Confidential: tx.ConfidentialData,
	}
}

// Hash computes the canonical hash identifying this transaction (C1
// canonical_hash, §3 "Block hash rule" sibling for transactions).
func (tx *Transaction) Hash() (Hash, error) {
	return CanonicalHash(tx.signingView())
}

// NewTransaction builds and signs a transaction with sk, whose compressed
// public key must match sk.PubKey() for Sender derivation.
func NewTransaction(sender, recipient Address, amount, fee Amount, nonce uint64, sk *secp256k1.PrivateKey) (*Transaction, error) {
	tx := &Transaction{
		Sender:       sender,
		Recipient:    recipient,
		Amount:       amount,
		Fee:          fee,
		Nonce:        nonce,
		Timestamp:    time.Now().UTC(),
		SenderPubKey: sk.PubKey().SerializeCompressed(),
		Status:       TxPending,
	}
	if err := tx.SignWith(sk); err != nil {
		return nil, err
	}
	return tx, nil
}

// SignWith signs tx and sets its ID and Signature fields.
func (tx *Transaction) SignWith(sk *secp256k1.PrivateKey) error {
	digest, err := tx.Hash()
	if err != nil {
		return NewError(KindInternal, "sign_transaction", err)
	}
	sig, err := Sign(digest, sk)
	if err != nil {
		return NewError(KindInternal, "sign_transaction", err)
	}
	tx.ID = digest
	tx.Signature = sig
	return nil
}

// VerifySignature checks that Signature is a valid signature over the
// transaction's signing view by SenderPubKey, and that SenderPubKey hashes
// to Sender (C1 validate_address-adjacent check per §4.6 Validator rules).
func (tx *Transaction) VerifySignature() error {
	digest, err := tx.Hash()
	if err != nil {
		return NewError(KindMalformedEntity, "verify_transaction", err)
	}
	if digest != tx.ID {
		return NewError(KindMalformedEntity, "verify_transaction", fmt.Errorf("id mismatch: stored %s computed %s", tx.ID.Short(), digest.Short()))
	}
	if AddressFromPubKey(tx.SenderPubKey) != tx.Sender {
		return NewError(KindMalformedEntity, "verify_transaction", fmt.Errorf("sender does not match sender_pub_key"))
	}
	ok, err := Verify(digest, tx.Signature, tx.SenderPubKey)
	if err != nil {
		return NewError(KindInvalidSignature, "verify_transaction", err)
	}
	if !ok {
		return NewError(KindInvalidSignature, "verify_transaction", fmt.Errorf("signature does not verify"))
	}
	return nil
}

// NewChallengeID mints a random correlation id for PoRS challenge rounds.
func NewChallengeID() string {
	return uuid.NewString()
}
