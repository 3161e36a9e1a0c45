package core

import (
	"errors"
	"fmt"

	"porwchain-network/pkg/utils"
)

// Kind classifies a node-level failure, per the error kind list.
type Kind string

const (
	KindMalformedEntity   Kind = "malformed_entity"
	KindInvalidSignature  Kind = "invalid_signature"
	KindInvalidProof      Kind = "invalid_proof"
	KindDuplicate         Kind = "duplicate"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindPolicyViolation   Kind = "policy_violation"
	KindPeerMisbehavior   Kind = "peer_misbehavior"
	KindTimeout           Kind = "timeout"
	KindStoreIO           Kind = "store_io"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// NodeError is the node's structured error type: a Kind for programmatic
// dispatch, the operation that failed, and the wrapped cause.
type NodeError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *NodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// NewError builds a NodeError, routing the cause through the same
// utils.Wrap helper the rest of the tree uses to prefix errors with an
// operation name.
func NewError(kind Kind, op string, err error) *NodeError {
	return &NodeError{Kind: kind, Op: op, Err: utils.Wrap(err, op)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *NodeError, otherwise returns KindInternal.
func KindOf(err error) Kind {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return KindInternal
}
