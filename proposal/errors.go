package proposal

import (
	"errors"
	"fmt"
)

// Kind buckets workflow failures by how the caller should react.
type Kind uint8

const (
	// KindValidation rejects malformed input before any state is read.
	KindValidation Kind = iota + 1
	// KindPrecondition rejects an action the current state does not allow.
	KindPrecondition
	// KindConflict reports a lost optimistic-concurrency race. Re-read and
	// retry against the fresh document.
	KindConflict
)

// Error is a stable workflow failure with a fixed code and message. Callers
// match with errors.Is against the package sentinels.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidChangeType   = &Error{Code: "INVALID_CHANGE_TYPE", Kind: KindValidation, Message: "proposal: unknown change type"}
	ErrInvalidValue        = &Error{Code: "INVALID_VALUE", Kind: KindValidation, Message: "proposal: value kind is unknown"}
	ErrValueTooLarge       = &Error{Code: "VALUE_TOO_LARGE", Kind: KindValidation, Message: "proposal: serialized value exceeds the size limit"}
	ErrMissingField        = &Error{Code: "MISSING_FIELD", Kind: KindValidation, Message: "proposal: required field is empty"}
	ErrFieldTooLong        = &Error{Code: "FIELD_TOO_LONG", Kind: KindValidation, Message: "proposal: field exceeds its length limit"}
	ErrInvalidAction       = &Error{Code: "INVALID_ACTION", Kind: KindValidation, Message: "proposal: action must be approve, decline or modify"}
	ErrModifyRequiresValue = &Error{Code: "MODIFY_REQUIRES_VALUE", Kind: KindValidation, Message: "proposal: modify requires a replacement value"}

	ErrNotFound       = &Error{Code: "NOT_FOUND", Kind: KindPrecondition, Message: "proposal: not found"}
	ErrRateLimited    = &Error{Code: "RATE_LIMITED", Kind: KindPrecondition, Message: "proposal: proposer exceeded the hourly proposal limit"}
	ErrCooldownActive = &Error{Code: "COOLDOWN_ACTIVE", Kind: KindPrecondition, Message: "proposal: re-proposal cooldown for this field is still running"}
	ErrPendingExists  = &Error{Code: "PENDING_EXISTS", Kind: KindPrecondition, Message: "proposal: an undecided proposal for this field already exists"}
	ErrBadChain       = &Error{Code: "BAD_CHAIN", Kind: KindPrecondition, Message: "proposal: a counter-proposal must reference a declined or modified proposal"}
	ErrNotGuardian    = &Error{Code: "NOT_GUARDIAN", Kind: KindPrecondition, Message: "proposal: actor is not a guardian of this child"}

	ErrNotPending      = &Error{Code: "NOT_PENDING", Kind: KindPrecondition, Message: "proposal: only a pending proposal accepts a response"}
	ErrProposalExpired = &Error{Code: "PROPOSAL_EXPIRED", Kind: KindPrecondition, Message: "proposal: the response window has elapsed"}
	ErrSelfResponse    = &Error{Code: "SELF_RESPONSE", Kind: KindPrecondition, Message: "proposal: the proposer cannot respond to their own proposal"}

	ErrNotAwaitingSignatures = &Error{Code: "NOT_AWAITING_SIGNATURES", Kind: KindPrecondition, Message: "proposal: proposal is not collecting signatures"}
	ErrNoSignatureDeadline   = &Error{Code: "NO_SIGNATURE_DEADLINE", Kind: KindPrecondition, Message: "proposal: signature deadline is missing"}
	ErrDeadlinePassed        = &Error{Code: "DEADLINE_PASSED", Kind: KindPrecondition, Message: "proposal: the signature deadline has elapsed"}
	ErrSignerNotInList       = &Error{Code: "SIGNER_NOT_IN_LIST", Kind: KindPrecondition, Message: "proposal: signer is not on the signature roster"}
	ErrAlreadySigned         = &Error{Code: "ALREADY_SIGNED", Kind: KindPrecondition, Message: "proposal: signer has already signed"}
	ErrParentsMustSignFirst  = &Error{Code: "PARENTS_MUST_SIGN_FIRST", Kind: KindPrecondition, Message: "proposal: the child signs after every parent has signed"}

	ErrConcurrentModification = &Error{Code: "CONCURRENT_MODIFICATION", Kind: KindConflict, Message: "proposal: document changed concurrently, re-read and retry"}
	ErrActiveExists           = &Error{Code: "ACTIVE_EXISTS", Kind: KindConflict, Message: "proposal: another proposal holds the active slot for this field"}
)

// InfrastructureError wraps a collaborator failure without translating it.
// The wrapped error stays reachable through errors.Is and errors.As.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("proposal: %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func infraErr(op string, err error) error {
	return &InfrastructureError{Op: op, Err: err}
}

// CodeOf extracts the stable failure code, or "" for non-workflow errors.
func CodeOf(err error) string {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Code
	}
	return ""
}

// IsRetryable reports whether the caller should re-read and try again.
func IsRetryable(err error) bool {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind == KindConflict
	}
	return false
}
