package contract

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrDuplicateSignature  = errors.New("duplicate signature")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrOutOfOrderSignature = errors.New("out of order signature")
	ErrIntegrity           = errors.New("document integrity error")
	ErrSettlement          = errors.New("settlement error")
	ErrQuorumUnsatisfiable = errors.New("quorum unsatisfiable")

	// ErrUnavailable marks collaborator failures (storage, lock, ledger connection).
	// It is the only retryable class
	ErrUnavailable = errors.New("service unavailable")
)

var (
	ErrDuplicateParty = fmt.Errorf("%w: duplicate party", ErrValidation)
	ErrUnknownParty   = fmt.Errorf("%w: unknown party", ErrNotFound)
)

type SettlementReason string

const (
	SettlementReasonTimeout  SettlementReason = "SettlementTimeout"
	SettlementReasonRejected SettlementReason = "SettlementRejected"
	SettlementReasonSubmit   SettlementReason = "SettlementSubmitFailed"
)

// SettlementError carries the sub-reason of a failed settlement
type SettlementError struct {
	Reason SettlementReason
	Detail string
}

func (e *SettlementError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrSettlement, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSettlement, e.Reason, e.Detail)
}

func (e *SettlementError) Is(target error) bool {
	return target == ErrSettlement
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Kind returns the taxonomy entry err belongs to, nil for unclassified errors
func Kind(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrNotFound,
		ErrInvalidTransition,
		ErrDuplicateSignature,
		ErrInvalidSignature,
		ErrOutOfOrderSignature,
		ErrIntegrity,
		ErrSettlement,
		ErrQuorumUnsatisfiable,
		ErrUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
