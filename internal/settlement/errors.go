package settlement

import (
	"errors"
	"fmt"

	"escrow-settlement-go/internal/store"
)

// Error categories. Every error returned by the settlement services matches
// exactly one of them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrConcurrentConflict = errors.New("concurrent modification")
	ErrProvider           = errors.New("payout provider error")
	ErrIntegrityViolation = errors.New("ledger integrity violation")
)

// Error is a specific failure within one of the categories above.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.kind }

var (
	ErrForbidden                    = &Error{kind: ErrValidation, msg: "caller is not a party allowed to perform this action"}
	ErrInvalidTransition            = &Error{kind: ErrValidation, msg: "invalid status transition"}
	ErrTooManyActiveWithdrawals     = &Error{kind: ErrValidation, msg: "too many withdrawals in progress"}
	ErrBelowMinimumPayout           = &Error{kind: ErrValidation, msg: "payout after fees is below the minimum"}
	ErrEscrowNotFunded              = &Error{kind: ErrInsufficientFunds, msg: "escrow not funded"}
	ErrInsufficientContractBalance  = &Error{kind: ErrInsufficientFunds, msg: "insufficient contract balance"}
	ErrInsufficientAvailableBalance = &Error{kind: ErrInsufficientFunds, msg: "insufficient available balance"}
	ErrConcurrentBalanceConflict    = &Error{kind: ErrConcurrentConflict, msg: "balance changed by a concurrent operation"}
	ErrInsufficientPendingBalance   = &Error{kind: ErrIntegrityViolation, msg: "insufficient pending balance"}
)

func failure(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
}

// fromStore maps a store error that was not handled more specifically by the caller.
func fromStore(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, store.ErrGuardFailed):
		return fmt.Errorf("%w: %w", ErrConcurrentBalanceConflict, err)
	case errors.Is(err, store.ErrStateConflict), errors.Is(err, store.ErrDuplicateOrder):
		return fmt.Errorf("%w: unable to %s: %w", ErrConcurrentConflict, action, err)
	default:
		return fmt.Errorf("unable to %s: %w", action, err)
	}
}

// Outcome labels an error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConcurrentConflict):
		return "conflict"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	case errors.Is(err, ErrIntegrityViolation):
		return "integrity_violation"
	default:
		return "error"
	}
}
