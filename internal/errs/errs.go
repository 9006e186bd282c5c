// Package errs defines the failure kinds returned by the ledger and loan engine.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to react to it.
type Kind uint8

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindInvalidInput
	KindConflict
	KindLimitExceeded
	KindInsufficientFunds
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindUnauthenticated:   "unauthenticated",
	KindNotFound:          "not_found",
	KindInvalidInput:      "invalid_input",
	KindConflict:          "conflict",
	KindLimitExceeded:     "limit_exceeded",
	KindInsufficientFunds: "insufficient_funds",
	KindUnavailable:       "unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a user-visible failure carrying its kind, a stable code and a
// human-readable reason. Err holds the underlying cause, if any.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New creates an Error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so that wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of sentinel that records cause.
func Wrap(sentinel *Error, cause error) *Error {
	cp := *sentinel
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of sentinel with a more specific reason.
func WithMessage(sentinel *Error, message string) *Error {
	cp := *sentinel
	cp.Message = message
	return &cp
}

// KindOf reports the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

var (
	ErrUnauthenticated    = New(KindUnauthenticated, "unauthenticated", "not authenticated")
	ErrInvalidCredentials = New(KindUnauthenticated, "invalid_credentials", "invalid document or password")

	ErrUserNotFound        = New(KindNotFound, "user_not_found", "user not found")
	ErrAccountNotFound     = New(KindNotFound, "account_not_found", "account not found")
	ErrLoanNotFound        = New(KindNotFound, "loan_not_found", "loan not found")
	ErrInstallmentNotFound = New(KindNotFound, "installment_not_found", "installment not found")
	ErrDestinationNotFound = New(KindNotFound, "destination_not_found", "destination key (document or account id) not found")
	ErrInvalidMerchant     = New(KindNotFound, "invalid_merchant", "invalid utility merchant id")

	ErrInvalidInput      = New(KindInvalidInput, "invalid_input", "invalid input")
	ErrInvalidAmount     = New(KindInvalidInput, "invalid_amount", "amount must be a positive number of cents")
	ErrInvalidTerm       = New(KindInvalidInput, "invalid_term", "term must be a positive number of months")
	ErrInvalidIdentifier = New(KindInvalidInput, "invalid_identifier", "malformed identifier")

	ErrActiveLoanExists  = New(KindConflict, "active_loan_exists", "account already has an active loan")
	ErrSelfTransfer      = New(KindConflict, "self_transfer", "cannot transfer to the same account")
	ErrAlreadyPaid       = New(KindConflict, "already_paid", "installment already paid")
	ErrAccountMismatch   = New(KindConflict, "account_mismatch", "account does not own this resource")
	ErrLoanNotActive     = New(KindConflict, "loan_not_active", "loan is not in a state that allows this operation")
	ErrAccountBlocked    = New(KindConflict, "account_blocked", "account is blocked")
	ErrDuplicateDocument = New(KindConflict, "duplicate_document", "document already registered")

	ErrLimitExceeded     = New(KindLimitExceeded, "limit_exceeded", "requested principal exceeds the income-based limit")
	ErrInsufficientFunds = New(KindInsufficientFunds, "insufficient_funds", "insufficient balance")

	ErrUnavailable = New(KindUnavailable, "unavailable", "service temporarily unavailable")
)
