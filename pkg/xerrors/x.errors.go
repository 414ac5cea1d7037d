package xerrors

import "errors"

import "github.com/jackc/pgx/v5/pgconn"

func ParsePGErrorCode(err error) string {
	if pgErr, ok := err.(*pgconn.PgError); ok {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
)

// Ledger
var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountNotActive  = errors.New("account not active")
	ErrStorage           = errors.New("storage error")
)

// Pricing / multi-leg operations
var (
	ErrQuoteUnavailable  = errors.New("quote unavailable")
	ErrUnsupportedSymbol = errors.New("unsupported symbol")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrConversionFailed  = errors.New("conversion failed")
)

// LegError reports a multi-leg operation whose credit leg failed after the
// debit had committed. ReversalNo points at the compensating reversal entry;
// it is empty only when compensation itself exhausted its retries.
type LegError struct {
	Kind         error // ErrTransferFailed or ErrConversionFailed
	FailedLeg    string
	Cause        error
	ReversalTxID int64
	ReversalNo   string
}

func (e *LegError) Error() string {
	msg := e.Kind.Error() + ": " + e.FailedLeg + " leg failed: " + e.Cause.Error()
	if e.ReversalNo != "" {
		msg += " (reversed by " + e.ReversalNo + ")"
	}
	return msg
}

func (e *LegError) Unwrap() error { return e.Kind }
