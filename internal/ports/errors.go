package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters and core components wrap underlying failures with these so callers
// can branch on errors.Is without knowing the source layer.
var (
	// Risk admission errors. Never retried: they are a correct "no" decision.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoBudget is returned when the total configured budget is zero or
	// negative. The exact wording is load-bearing: the trader-creation
	// workflow surfaces it verbatim to the operator.
	ErrNoBudget = fmt.Errorf("%w: no money available", ErrInsufficientFunds)
	// ErrLeveragedShortfall is returned when requiredAmount * leverage exceeds
	// the available budget or the per-trader exposure cap.
	ErrLeveragedShortfall = fmt.Errorf("%w: insufficient funds considering leverage", ErrInsufficientFunds)

	ErrLeverageLimitExceeded = errors.New("leverage limit exceeded")
	ErrExposureLimitExceeded = errors.New("exposure limit exceeded")
	ErrTraderBlocked         = errors.New("trader is blocked by emergency stop")
	// ErrAdmissionDeclined is a soft "no": no hard limit was violated, but the
	// risk evaluation recommends against opening.
	ErrAdmissionDeclined = errors.New("position declined by risk evaluation")

	// Ledger errors.
	ErrDuplicateID   = errors.New("position identifier already exists")
	ErrNotFound      = errors.New("position not found")
	ErrAlreadyClosed = errors.New("position is already closed")

	// Recovery errors.
	ErrOrphanedPosition = errors.New("position open locally but absent on the exchange")

	// General errors.
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrConfigurationError = errors.New("invalid or missing configuration")
)

// OrderFailureReason classifies an exchange order failure.
type OrderFailureReason string

const (
	OrderRejected    OrderFailureReason = "rejected"
	OrderPartialFill OrderFailureReason = "partial-fill"
	OrderTimeout     OrderFailureReason = "timeout"
)

// ExchangeOrderError reports a failed (or partially filled) exchange order.
// Timeouts carry an uncertain outcome: the order may or may not exist on the
// exchange, so callers must reconcile rather than blindly retry.
type ExchangeOrderError struct {
	Reason OrderFailureReason
	Symbol string
	Err    error
}

func (e *ExchangeOrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange order %s for %s: %v", e.Reason, e.Symbol, e.Err)
	}
	return fmt.Sprintf("exchange order %s for %s", e.Reason, e.Symbol)
}

func (e *ExchangeOrderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
// Rejections and partial fills are definitive answers from the exchange.
func (e *ExchangeOrderError) Retryable() bool {
	return e.Reason == OrderTimeout
}

// NewOrderError builds an ExchangeOrderError wrapping err.
func NewOrderError(reason OrderFailureReason, symbol string, err error) *ExchangeOrderError {
	return &ExchangeOrderError{Reason: reason, Symbol: symbol, Err: err}
}

// IsRetryableOrderError reports whether err is an exchange order failure that
// may succeed on retry. Validation errors and definitive exchange answers
// return false.
func IsRetryableOrderError(err error) bool {
	var oe *ExchangeOrderError
	if errors.As(err, &oe) {
		return oe.Retryable()
	}
	return false
}
