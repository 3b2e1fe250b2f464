package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Error kinds. Every domain error wraps exactly one of these.
// Compare with errors.Is() or the Is* predicates below.
// ──────────────────────────────────────────────────────────────────────────────

var (
	// ErrNotFound marks an unknown challenge, trade, or plan.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed input (bad quantity, side, symbol, status).
	ErrValidation = errors.New("validation failed")

	// ErrState marks an operation attempted in the wrong lifecycle state.
	ErrState = errors.New("invalid state")

	// ErrForbidden marks an ownership mismatch.
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientFunds marks a BUY whose cost exceeds current equity.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExternalService marks a failure of a collaborator outside the ledger
	// (price oracle, lock backend).
	ErrExternalService = errors.New("external service failure")
)

// Not found
var (
	ErrChallengeNotFound = fmt.Errorf("challenge %w", ErrNotFound)
	ErrTradeNotFound     = fmt.Errorf("trade %w", ErrNotFound)
	ErrPlanNotFound      = fmt.Errorf("plan %w", ErrNotFound)
)

// Validation
var (
	ErrInvalidQty        = fmt.Errorf("%w: qty must be > 0", ErrValidation)
	ErrInvalidSide       = fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	ErrInvalidSymbol     = fmt.Errorf("%w: symbol is required", ErrValidation)
	ErrUnsupportedMarket = fmt.Errorf("%w: unsupported market", ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: status must be active, failed, passed or pending", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: amount is not a valid decimal", ErrValidation)
	ErrInvalidInterval   = fmt.Errorf("%w: interval must be 1m, 5m, 15m, 30m, 1h or 1d", ErrValidation)
	ErrInvalidRange      = fmt.Errorf("%w: range must be 1d, 5d, 1mo or 3mo", ErrValidation)
	ErrInvalidWindow     = fmt.Errorf("%w: windows must satisfy 1 <= fast < slow <= 200", ErrValidation)
	ErrNotEnoughHistory  = fmt.Errorf("%w: not enough history for the requested windows", ErrValidation)
)

// State
var (
	// ErrChallengeNotActive is returned when a trade or upgrade is attempted on
	// a challenge that is failed, passed, or pending.
	ErrChallengeNotActive = fmt.Errorf("%w: challenge is not active", ErrState)

	// ErrTradeClosed is returned when closing a trade that is already CLOSED.
	ErrTradeClosed = fmt.Errorf("%w: trade already closed", ErrState)

	// ErrPlanNotSuperior is returned by Upgrade when the target plan is not
	// strictly more expensive than the current one.
	ErrPlanNotSuperior = fmt.Errorf("%w: new plan must be superior to current plan", ErrState)
)

// Auth
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid is returned when a token cannot be parsed or its
	// signature does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrNotOwner is returned when the caller does not own the challenge a
	// trade belongs to.
	ErrNotOwner = fmt.Errorf("%w: challenge belongs to another user", ErrForbidden)
)

// External
var (
	// ErrPriceUnavailable is returned when the oracle cannot produce a price.
	ErrPriceUnavailable = fmt.Errorf("price unavailable: %w", ErrExternalService)

	// ErrLockUnavailable is returned when the per-challenge lock cannot be
	// obtained before the context expires.
	ErrLockUnavailable = fmt.Errorf("challenge lock unavailable: %w", ErrExternalService)
)

// InsufficientFundsError carries the figures behind a rejected BUY.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Is lets errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err (or any error in its chain) is a domain
// "not found" error. Use it to translate to HTTP 404.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation returns true for malformed-input errors.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsState returns true for lifecycle conflicts (not active, already closed,
// plan not superior).
func IsState(err error) bool { return errors.Is(err, ErrState) }

// IsForbidden returns true for ownership mismatches.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsInsufficientFunds returns true when a BUY was rejected for lack of equity.
func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }

// IsExternal returns true for price oracle and lock backend failures.
func IsExternal(err error) bool { return errors.Is(err, ErrExternalService) }

// IsAuthError returns true for authentication errors.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenInvalid)
}
