/*
errors.go - Centralized error types for the gacha engine

PURPOSE:
  All sentinel and structured errors in one place. Other packages wrap
  these with additional context; callers match with errors.Is/As.

ERROR CATEGORIES:
  1. Business-rule failures - recovered locally, zero side effects
     (insufficient points/stock, daily limit, invite code checks)
  2. External failures - transient commerce errors, retried with backoff
  3. Fatal failures - failed compensation, ledger invariant violations

SEE ALSO:
  - ledger/: returns InsufficientPointsError, ErrLedgerInvariant
  - gacha/: returns InsufficientStockError, CompensationError
  - invite/: returns the ErrCode* family
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input, rejected before any
	// side effect.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientPoints is returned when a debit would drive a
	// balance below zero.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInsufficientStock is returned when a draw requests more cards
	// than the lineup has remaining.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrDailyLimitExceeded is returned when a draw would exceed the
	// gacha's per-day cap for the customer.
	ErrDailyLimitExceeded = errors.New("daily draw limit exceeded")

	// ErrCustomerNotFound is returned when a referenced customer doesn't
	// exist.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrDuplicateCustomer is returned when bootstrapping a customer id
	// that already exists.
	ErrDuplicateCustomer = errors.New("customer already exists")

	// ErrCatalogUnavailable is returned when the lineup cannot be
	// fetched; fatal for the enclosing draw call, never retried inside it.
	ErrCatalogUnavailable = errors.New("lineup unavailable")

	// ErrCompensationFailed is returned when undoing a partially
	// completed order workflow itself failed. Logged with full context
	// for manual reconciliation.
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrLedgerInvariant is returned when a ledger's history no longer
	// reconciles to its cached balance. Should be unreachable; never
	// silently corrected.
	ErrLedgerInvariant = errors.New("ledger invariant violation")

	// Invite code redemption failures.
	ErrCodeNotFound  = errors.New("invite code not found")
	ErrCodeInactive  = errors.New("invite code inactive")
	ErrCodeExpired   = errors.New("invite code expired")
	ErrCodeExhausted = errors.New("invite code exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError reports a balance shortage.
type InsufficientPointsError struct {
	CustomerID CustomerID
	Kind       LedgerKind
	Available  Points
	Requested  Points
}

func (e *InsufficientPointsError) Shortfall() Points {
	return e.Requested - e.Available
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: %dpt short (available %d, requested %d)",
		e.Shortfall(), e.Available, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// InsufficientStockError reports how many draws the lineup can still serve.
type InsufficientStockError struct {
	GachaID   string
	Requested int
	Remaining int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: requested %d, remaining %d", e.Requested, e.Remaining)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// DailyLimitError reports the cap that blocked a draw.
type DailyLimitError struct {
	GachaID    string
	CustomerID CustomerID
	Limit      int
	DrawnToday int
	Requested  int
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily draw limit exceeded: limit %d, drawn today %d, requested %d",
		e.Limit, e.DrawnToday, e.Requested)
}

func (e *DailyLimitError) Unwrap() error { return ErrDailyLimitExceeded }

// CompensationError records which undo step failed for which card.
type CompensationError struct {
	CardID  string
	OrderID string
	Step    string
	Cause   error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed at %q (card %s, order %s): %v",
		e.Step, e.CardID, e.OrderID, e.Cause)
}

func (e *CompensationError) Unwrap() error { return ErrCompensationFailed }

// InvariantError carries the reconciliation detail for a drifted ledger.
type InvariantError struct {
	CustomerID   CustomerID
	Kind         LedgerKind
	Cached       Points
	HistorySum   Points
	LastSnapshot Points
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violation for %s/%s: cached %d, history sum %d, last snapshot %d",
		e.CustomerID, e.Kind, e.Cached, e.HistorySum, e.LastSnapshot)
}

func (e *InvariantError) Unwrap() error { return ErrLedgerInvariant }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBusinessError reports whether err is a business-rule failure that
// produced zero side effects and should be returned to the caller as a
// structured result rather than a server error.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDailyLimitExceeded) ||
		errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrCodeInactive) ||
		errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrCodeExhausted) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrCodeNotFound)
}
