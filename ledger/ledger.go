/*
Package ledger implements the two customer point ledgers.

PURPOSE:
  Every point balance change in the system flows through this package:
  gacha point debits for draws, reward point payouts, invite grants,
  and admin-facing add/use operations. A write does two things inside
  one store transaction: update the cached balance on the customer row
  and append an immutable PointTransaction carrying the new balance as
  a snapshot.

WHY A CACHED COUNTER?
  getBalance must be O(1); recomputing by summing history does not
  scale and, worse, a mix of both strategies drifts. The cached counter
  is the single source of truth and Reconcile verifies it against the
  history on demand - it reports drift, it never repairs it.

CONCURRENCY:
  Debit re-reads the balance under a row lock inside the transaction,
  so two concurrent debits serialize: both see a consistent balance and
  the later one fails with InsufficientPointsError if the floor check
  no longer passes. A balance can never go negative.

COMPOSITION:
  CreditTx and DebitTx operate on a core.Tx so callers that need a
  ledger write plus other writes in one atomic unit (the draw
  orchestrator, invite redemption) can compose them inside their own
  WithTx block.

SEE ALSO:
  - core/store.go: transactional contract
  - gacha/orchestrator.go: per-card debit + reward credit + result
  - invite/invite.go: two-party grant
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toreca/gacha-engine/core"
)

// Service exposes the ledger operations over a store.
type Service struct {
	Store core.Store
	Now   func() time.Time
}

// NewService creates a ledger service using wall-clock time.
func NewService(store core.Store) *Service {
	return &Service{Store: store, Now: time.Now}
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Credit adds amount to a customer's balance and appends the ledger
// entry. A missing customer is bootstrapped with zero balances first.
func (s *Service) Credit(ctx context.Context, kind core.LedgerKind, id core.CustomerID, amount core.Points, description, reference string) (*core.PointTransaction, error) {
	if err := validateWrite(kind, id, amount); err != nil {
		return nil, err
	}

	var out *core.PointTransaction
	err := s.Store.WithTx(ctx, func(tx core.Tx) error {
		var err error
		out, err = CreditTx(ctx, tx, kind, id, amount, description, reference, s.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Debit removes amount from a customer's balance. Fails with
// InsufficientPointsError when the balance cannot cover the amount;
// in that case nothing is written.
func (s *Service) Debit(ctx context.Context, kind core.LedgerKind, id core.CustomerID, amount core.Points, description, reference string) (*core.PointTransaction, error) {
	if err := validateWrite(kind, id, amount); err != nil {
		return nil, err
	}

	var out *core.PointTransaction
	err := s.Store.WithTx(ctx, func(tx core.Tx) error {
		var err error
		out, err = DebitTx(ctx, tx, kind, id, amount, description, reference, s.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Balance returns the cached balance. O(1); never recomputed from
// history.
func (s *Service) Balance(ctx context.Context, kind core.LedgerKind, id core.CustomerID) (core.Points, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown ledger kind %q", core.ErrValidation, kind)
	}
	c, err := s.Store.GetCustomer(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.Balance(kind), nil
}

// History returns a customer's ledger entries, newest first.
func (s *Service) History(ctx context.Context, kind core.LedgerKind, id core.CustomerID) ([]core.PointTransaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown ledger kind %q", core.ErrValidation, kind)
	}
	return s.Store.Transactions(ctx, id, kind)
}

// Reconcile verifies the ledger invariant for one customer and kind:
// cached balance == sum of all entry amounts == BalanceAfter of the
// newest entry. Drift is reported as an InvariantError and never
// silently corrected.
func (s *Service) Reconcile(ctx context.Context, kind core.LedgerKind, id core.CustomerID) error {
	return s.Store.WithTx(ctx, func(tx core.Tx) error {
		c, err := tx.GetCustomerForUpdate(ctx, id)
		if err != nil {
			return err
		}

		entries, err := tx.Transactions(ctx, id, kind)
		if err != nil {
			return err
		}

		var sum core.Points
		for _, e := range entries {
			sum += e.Amount
		}

		last := core.Points(0)
		if len(entries) > 0 {
			last = entries[0].BalanceAfter // newest first
		}

		cached := c.Balance(kind)
		if cached != sum || cached != last {
			return &core.InvariantError{
				CustomerID:   id,
				Kind:         kind,
				Cached:       cached,
				HistorySum:   sum,
				LastSnapshot: last,
			}
		}
		return nil
	})
}

// =============================================================================
// TX-LEVEL WRITES - Composable inside a caller's store transaction
// =============================================================================

// CreditTx applies a credit against a transactional view. The customer
// row is locked, its cached balance incremented, and the ledger entry
// appended with BalanceAfter = balance + amount.
func CreditTx(ctx context.Context, tx core.Tx, kind core.LedgerKind, id core.CustomerID, amount core.Points, description, reference string, now time.Time) (*core.PointTransaction, error) {
	if err := validateWrite(kind, id, amount); err != nil {
		return nil, err
	}

	c, err := tx.GetCustomerForUpdate(ctx, id)
	if core.IsNotFound(err) {
		// First credit bootstraps the customer at zero. A duplicate here
		// means a row exists but is hidden from reads, so the customer
		// was soft deleted; report that, not a creation conflict.
		c = &core.Customer{ID: id, CreatedAt: now, UpdatedAt: now}
		if err := tx.CreateCustomer(ctx, c); err != nil {
			if errors.Is(err, core.ErrDuplicateCustomer) {
				return nil, fmt.Errorf("%w: customer %s is deleted", core.ErrCustomerNotFound, id)
			}
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return apply(ctx, tx, c, kind, amount, description, reference, now)
}

// DebitTx applies a debit against a transactional view. The balance is
// re-read under the row lock and checked against the amount before
// anything is written.
func DebitTx(ctx context.Context, tx core.Tx, kind core.LedgerKind, id core.CustomerID, amount core.Points, description, reference string, now time.Time) (*core.PointTransaction, error) {
	if err := validateWrite(kind, id, amount); err != nil {
		return nil, err
	}

	c, err := tx.GetCustomerForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Balance(kind) < amount {
		return nil, &core.InsufficientPointsError{
			CustomerID: id,
			Kind:       kind,
			Available:  c.Balance(kind),
			Requested:  amount,
		}
	}

	return apply(ctx, tx, c, kind, -amount, description, reference, now)
}

// apply mutates the cached balance and appends the ledger entry. delta
// is already signed.
func apply(ctx context.Context, tx core.Tx, c *core.Customer, kind core.LedgerKind, delta core.Points, description, reference string, now time.Time) (*core.PointTransaction, error) {
	balance := c.Balance(kind) + delta
	c.SetBalance(kind, balance)
	c.UpdatedAt = now
	if err := tx.UpdateBalances(ctx, c); err != nil {
		return nil, err
	}

	entry := &core.PointTransaction{
		ID:           core.TransactionID(uuid.NewString()),
		CustomerID:   c.ID,
		Kind:         kind,
		Amount:       delta,
		Description:  description,
		Reference:    reference,
		BalanceAfter: balance,
		CreatedAt:    now,
	}
	if err := tx.AppendTransaction(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func validateWrite(kind core.LedgerKind, id core.CustomerID, amount core.Points) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown ledger kind %q", core.ErrValidation, kind)
	}
	if id == "" {
		return fmt.Errorf("%w: empty customer id", core.ErrValidation)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", core.ErrValidation, amount)
	}
	return nil
}
