/*
store.go - Persistence interfaces for the gacha engine

PURPOSE:
  Defines the contract between domain logic and the backing store.
  Implementations cover four logical tables: customers,
  point_transactions, gacha_results, invite_codes.

APPEND-ONLY CONTRACT:
  point_transactions has no update or delete operation. The only write
  is AppendTransaction. Cached customer balances are updated through
  UpdateBalances, and only inside the same WithTx block that appends
  the matching ledger row.

ATOMICITY:
  WithTx executes fn against a transactional view. If fn returns an
  error the transaction rolls back; otherwise it commits. Concurrent
  debits for the same customer serialize on the customer row
  (GetCustomerForUpdate), so a stale balance can never pass the
  floor check.

IMPLEMENTATIONS:
  - store/sqlite: production store (BEGIN IMMEDIATE transactions)
  - store/memory: in-memory store for tests and dev

SEE ALSO:
  - ledger/: the only writer of balances and transactions
  - store/sqlite/sqlite.go, store/memory/memory.go
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// TX - Transactional view over all tables
// =============================================================================

// Tx is the set of operations available inside a store transaction.
// Store implementations also expose these directly for auto-commit
// single reads.
type Tx interface {
	// --- customers ---

	// GetCustomer loads a customer. Returns ErrCustomerNotFound if the
	// id is unknown or the customer is soft-deleted.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	// GetCustomerForUpdate loads a customer and locks its row for the
	// remainder of the enclosing transaction.
	GetCustomerForUpdate(ctx context.Context, id CustomerID) (*Customer, error)

	// CreateCustomer bootstraps a customer. Returns ErrDuplicateCustomer
	// if the id exists.
	CreateCustomer(ctx context.Context, c *Customer) error

	// UpdateBalances writes the cached balances for a customer.
	// Must only be called together with AppendTransaction.
	UpdateBalances(ctx context.Context, c *Customer) error

	// --- point_transactions (append-only) ---

	// AppendTransaction persists a ledger entry. This is the ONLY write
	// operation on the transaction log.
	AppendTransaction(ctx context.Context, tx *PointTransaction) error

	// Transactions returns a customer's entries for one ledger kind,
	// newest first.
	Transactions(ctx context.Context, id CustomerID, kind LedgerKind) ([]PointTransaction, error)

	// --- gacha_results ---

	// CreateResult records one won card.
	CreateResult(ctx context.Context, r *GachaResult) error

	// CountResultsInRange counts a customer's results for a gacha with
	// CreatedAt in [from, to).
	CountResultsInRange(ctx context.Context, id CustomerID, gachaID string, from, to time.Time) (int, error)

	// ResultsForCustomer returns a customer's results, newest first.
	ResultsForCustomer(ctx context.Context, id CustomerID) ([]GachaResult, error)

	// --- invite_codes ---

	// GetInviteCodeForUpdate loads a code and locks it for the remainder
	// of the enclosing transaction. Returns ErrCodeNotFound if unknown.
	GetInviteCodeForUpdate(ctx context.Context, code string) (*InviteCode, error)

	// CreateInviteCode stores a new code.
	CreateInviteCode(ctx context.Context, c *InviteCode) error

	// UpdateInviteCodeUses sets the use counter for a code. The counter
	// is monotonic; callers never decrease it.
	UpdateInviteCodeUses(ctx context.Context, code string, uses int) error
}

// =============================================================================
// STORE - Tx plus transaction control
// =============================================================================

// Store is the full persistence contract. Calling Tx methods directly
// on a Store runs them auto-commit.
type Store interface {
	Tx

	// WithTx executes fn within one atomic transaction.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
