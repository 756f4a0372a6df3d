/*
Package sqlite provides the SQLite-backed implementation of core.Store.

PURPOSE:
  Persists the four logical tables of the engine. The same patterns
  apply to PostgreSQL in production - only minor dialect differences
  (SELECT ... FOR UPDATE instead of immediate transactions).

KEY TABLES:
  customers:          cached point balances, bootstrapped at zero
  point_transactions: immutable ledger (append-only; no UPDATE/DELETE)
  gacha_results:      one row per won card
  invite_codes:       referral tokens with monotonic use counters

CONCURRENCY:
  The connection opens with _txlock=immediate, so WithTx takes the
  write lock up front. Two concurrent debits therefore serialize at
  transaction start and each one re-reads a fresh balance - SQLite's
  equivalent of a row-level lock on the customer.

WAL MODE:
  Opened with WAL so readers don't block behind the single writer.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement targets point_transactions anywhere in
  this package.

USAGE:
  store, err := sqlite.New("./data/gacha.db")  // ":memory:" for tests

SEE ALSO:
  - core/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/toreca/gacha-engine/core"
)

// Store implements core.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ core.Store = (*Store)(nil)

// New opens (and migrates) a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under write
	// contention; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		gacha_points INTEGER NOT NULL DEFAULT 0,
		reward_points INTEGER NOT NULL DEFAULT 0,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only ledgers. rowid preserves append order for entries
	-- written in the same instant.
	CREATE TABLE IF NOT EXISTS point_transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		ledger_kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		description TEXT,
		reference TEXT,
		balance_after INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer_kind
		ON point_transactions(customer_id, ledger_kind);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON point_transactions(reference) WHERE reference IS NOT NULL;

	CREATE TABLE IF NOT EXISTS gacha_results (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		gacha_id TEXT NOT NULL,
		card_id TEXT NOT NULL,
		order_id TEXT,
		status TEXT NOT NULL,
		selection_deadline TEXT NOT NULL,
		reward_tx_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: the daily draw-limit count.
	CREATE INDEX IF NOT EXISTS idx_results_customer_gacha_date
		ON gacha_results(customer_id, gacha_id, created_at);

	CREATE TABLE IF NOT EXISTS invite_codes (
		code TEXT PRIMARY KEY,
		owner_customer_id TEXT NOT NULL,
		max_uses INTEGER NOT NULL,
		current_uses INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invite_codes_owner
		ON invite_codes(owner_customer_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION CONTROL
// =============================================================================

// dbtx is the subset of *sql.DB / *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements core.Tx against either the bare connection
// (auto-commit) or an open *sql.Tx.
type queries struct {
	db dbtx
}

// WithTx runs fn inside one immediate transaction.
func (s *Store) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Auto-commit forwarding: Store itself satisfies core.Tx.

func (s *Store) GetCustomer(ctx context.Context, id core.CustomerID) (*core.Customer, error) {
	return (&queries{db: s.db}).GetCustomer(ctx, id)
}
func (s *Store) GetCustomerForUpdate(ctx context.Context, id core.CustomerID) (*core.Customer, error) {
	return (&queries{db: s.db}).GetCustomerForUpdate(ctx, id)
}
func (s *Store) CreateCustomer(ctx context.Context, c *core.Customer) error {
	return (&queries{db: s.db}).CreateCustomer(ctx, c)
}
func (s *Store) UpdateBalances(ctx context.Context, c *core.Customer) error {
	return (&queries{db: s.db}).UpdateBalances(ctx, c)
}
func (s *Store) AppendTransaction(ctx context.Context, tx *core.PointTransaction) error {
	return (&queries{db: s.db}).AppendTransaction(ctx, tx)
}
func (s *Store) Transactions(ctx context.Context, id core.CustomerID, kind core.LedgerKind) ([]core.PointTransaction, error) {
	return (&queries{db: s.db}).Transactions(ctx, id, kind)
}
func (s *Store) CreateResult(ctx context.Context, r *core.GachaResult) error {
	return (&queries{db: s.db}).CreateResult(ctx, r)
}
func (s *Store) CountResultsInRange(ctx context.Context, id core.CustomerID, gachaID string, from, to time.Time) (int, error) {
	return (&queries{db: s.db}).CountResultsInRange(ctx, id, gachaID, from, to)
}
func (s *Store) ResultsForCustomer(ctx context.Context, id core.CustomerID) ([]core.GachaResult, error) {
	return (&queries{db: s.db}).ResultsForCustomer(ctx, id)
}
func (s *Store) GetInviteCodeForUpdate(ctx context.Context, code string) (*core.InviteCode, error) {
	return (&queries{db: s.db}).GetInviteCodeForUpdate(ctx, code)
}
func (s *Store) CreateInviteCode(ctx context.Context, c *core.InviteCode) error {
	return (&queries{db: s.db}).CreateInviteCode(ctx, c)
}
func (s *Store) UpdateInviteCodeUses(ctx context.Context, code string, uses int) error {
	return (&queries{db: s.db}).UpdateInviteCodeUses(ctx, code, uses)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (q *queries) GetCustomer(ctx context.Context, id core.CustomerID) (*core.Customer, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, gacha_points, reward_points, is_deleted, created_at, updated_at
		FROM customers WHERE id = ?`, id)
	return scanCustomer(row)
}

// GetCustomerForUpdate is GetCustomer under SQLite: the immediate
// transaction already holds the write lock, which is this store's
// row-level lock equivalent.
func (q *queries) GetCustomerForUpdate(ctx context.Context, id core.CustomerID) (*core.Customer, error) {
	return q.GetCustomer(ctx, id)
}

func (q *queries) CreateCustomer(ctx context.Context, c *core.Customer) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO customers (id, gacha_points, reward_points, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, int64(c.GachaPoints), int64(c.RewardPoints), c.IsDeleted,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if isUniqueConstraintError(err) {
		return core.ErrDuplicateCustomer
	}
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (q *queries) UpdateBalances(ctx context.Context, c *core.Customer) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE customers SET gacha_points = ?, reward_points = ?, updated_at = ?
		WHERE id = ?`,
		int64(c.GachaPoints), int64(c.RewardPoints), formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCustomerNotFound
	}
	return nil
}

func scanCustomer(row *sql.Row) (*core.Customer, error) {
	var c core.Customer
	var gacha, reward int64
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &gacha, &reward, &c.IsDeleted, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}
	if c.IsDeleted {
		return nil, core.ErrCustomerNotFound
	}
	c.GachaPoints = core.Points(gacha)
	c.RewardPoints = core.Points(reward)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// =============================================================================
// POINT TRANSACTIONS (append-only)
// =============================================================================

func (q *queries) AppendTransaction(ctx context.Context, tx *core.PointTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO point_transactions
		(id, customer_id, ledger_kind, amount, description, reference, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CustomerID, tx.Kind, int64(tx.Amount), tx.Description,
		nullString(tx.Reference), int64(tx.BalanceAfter), formatTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (q *queries) Transactions(ctx context.Context, id core.CustomerID, kind core.LedgerKind) ([]core.PointTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, customer_id, ledger_kind, amount, description, reference, balance_after, created_at
		FROM point_transactions
		WHERE customer_id = ? AND ledger_kind = ?
		ORDER BY rowid DESC`, id, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var out []core.PointTransaction
	for rows.Next() {
		var tx core.PointTransaction
		var amount, balance int64
		var reference sql.NullString
		var createdAt string
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.Kind, &amount,
			&tx.Description, &reference, &balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = core.Points(amount)
		tx.BalanceAfter = core.Points(balance)
		tx.Reference = reference.String
		tx.CreatedAt = parseTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// GACHA RESULTS
// =============================================================================

func (q *queries) CreateResult(ctx context.Context, r *core.GachaResult) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO gacha_results
		(id, customer_id, gacha_id, card_id, order_id, status, selection_deadline, reward_tx_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CustomerID, r.GachaID, r.CardID, nullString(r.OrderID), r.Status,
		formatTime(r.SelectionDeadline), nullString(string(r.RewardTxID)), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create gacha result: %w", err)
	}
	return nil
}

func (q *queries) CountResultsInRange(ctx context.Context, id core.CustomerID, gachaID string, from, to time.Time) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM gacha_results
		WHERE customer_id = ? AND gacha_id = ? AND created_at >= ? AND created_at < ?`,
		id, gachaID, formatTime(from), formatTime(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count gacha results: %w", err)
	}
	return n, nil
}

func (q *queries) ResultsForCustomer(ctx context.Context, id core.CustomerID) ([]core.GachaResult, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, customer_id, gacha_id, card_id, order_id, status, selection_deadline, reward_tx_id, created_at
		FROM gacha_results WHERE customer_id = ?
		ORDER BY rowid DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load gacha results: %w", err)
	}
	defer rows.Close()

	var out []core.GachaResult
	for rows.Next() {
		var r core.GachaResult
		var orderID, rewardTxID sql.NullString
		var deadline, createdAt string
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.GachaID, &r.CardID,
			&orderID, &r.Status, &deadline, &rewardTxID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan gacha result: %w", err)
		}
		r.OrderID = orderID.String
		r.RewardTxID = core.TransactionID(rewardTxID.String)
		r.SelectionDeadline = parseTime(deadline)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// INVITE CODES
// =============================================================================

func (q *queries) GetInviteCodeForUpdate(ctx context.Context, code string) (*core.InviteCode, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT code, owner_customer_id, max_uses, current_uses, is_active, expires_at, created_at
		FROM invite_codes WHERE code = ?`, code)

	var c core.InviteCode
	var expiresAt sql.NullString
	var createdAt string
	err := row.Scan(&c.Code, &c.OwnerCustomerID, &c.MaxUses, &c.CurrentUses,
		&c.IsActive, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invite code: %w", err)
	}
	if expiresAt.Valid {
		c.ExpiresAt = parseTime(expiresAt.String)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (q *queries) CreateInviteCode(ctx context.Context, c *core.InviteCode) error {
	var expiresAt any
	if !c.ExpiresAt.IsZero() {
		expiresAt = formatTime(c.ExpiresAt)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO invite_codes (code, owner_customer_id, max_uses, current_uses, is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Code, c.OwnerCustomerID, c.MaxUses, c.CurrentUses, c.IsActive,
		expiresAt, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create invite code: %w", err)
	}
	return nil
}

func (q *queries) UpdateInviteCodeUses(ctx context.Context, code string, uses int) error {
	// The counter is monotonic; refuse writes that would not increase it.
	res, err := q.db.ExecContext(ctx, `
		UPDATE invite_codes SET current_uses = ? WHERE code = ? AND current_uses < ?`,
		uses, code, uses)
	if err != nil {
		return fmt.Errorf("failed to update invite code uses: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows is either a missing code or a non-increasing write;
		// tell the two apart so callers see the right failure.
		var exists int
		err := q.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM invite_codes WHERE code = ?`, code).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to update invite code uses: %w", err)
		}
		if exists == 0 {
			return core.ErrCodeNotFound
		}
		return fmt.Errorf("%w: invite code use counter must increase", core.ErrValidation)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is RFC3339 with fixed-width nanoseconds so stored strings
// compare lexicographically in SQL range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
