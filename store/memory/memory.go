// Package memory provides an in-memory core.Store for tests and dev.
//
// WithTx is simulated with a deep snapshot taken before fn runs and a
// restore on error. One mutex guards the whole store, so transactions
// are fully serialized - the same linearization the SQLite store gets
// from BEGIN IMMEDIATE.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toreca/gacha-engine/core"
)

type txKey struct {
	Customer core.CustomerID
	Kind     core.LedgerKind
}

// Store is the in-memory implementation of core.Store.
type Store struct {
	mu           sync.Mutex
	customers    map[core.CustomerID]core.Customer
	transactions map[txKey][]core.PointTransaction
	results      map[core.CustomerID][]core.GachaResult
	codes        map[string]core.InviteCode
}

var _ core.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		customers:    make(map[core.CustomerID]core.Customer),
		transactions: make(map[txKey][]core.PointTransaction),
		results:      make(map[core.CustomerID][]core.GachaResult),
		codes:        make(map[string]core.InviteCode),
	}
}

// =============================================================================
// TRANSACTION CONTROL
// =============================================================================

// WithTx runs fn under the store mutex. On error the pre-fn snapshot is
// restored, giving all-or-nothing semantics.
func (s *Store) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	customers    map[core.CustomerID]core.Customer
	transactions map[txKey][]core.PointTransaction
	results      map[core.CustomerID][]core.GachaResult
	codes        map[string]core.InviteCode
}

func (s *Store) snapshot() snapshotState {
	snap := snapshotState{
		customers:    make(map[core.CustomerID]core.Customer, len(s.customers)),
		transactions: make(map[txKey][]core.PointTransaction, len(s.transactions)),
		results:      make(map[core.CustomerID][]core.GachaResult, len(s.results)),
		codes:        make(map[string]core.InviteCode, len(s.codes)),
	}
	for k, v := range s.customers {
		snap.customers[k] = v
	}
	for k, v := range s.transactions {
		snap.transactions[k] = append([]core.PointTransaction(nil), v...)
	}
	for k, v := range s.results {
		snap.results[k] = append([]core.GachaResult(nil), v...)
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshotState) {
	s.customers = snap.customers
	s.transactions = snap.transactions
	s.results = snap.results
	s.codes = snap.codes
}

// txView dispatches Tx operations to the store while the WithTx mutex
// is held.
type txView struct {
	store *Store
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) getCustomerLocked(id core.CustomerID) (*core.Customer, error) {
	c, ok := s.customers[id]
	if !ok || c.IsDeleted {
		return nil, core.ErrCustomerNotFound
	}
	out := c
	return &out, nil
}

func (s *Store) GetCustomer(_ context.Context, id core.CustomerID) (*core.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCustomerLocked(id)
}

func (s *Store) GetCustomerForUpdate(ctx context.Context, id core.CustomerID) (*core.Customer, error) {
	return s.GetCustomer(ctx, id)
}

func (s *Store) CreateCustomer(_ context.Context, c *core.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCustomerLocked(c)
}

func (s *Store) createCustomerLocked(c *core.Customer) error {
	if _, ok := s.customers[c.ID]; ok {
		return core.ErrDuplicateCustomer
	}
	s.customers[c.ID] = *c
	return nil
}

func (s *Store) UpdateBalances(_ context.Context, c *core.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBalancesLocked(c)
}

func (s *Store) updateBalancesLocked(c *core.Customer) error {
	if _, ok := s.customers[c.ID]; !ok {
		return core.ErrCustomerNotFound
	}
	s.customers[c.ID] = *c
	return nil
}

func (tv *txView) GetCustomer(_ context.Context, id core.CustomerID) (*core.Customer, error) {
	return tv.store.getCustomerLocked(id)
}

func (tv *txView) GetCustomerForUpdate(_ context.Context, id core.CustomerID) (*core.Customer, error) {
	return tv.store.getCustomerLocked(id)
}

func (tv *txView) CreateCustomer(_ context.Context, c *core.Customer) error {
	return tv.store.createCustomerLocked(c)
}

func (tv *txView) UpdateBalances(_ context.Context, c *core.Customer) error {
	return tv.store.updateBalancesLocked(c)
}

// =============================================================================
// POINT TRANSACTIONS (append-only)
// =============================================================================

func (s *Store) appendTransactionLocked(tx *core.PointTransaction) error {
	k := txKey{Customer: tx.CustomerID, Kind: tx.Kind}
	s.transactions[k] = append(s.transactions[k], *tx)
	return nil
}

func (s *Store) transactionsLocked(id core.CustomerID, kind core.LedgerKind) ([]core.PointTransaction, error) {
	// Appends arrive in ledger order, so newest-first is just the
	// reverse of the slice. Sorting by CreatedAt would reorder entries
	// written in the same instant.
	src := s.transactions[txKey{Customer: id, Kind: kind}]
	out := make([]core.PointTransaction, len(src))
	for i, tx := range src {
		out[len(src)-1-i] = tx
	}
	return out, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx *core.PointTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTransactionLocked(tx)
}

func (s *Store) Transactions(_ context.Context, id core.CustomerID, kind core.LedgerKind) ([]core.PointTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactionsLocked(id, kind)
}

func (tv *txView) AppendTransaction(_ context.Context, tx *core.PointTransaction) error {
	return tv.store.appendTransactionLocked(tx)
}

func (tv *txView) Transactions(_ context.Context, id core.CustomerID, kind core.LedgerKind) ([]core.PointTransaction, error) {
	return tv.store.transactionsLocked(id, kind)
}

// =============================================================================
// GACHA RESULTS
// =============================================================================

func (s *Store) createResultLocked(r *core.GachaResult) error {
	s.results[r.CustomerID] = append(s.results[r.CustomerID], *r)
	return nil
}

func (s *Store) countResultsLocked(id core.CustomerID, gachaID string, from, to time.Time) (int, error) {
	n := 0
	for _, r := range s.results[id] {
		if r.GachaID != gachaID {
			continue
		}
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) resultsLocked(id core.CustomerID) ([]core.GachaResult, error) {
	src := s.results[id]
	out := make([]core.GachaResult, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateResult(_ context.Context, r *core.GachaResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createResultLocked(r)
}

func (s *Store) CountResultsInRange(_ context.Context, id core.CustomerID, gachaID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countResultsLocked(id, gachaID, from, to)
}

func (s *Store) ResultsForCustomer(_ context.Context, id core.CustomerID) ([]core.GachaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsLocked(id)
}

func (tv *txView) CreateResult(_ context.Context, r *core.GachaResult) error {
	return tv.store.createResultLocked(r)
}

func (tv *txView) CountResultsInRange(_ context.Context, id core.CustomerID, gachaID string, from, to time.Time) (int, error) {
	return tv.store.countResultsLocked(id, gachaID, from, to)
}

func (tv *txView) ResultsForCustomer(_ context.Context, id core.CustomerID) ([]core.GachaResult, error) {
	return tv.store.resultsLocked(id)
}

// =============================================================================
// INVITE CODES
// =============================================================================

func (s *Store) getInviteCodeLocked(code string) (*core.InviteCode, error) {
	c, ok := s.codes[code]
	if !ok {
		return nil, core.ErrCodeNotFound
	}
	out := c
	return &out, nil
}

func (s *Store) createInviteCodeLocked(c *core.InviteCode) error {
	s.codes[c.Code] = *c
	return nil
}

func (s *Store) updateInviteCodeUsesLocked(code string, uses int) error {
	c, ok := s.codes[code]
	if !ok {
		return core.ErrCodeNotFound
	}
	if uses <= c.CurrentUses {
		return fmt.Errorf("%w: invite code use counter must increase", core.ErrValidation)
	}
	c.CurrentUses = uses
	s.codes[code] = c
	return nil
}

func (s *Store) GetInviteCodeForUpdate(_ context.Context, code string) (*core.InviteCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getInviteCodeLocked(code)
}

func (s *Store) CreateInviteCode(_ context.Context, c *core.InviteCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createInviteCodeLocked(c)
}

func (s *Store) UpdateInviteCodeUses(_ context.Context, code string, uses int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateInviteCodeUsesLocked(code, uses)
}

func (tv *txView) GetInviteCodeForUpdate(_ context.Context, code string) (*core.InviteCode, error) {
	return tv.store.getInviteCodeLocked(code)
}

func (tv *txView) CreateInviteCode(_ context.Context, c *core.InviteCode) error {
	return tv.store.createInviteCodeLocked(c)
}

func (tv *txView) UpdateInviteCodeUses(_ context.Context, code string, uses int) error {
	return tv.store.updateInviteCodeUsesLocked(code, uses)
}
