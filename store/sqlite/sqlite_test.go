package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/ledger"
	"github.com/toreca/gacha-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testCustomer(id core.CustomerID) *core.Customer {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	return &core.Customer{ID: id, CreatedAt: now, UpdatedAt: now}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestStore_Customer_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testCustomer("cust-1")
	c.GachaPoints = 120
	c.RewardPoints = 30
	require.NoError(t, store.CreateCustomer(ctx, c))

	got, err := store.GetCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, core.Points(120), got.GachaPoints)
	assert.Equal(t, core.Points(30), got.RewardPoints)
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
}

func TestStore_Customer_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1")))
	err := store.CreateCustomer(ctx, testCustomer("cust-1"))
	assert.ErrorIs(t, err, core.ErrDuplicateCustomer)
}

func TestStore_Customer_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCustomer(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrCustomerNotFound)
}

func TestStore_Customer_SoftDeletedHidden(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testCustomer("cust-1")
	c.IsDeleted = true
	require.NoError(t, store.CreateCustomer(ctx, c))

	_, err := store.GetCustomer(ctx, "cust-1")
	assert.ErrorIs(t, err, core.ErrCustomerNotFound)
}

func TestStore_UpdateBalances_UnknownCustomer(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateBalances(context.Background(), testCustomer("ghost"))
	assert.ErrorIs(t, err, core.ErrCustomerNotFound)
}

// =============================================================================
// POINT TRANSACTIONS
// =============================================================================

func TestStore_Transactions_NewestFirst(t *testing.T) {
	// Entries appended in the same instant must still come back in
	// reverse append order.

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1")))
	for i, id := range []core.TransactionID{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, store.AppendTransaction(ctx, &core.PointTransaction{
			ID:           id,
			CustomerID:   "cust-1",
			Kind:         core.KindGacha,
			Amount:       core.Points(10 * (i + 1)),
			BalanceAfter: core.Points(10 * (i + 1)),
			CreatedAt:    now,
		}))
	}

	txs, err := store.Transactions(ctx, "cust-1", core.KindGacha)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, core.TransactionID("tx-3"), txs[0].ID)
	assert.Equal(t, core.TransactionID("tx-1"), txs[2].ID)
}

func TestStore_Transactions_FilteredByKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateCustomer(ctx, testCustomer("cust-1")))
	require.NoError(t, store.AppendTransaction(ctx, &core.PointTransaction{
		ID: "tx-g", CustomerID: "cust-1", Kind: core.KindGacha, Amount: 10, BalanceAfter: 10, CreatedAt: now,
	}))
	require.NoError(t, store.AppendTransaction(ctx, &core.PointTransaction{
		ID: "tx-r", CustomerID: "cust-1", Kind: core.KindReward, Amount: 5, BalanceAfter: 5, CreatedAt: now,
	}))

	gacha, err := store.Transactions(ctx, "cust-1", core.KindGacha)
	require.NoError(t, err)
	reward, err := store.Transactions(ctx, "cust-1", core.KindReward)
	require.NoError(t, err)

	require.Len(t, gacha, 1)
	require.Len(t, reward, 1)
	assert.Equal(t, core.TransactionID("tx-g"), gacha[0].ID)
	assert.Equal(t, core.TransactionID("tx-r"), reward[0].ID)
}

// =============================================================================
// GACHA RESULTS
// =============================================================================

func TestStore_Results_RoundtripAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id core.ResultID, at time.Time) *core.GachaResult {
		return &core.GachaResult{
			ID:                id,
			CustomerID:        "cust-1",
			GachaID:           "gacha-1",
			CardID:            "card-1",
			OrderID:           "ord-1",
			Status:            core.StatusPending,
			SelectionDeadline: at.AddDate(0, 0, 14),
			RewardTxID:        "tx-reward",
			CreatedAt:         at,
		}
	}

	require.NoError(t, store.CreateResult(ctx, mk("res-1", base.Add(10*time.Hour))))
	require.NoError(t, store.CreateResult(ctx, mk("res-2", base.Add(23*time.Hour))))
	require.NoError(t, store.CreateResult(ctx, mk("res-3", base.Add(25*time.Hour)))) // next day

	n, err := store.CountResultsInRange(ctx, "cust-1", "gacha-1", base, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Range is half-open: a result exactly at the upper bound is excluded
	n, err = store.CountResultsInRange(ctx, "cust-1", "gacha-1", base, base.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := store.ResultsForCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, core.ResultID("res-3"), results[0].ID, "newest first")
	assert.Equal(t, core.StatusPending, results[0].Status)
	assert.Equal(t, "ord-1", results[0].OrderID)
	assert.Equal(t, core.TransactionID("tx-reward"), results[0].RewardTxID)
	assert.True(t, results[0].SelectionDeadline.Equal(base.Add(25*time.Hour).AddDate(0, 0, 14)))
}

func TestStore_CountResults_SubSecondBoundaries(t *testing.T) {
	// Fractional-second timestamps must compare correctly in range
	// queries; the stored format is fixed width for exactly this reason.

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateResult(ctx, &core.GachaResult{
		ID: "res-1", CustomerID: "cust-1", GachaID: "gacha-1", CardID: "card-1",
		Status: core.StatusPending, SelectionDeadline: base, CreatedAt: base.Add(500 * time.Millisecond),
	}))

	n, err := store.CountResultsInRange(ctx, "cust-1", "gacha-1", base, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.CountResultsInRange(ctx, "cust-1", "gacha-1", base.Add(time.Second), base.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// INVITE CODES
// =============================================================================

func TestStore_InviteCode_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	code := &core.InviteCode{
		Code:            "FRIEND2025",
		OwnerCustomerID: "owner-1",
		MaxUses:         10,
		IsActive:        true,
		ExpiresAt:       now.AddDate(0, 1, 0),
		CreatedAt:       now,
	}
	require.NoError(t, store.CreateInviteCode(ctx, code))

	got, err := store.GetInviteCodeForUpdate(ctx, "FRIEND2025")
	require.NoError(t, err)
	assert.Equal(t, core.CustomerID("owner-1"), got.OwnerCustomerID)
	assert.Equal(t, 10, got.MaxUses)
	assert.Equal(t, 0, got.CurrentUses)
	assert.True(t, got.IsActive)
	assert.True(t, got.ExpiresAt.Equal(now.AddDate(0, 1, 0)))

	_, err = store.GetInviteCodeForUpdate(ctx, "NOPE")
	assert.ErrorIs(t, err, core.ErrCodeNotFound)
}

func TestStore_InviteCode_NoExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInviteCode(ctx, &core.InviteCode{
		Code: "FOREVER", OwnerCustomerID: "owner-1", MaxUses: 1,
		IsActive: true, CreatedAt: time.Now(),
	}))

	got, err := store.GetInviteCodeForUpdate(ctx, "FOREVER")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestStore_InviteCode_UsesMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInviteCode(ctx, &core.InviteCode{
		Code: "CODE", OwnerCustomerID: "owner-1", MaxUses: 10,
		IsActive: true, CreatedAt: time.Now(),
	}))

	require.NoError(t, store.UpdateInviteCodeUses(ctx, "CODE", 1))
	require.NoError(t, store.UpdateInviteCodeUses(ctx, "CODE", 2))

	// Decreasing or equal writes are refused as invalid, not as a
	// missing code
	err := store.UpdateInviteCodeUses(ctx, "CODE", 2)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.NotErrorIs(t, err, core.ErrCodeNotFound)
	err = store.UpdateInviteCodeUses(ctx, "CODE", 1)
	assert.ErrorIs(t, err, core.ErrValidation)

	// An unknown code is still reported as not found
	err = store.UpdateInviteCodeUses(ctx, "GHOST", 5)
	assert.ErrorIs(t, err, core.ErrCodeNotFound)

	got, err := store.GetInviteCodeForUpdate(ctx, "CODE")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUses)
}

// =============================================================================
// TRANSACTIONS / ATOMICITY
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction writing a customer and a ledger entry
	// WHEN: fn returns an error
	// THEN: Neither write survives

	store := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.WithTx(ctx, func(tx core.Tx) error {
		if err := tx.CreateCustomer(ctx, testCustomer("cust-1")); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &core.PointTransaction{
			ID: "tx-1", CustomerID: "cust-1", Kind: core.KindGacha,
			Amount: 10, BalanceAfter: 10, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = store.GetCustomer(ctx, "cust-1")
	assert.ErrorIs(t, err, core.ErrCustomerNotFound)

	txs, err := store.Transactions(ctx, "cust-1", core.KindGacha)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestStore_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx core.Tx) error {
		return tx.CreateCustomer(ctx, testCustomer("cust-1"))
	})
	require.NoError(t, err)

	_, err = store.GetCustomer(ctx, "cust-1")
	assert.NoError(t, err)
}

func TestStore_ConcurrentDebits_SerializeOnWriteLock(t *testing.T) {
	// The ledger's overdraw guarantee must hold on the real store, not
	// just the in-memory one.

	store := newTestStore(t)
	svc := ledger.NewService(store)
	ctx := context.Background()

	_, err := svc.Credit(ctx, core.KindGacha, "cust-1", 100, "grant", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, core.KindGacha, "cust-1", 40, "draw", "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 2, succeeded)

	balance, err := svc.Balance(ctx, core.KindGacha, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, core.Points(20), balance)

	assert.NoError(t, svc.Reconcile(ctx, core.KindGacha, "cust-1"))
}
