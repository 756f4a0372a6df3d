package gacha_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/gacha"
	"github.com/toreca/gacha-engine/ledger"
	"github.com/toreca/gacha-engine/store/memory"
)

var drawNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestOrchestrator(t *testing.T, f *fakeCommerce) (*gacha.Orchestrator, *memory.Store) {
	t.Helper()
	store := memory.New()

	o := gacha.NewOrchestrator(store, f, gacha.NewGuard(store, jst))
	o.Workflow.Backoff = time.Millisecond
	o.Workflow.Logger = log.New(io.Discard, "", 0)
	o.Now = func() time.Time { return drawNow }
	o.NewRand = func() *rand.Rand { return rand.New(rand.NewSource(1)) }
	return o, store
}

func seedBalance(t *testing.T, store *memory.Store, id core.CustomerID, amount core.Points) {
	t.Helper()
	svc := ledger.NewService(store)
	svc.Now = func() time.Time { return drawNow.Add(-time.Hour) }
	_, err := svc.Credit(context.Background(), core.KindGacha, id, amount, "test grant", "")
	require.NoError(t, err)
}

func gachaBalance(t *testing.T, store *memory.Store, id core.CustomerID) core.Points {
	t.Helper()
	c, err := store.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return c.GachaPoints
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestOrchestrator_Draw_SingleCard(t *testing.T) {
	// GIVEN: Cost 100, one card in stock, balance 200
	// WHEN: Drawing once
	// THEN: One result, balance 100, and the debit snapshot shows 100

	f := newFakeCommerce(testLineup(100, 1))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 200)

	result, err := o.Draw(context.Background(), "gacha-1", "cust-1", 1)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "a", result.Results[0].CardID)

	assert.Equal(t, core.Points(100), gachaBalance(t, store, "cust-1"))

	history, err := store.Transactions(context.Background(), "cust-1", core.KindGacha)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.Points(-100), history[0].Amount)
	assert.Equal(t, core.Points(100), history[0].BalanceAfter)
	assert.Equal(t, "gacha-1", history[0].Reference)

	results, err := store.ResultsForCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.StatusPending, results[0].Status)
	assert.Equal(t, "ord-1", results[0].OrderID)
	assert.Equal(t, drawNow.Add(gacha.DefaultSelectionWindow), results[0].SelectionDeadline)
	assert.Empty(t, results[0].RewardTxID, "no payout configured for this card")
}

func TestOrchestrator_Draw_RewardPayout(t *testing.T) {
	// GIVEN: The card pays out 50 reward points
	// WHEN: Drawing it
	// THEN: Reward ledger credited and linked from the result row

	f := newFakeCommerce(testLineup(100, 1))
	f.rewards["a"] = 50
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 100)

	_, err := o.Draw(context.Background(), "gacha-1", "cust-1", 1)
	require.NoError(t, err)

	c, err := store.GetCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, core.Points(0), c.GachaPoints)
	assert.Equal(t, core.Points(50), c.RewardPoints)

	rewardHist, err := store.Transactions(context.Background(), "cust-1", core.KindReward)
	require.NoError(t, err)
	require.Len(t, rewardHist, 1)

	results, err := store.ResultsForCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rewardHist[0].ID, results[0].RewardTxID)
	assert.Equal(t, string(results[0].ID), rewardHist[0].Reference)
}

func TestOrchestrator_Draw_MultiDraw(t *testing.T) {
	// Ten-pull: 10 cards, one debit of cost per card

	f := newFakeCommerce(testLineup(100, 6, 6))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 1000)

	result, err := o.Draw(context.Background(), "gacha-1", "cust-1", 10)
	require.NoError(t, err)
	assert.Len(t, result.Results, 10)

	assert.Equal(t, core.Points(0), gachaBalance(t, store, "cust-1"))

	history, err := store.Transactions(context.Background(), "cust-1", core.KindGacha)
	require.NoError(t, err)
	assert.Len(t, history, 11, "grant plus ten per-card debits")
}

// =============================================================================
// BUSINESS FAILURES - zero side effects
// =============================================================================

func TestOrchestrator_Draw_InsufficientStock(t *testing.T) {
	// GIVEN: One card in stock
	// WHEN: Drawing two
	// THEN: InsufficientStockError before any order is created

	f := newFakeCommerce(testLineup(100, 1))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 500)

	_, err := o.Draw(context.Background(), "gacha-1", "cust-1", 2)
	assert.ErrorIs(t, err, core.ErrInsufficientStock)

	var stockErr *core.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Remaining)

	assert.Equal(t, 0, f.callCount("create"), "no external side effects")
	assert.Equal(t, core.Points(500), gachaBalance(t, store, "cust-1"))
}

func TestOrchestrator_Draw_InsufficientPoints(t *testing.T) {
	// GIVEN: Balance 150, cost 100
	// WHEN: Drawing two (total 200)
	// THEN: InsufficientPointsError 50pt short, nothing charged

	f := newFakeCommerce(testLineup(100, 5))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 150)

	_, err := o.Draw(context.Background(), "gacha-1", "cust-1", 2)
	assert.ErrorIs(t, err, core.ErrInsufficientPoints)

	var ipErr *core.InsufficientPointsError
	require.ErrorAs(t, err, &ipErr)
	assert.Equal(t, core.Points(50), ipErr.Shortfall())

	assert.Equal(t, 0, f.callCount("create"))
	assert.Equal(t, core.Points(150), gachaBalance(t, store, "cust-1"))
}

func TestOrchestrator_Draw_DailyLimit(t *testing.T) {
	// GIVEN: Daily limit 1 and one draw already recorded today
	// WHEN: Drawing again
	// THEN: DailyLimitError before selection or charging

	limit := 1
	lineup := testLineup(100, 5)
	lineup.DailyLimit = &limit

	f := newFakeCommerce(lineup)
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 500)

	recordResult(t, store, "cust-1", "gacha-1", drawNow.Add(-time.Hour))

	_, err := o.Draw(context.Background(), "gacha-1", "cust-1", 1)
	assert.ErrorIs(t, err, core.ErrDailyLimitExceeded)

	assert.Equal(t, 0, f.callCount("create"))
	assert.Equal(t, core.Points(500), gachaBalance(t, store, "cust-1"))
}

func TestOrchestrator_Draw_CatalogUnavailable(t *testing.T) {
	f := newFakeCommerce(nil)
	f.lineupErr = fmt.Errorf("%w: backend returned 502", core.ErrCatalogUnavailable)
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 500)

	_, err := o.Draw(context.Background(), "gacha-1", "cust-1", 1)
	assert.ErrorIs(t, err, core.ErrCatalogUnavailable)
	assert.Equal(t, core.Points(500), gachaBalance(t, store, "cust-1"))
}

func TestOrchestrator_Draw_UnknownCustomer(t *testing.T) {
	f := newFakeCommerce(testLineup(100, 5))
	o, _ := newTestOrchestrator(t, f)

	_, err := o.Draw(context.Background(), "gacha-1", "ghost", 1)
	assert.ErrorIs(t, err, core.ErrCustomerNotFound)
	assert.Equal(t, 0, f.callCount("create"))
}

func TestOrchestrator_Draw_Validation(t *testing.T) {
	f := newFakeCommerce(testLineup(100, 5))
	o, _ := newTestOrchestrator(t, f)

	_, err := o.Draw(context.Background(), "gacha-1", "cust-1", 0)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = o.Draw(context.Background(), "", "cust-1", 1)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = o.Draw(context.Background(), "gacha-1", "", 1)
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

func TestOrchestrator_Draw_PartialFailure_KeepsCompletedCards(t *testing.T) {
	// GIVEN: A two-card draw where the second card's order creation
	//        fails permanently
	// WHEN: Drawing
	// THEN: The first card is delivered and charged; the second is not,
	//       and the error reports the split

	f := newFakeCommerce(testLineup(100, 5))
	f.failNext("create", nil, permanentErr("variant gone"))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 500)

	result, err := o.Draw(context.Background(), "gacha-1", "cust-1", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draw completed 1 of 2")

	require.NotNil(t, result)
	assert.Len(t, result.Results, 1, "completed card must be delivered")

	// Exactly one card charged, one result recorded
	assert.Equal(t, core.Points(400), gachaBalance(t, store, "cust-1"))
	results, err := store.ResultsForCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestOrchestrator_Draw_RewardLookupRetriesTransient(t *testing.T) {
	// GIVEN: The reward lookup fails once with a transient error
	// WHEN: Drawing one card
	// THEN: The lookup is retried and the draw completes with the payout

	f := newFakeCommerce(testLineup(100, 1))
	f.rewards["a"] = 50
	f.failNext("reward", transientErr("metafields busy"))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 200)

	result, err := o.Draw(context.Background(), "gacha-1", "cust-1", 1)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	assert.Equal(t, 2, f.callCount("reward"), "transient failure should be retried")

	c, err := store.GetCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, core.Points(100), c.GachaPoints)
	assert.Equal(t, core.Points(50), c.RewardPoints)
}

func TestOrchestrator_Draw_CancelledBetweenCards(t *testing.T) {
	// GIVEN: A three-card draw whose context is cancelled while the
	//        first card is still in flight
	// WHEN: Drawing
	// THEN: The first card commits and stays delivered; the remaining
	//       cards are skipped and the error reports the split

	f := newFakeCommerce(testLineup(100, 5))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 500)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onCall = func(call string) {
		if call == "reward a" {
			cancel()
		}
	}

	result, err := o.Draw(ctx, "gacha-1", "cust-1", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "draw aborted after 1 of 3")

	require.NotNil(t, result)
	assert.Len(t, result.Results, 1, "committed card must be kept")

	assert.Equal(t, core.Points(400), gachaBalance(t, store, "cust-1"))
	results, err := store.ResultsForCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, f.callCount("create"), "no order for later cards")
}

func TestOrchestrator_Draw_PerCardAtomicity(t *testing.T) {
	// GIVEN: The reward lookup fails after the order workflow completed
	// WHEN: Drawing one card
	// THEN: No debit, no result row - the card's store writes are
	//       all-or-nothing

	f := newFakeCommerce(testLineup(100, 1))
	f.failNext("reward", permanentErr("metafields down"))
	o, store := newTestOrchestrator(t, f)
	seedBalance(t, store, "cust-1", 200)

	result, err := o.Draw(context.Background(), "gacha-1", "cust-1", 1)
	require.Error(t, err)
	assert.Empty(t, result.Results)

	assert.Equal(t, core.Points(200), gachaBalance(t, store, "cust-1"))
	results, err := store.ResultsForCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Empty(t, results)
}
