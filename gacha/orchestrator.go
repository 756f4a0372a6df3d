/*
orchestrator.go - The customer-facing draw operation

PURPOSE:
  Composes the draw-limit guard, lineup fetch, selector, order
  workflow and ledger writes into one draw call.

STATE MACHINE PER CALL:
  validating -> lineup fetched -> limit checked -> selected ->
  affordability checked -> per-card loop (order workflow ->
  debit + reward credit + result recorded, one store transaction)
  -> completed

FAILURE SEMANTICS:
  - Any failure before the per-card loop returns a typed error with
    zero side effects.
  - A failure mid-loop aborts the remaining cards, compensates the
    failing card's external steps, and returns the completed cards
    together with the error. Fully-completed cards are never rolled
    back: once a card's debit committed, it is delivered.
  - A card's debit, reward credit and result row commit together or
    not at all.

AFFORDABILITY:
  The gate compares the cached gacha balance against amount*cost before
  the loop to fail fast without external side effects. The per-card
  debit still re-checks under the row lock, so a concurrent spender can
  only turn a passing gate into a clean partial failure, never a
  negative balance.
*/
package gacha

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/toreca/gacha-engine/commerce"
	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/ledger"
)

// DefaultSelectionWindow is how long a customer has to choose what to
// do with a won card before fulfillment defaults apply.
const DefaultSelectionWindow = 14 * 24 * time.Hour

// DrawnCard is one delivered result of a draw.
type DrawnCard struct {
	CardID string
	Title  string
	Image  string
}

// DrawResult carries the completed subset of a draw. On partial
// failure Results holds the cards that fully committed and the error
// describes the remainder.
type DrawResult struct {
	Results []DrawnCard
}

// Orchestrator runs draw calls. All collaborators are injected; there
// is no shared mutable state between concurrent calls beyond the store.
type Orchestrator struct {
	Store    core.Store
	Commerce commerce.Service
	Workflow *Workflow
	Guard    *Guard

	// NewRand returns the random source for one draw call. rand.Rand
	// is not goroutine safe, so each call gets its own. Tests inject a
	// seeded generator.
	NewRand func() *rand.Rand

	Now             func() time.Time
	SelectionWindow time.Duration
}

// NewOrchestrator wires an orchestrator with production defaults.
func NewOrchestrator(store core.Store, svc commerce.Service, guard *Guard) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		Commerce: svc,
		Workflow: NewWorkflow(svc),
		Guard:    guard,
		NewRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		Now:             time.Now,
		SelectionWindow: DefaultSelectionWindow,
	}
}

// Draw performs amount draws from the gacha for the customer.
func (o *Orchestrator) Draw(ctx context.Context, gachaID string, customerID core.CustomerID, amount int) (*DrawResult, error) {
	if gachaID == "" || customerID == "" {
		return nil, fmt.Errorf("%w: gacha id and customer id are required", core.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: draw amount must be positive, got %d", core.ErrValidation, amount)
	}

	now := o.Now()

	// Lineup is fetched once per call; a failing catalog is fatal here,
	// never retried inside the draw.
	lineup, err := o.Commerce.FetchLineup(ctx, gachaID)
	if err != nil {
		return nil, err
	}

	if err := o.Guard.Check(ctx, customerID, gachaID, amount, lineup.DailyLimit, now); err != nil {
		return nil, err
	}

	selection, err := Select(lineup, amount, o.NewRand())
	if err != nil {
		return nil, err
	}

	// Affordability gate: fail fast before any external side effect.
	customer, err := o.Store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.GachaPoints < selection.TotalCost {
		return nil, &core.InsufficientPointsError{
			CustomerID: customerID,
			Kind:       core.KindGacha,
			Available:  customer.GachaPoints,
			Requested:  selection.TotalCost,
		}
	}

	result := &DrawResult{}
	for i, card := range selection.Cards {
		// A caller-cancelled request suppresses further cards; it never
		// rolls back the ones already committed.
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("draw aborted after %d of %d cards: %w", i, amount, err)
		}

		if err := o.drawOne(ctx, lineup, card, customerID); err != nil {
			return result, fmt.Errorf("draw completed %d of %d cards: %w", i, amount, err)
		}

		result.Results = append(result.Results, DrawnCard{
			CardID: card.CardID,
			Title:  card.Title,
			Image:  card.Image,
		})
	}
	return result, nil
}

// drawOne runs the full cycle for a single card: external order
// workflow, then one atomic store transaction covering the gacha point
// debit, the reward payout (if any) and the result row.
func (o *Orchestrator) drawOne(ctx context.Context, lineup *commerce.Lineup, card commerce.LineupCard, customerID core.CustomerID) error {
	orderID, err := o.Workflow.Run(ctx, customerID, card, uuid.NewString())
	if err != nil {
		return err
	}

	// The lookup gets the same transient-retry treatment as the order
	// steps. If it still fails, the completed workflow is externally
	// net-neutral (stock restored, order cancelled), so abandoning the
	// card leaves no charge and no delivery.
	var rewardValue core.Points
	err = o.Workflow.runWithRetry(ctx, step{
		name: "fetch reward value",
		run: func(ctx context.Context) error {
			v, err := o.Commerce.RewardPointValue(ctx, card.CardID)
			if err != nil {
				return err
			}
			rewardValue = v
			return nil
		},
	})
	if err != nil {
		return err
	}

	now := o.Now()
	window := o.SelectionWindow
	if window <= 0 {
		window = DefaultSelectionWindow
	}

	return o.Store.WithTx(ctx, func(tx core.Tx) error {
		if _, err := ledger.DebitTx(ctx, tx, core.KindGacha, customerID, lineup.Cost,
			"gacha draw", lineup.GachaID, now); err != nil {
			return err
		}

		resultID := core.ResultID(uuid.NewString())
		rewardTxID := core.TransactionID("")
		if rewardValue > 0 {
			rewardTx, err := ledger.CreditTx(ctx, tx, core.KindReward, customerID, rewardValue,
				"gacha draw reward", string(resultID), now)
			if err != nil {
				return err
			}
			rewardTxID = rewardTx.ID
		}

		return tx.CreateResult(ctx, &core.GachaResult{
			ID:                resultID,
			CustomerID:        customerID,
			GachaID:           lineup.GachaID,
			CardID:            card.CardID,
			OrderID:           orderID,
			Status:            core.StatusPending,
			SelectionDeadline: now.Add(window),
			RewardTxID:        rewardTxID,
			CreatedAt:         now,
		})
	})
}
