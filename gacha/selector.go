/*
Package gacha implements the draw transaction orchestrator: weighted
random selection against live finite inventory, a compensating order
workflow per selected card, and the per-card ledger writes.

The package splits into four parts:
  - selector.go:     pure stock-weighted sampling (no I/O)
  - saga.go:         the compensatable order workflow per card
  - limit.go:        per-day draw counting in a fixed time zone
  - orchestrator.go: the customer-facing draw state machine
*/
package gacha

import (
	"fmt"
	"math/rand"

	"github.com/toreca/gacha-engine/commerce"
	"github.com/toreca/gacha-engine/core"
)

// Selection is the outcome of sampling a lineup.
type Selection struct {
	Cards     []commerce.LineupCard // ordered; duplicates allowed up to stock
	TotalCost core.Points
}

// Select draws amount cards from the lineup without replacement.
//
// Each card enters a multiset pool once per unit of stock, and every
// pick removes a uniformly random pool entry. That makes each pick
// proportional to the card's remaining stock - stock-weighted, not
// card-count-weighted.
//
// Pure function: deterministic for a given rng, no side effects.
func Select(lineup *commerce.Lineup, amount int, rng *rand.Rand) (*Selection, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: draw amount must be positive, got %d", core.ErrValidation, amount)
	}

	pool := make([]int, 0, lineup.TotalStock())
	for i, card := range lineup.Cards {
		for n := 0; n < card.Stock; n++ {
			pool = append(pool, i)
		}
	}

	if len(pool) < amount {
		return nil, &core.InsufficientStockError{
			GachaID:   lineup.GachaID,
			Requested: amount,
			Remaining: len(pool),
		}
	}

	selection := &Selection{
		Cards:     make([]commerce.LineupCard, 0, amount),
		TotalCost: core.Points(int64(amount)) * lineup.Cost,
	}
	for n := 0; n < amount; n++ {
		i := rng.Intn(len(pool))
		selection.Cards = append(selection.Cards, lineup.Cards[pool[i]])

		// Remove without replacement. Order within the pool is
		// irrelevant to a uniform pick, so swap-delete is fine.
		pool[i] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return selection, nil
}
