package gacha_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toreca/gacha-engine/commerce"
	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/gacha"
)

func testLineup(cost core.Points, stocks ...int) *commerce.Lineup {
	l := &commerce.Lineup{GachaID: "gacha-1", Cost: cost}
	for i, s := range stocks {
		l.Cards = append(l.Cards, commerce.LineupCard{
			CardID:       string(rune('a' + i)),
			VariantRef:   "var-" + string(rune('a'+i)),
			InventoryRef: "inv-" + string(rune('a'+i)),
			LocationRef:  "loc-1",
			Stock:        s,
		})
	}
	return l
}

func TestSelect_Deterministic(t *testing.T) {
	// Same lineup, same seed: same selection
	lineup := testLineup(100, 5, 3, 2)

	s1, err := gacha.Select(lineup, 4, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	s2, err := gacha.Select(lineup, 4, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	require.Len(t, s1.Cards, 4)
	for i := range s1.Cards {
		assert.Equal(t, s1.Cards[i].CardID, s2.Cards[i].CardID)
	}
}

func TestSelect_TotalCost(t *testing.T) {
	lineup := testLineup(150, 10)

	s, err := gacha.Select(lineup, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, core.Points(450), s.TotalCost)
}

func TestSelect_InsufficientStock(t *testing.T) {
	// GIVEN: 1+2 = 3 units in stock
	// WHEN: Drawing 4
	// THEN: InsufficientStockError with the remaining count

	lineup := testLineup(100, 1, 2)

	_, err := gacha.Select(lineup, 4, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, core.ErrInsufficientStock)

	var stockErr *core.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Remaining)
}

func TestSelect_WithoutReplacement(t *testing.T) {
	// GIVEN: Each card has exactly one unit
	// WHEN: Drawing the whole pool
	// THEN: Every card appears exactly once

	lineup := testLineup(100, 1, 1, 1, 1, 1)

	s, err := gacha.Select(lineup, 5, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	seen := map[string]int{}
	for _, c := range s.Cards {
		seen[c.CardID]++
	}
	assert.Len(t, seen, 5, "each card should be drawn exactly once")
	for id, n := range seen {
		assert.Equal(t, 1, n, "card %s drawn more than its stock", id)
	}
}

func TestSelect_DuplicatesBoundedByStock(t *testing.T) {
	// A card with stock 3 can appear at most 3 times in one selection
	lineup := testLineup(100, 3, 10)

	s, err := gacha.Select(lineup, 13, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	counts := map[string]int{}
	for _, c := range s.Cards {
		counts[c.CardID]++
	}
	assert.Equal(t, 3, counts["a"])
	assert.Equal(t, 10, counts["b"])
}

func TestSelect_StockWeighted(t *testing.T) {
	// GIVEN: Card a with stock 90, card b with stock 10
	// WHEN: Sampling 1000 independent single draws
	// THEN: Card a is picked roughly 90% of the time

	lineup := testLineup(100, 90, 10)
	rng := rand.New(rand.NewSource(99))

	hits := 0
	for i := 0; i < 1000; i++ {
		s, err := gacha.Select(lineup, 1, rng)
		require.NoError(t, err)
		if s.Cards[0].CardID == "a" {
			hits++
		}
	}

	// Binomial(1000, 0.9): anything outside [850, 950] is off by more
	// than 5 standard deviations.
	assert.Greater(t, hits, 850)
	assert.Less(t, hits, 950)
}

func TestSelect_InvalidAmount(t *testing.T) {
	lineup := testLineup(100, 5)

	_, err := gacha.Select(lineup, 0, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = gacha.Select(lineup, -2, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, core.ErrValidation)
}
