package gacha

import (
	"context"
	"time"

	"github.com/toreca/gacha-engine/core"
)

// Guard counts a customer's completed draws for a gacha within the
// current calendar day. Day boundaries are taken in a fixed reference
// zone (the shop operates on Asia/Tokyo), not the server's local zone.
type Guard struct {
	Store    core.Store
	Location *time.Location
}

// NewGuard creates a guard. A nil location falls back to UTC.
func NewGuard(store core.Store, loc *time.Location) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{Store: store, Location: loc}
}

// CountToday returns the number of results recorded for
// customer+gacha in [startOfDay, startOfDay+24h) around now.
func (g *Guard) CountToday(ctx context.Context, id core.CustomerID, gachaID string, now time.Time) (int, error) {
	local := now.In(g.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.Location)
	return g.Store.CountResultsInRange(ctx, id, gachaID, start, start.AddDate(0, 0, 1))
}

// Check rejects the draw when countToday + amount would exceed the
// lineup's daily limit. A nil limit means unlimited.
func (g *Guard) Check(ctx context.Context, id core.CustomerID, gachaID string, amount int, limit *int, now time.Time) error {
	if limit == nil {
		return nil
	}
	drawn, err := g.CountToday(ctx, id, gachaID, now)
	if err != nil {
		return err
	}
	if drawn+amount > *limit {
		return &core.DailyLimitError{
			GachaID:    gachaID,
			CustomerID: id,
			Limit:      *limit,
			DrawnToday: drawn,
			Requested:  amount,
		}
	}
	return nil
}
