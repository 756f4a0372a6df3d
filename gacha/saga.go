/*
saga.go - The compensatable order workflow for one drawn card

PURPOSE:
  Turning one selected card into bookkeeping against the commerce
  backend is a multi-step external workflow with no enclosing
  transaction, so it runs as a saga: ordered steps, each with a
  registered compensation, undone in reverse when a later step fails.

STEPS:
  1. create order       (idempotency key guards against duplicate orders)
  2. complete order     (terminal state for bookkeeping; decrements stock)
  3. restore inventory  (+1 - the draw must not leave live stock consumed
                         by a cancelled order)
  4. cancel order       (the card is tracked via GachaResult only, not a
                         live payable order)

  Completing the order and then immediately cancelling it is the
  documented business behavior: the draw consumes a unit and produces a
  trackable result, but never leaves a payable order behind.

RETRY:
  Each step retries transient failures up to Attempts with linear
  backoff. Order creation is safe to retry because the caller-supplied
  idempotency key makes the backend return the same order.

COMPENSATION:
  A failure after order creation cancels the order (and re-adjusts
  inventory if the restore had already applied). If compensation itself
  fails, the card escalates to CompensationError - logged with full
  context for manual reconciliation, never retried indefinitely.
*/
package gacha

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/toreca/gacha-engine/commerce"
	"github.com/toreca/gacha-engine/core"
)

// Workflow executes the per-card order saga.
type Workflow struct {
	Commerce commerce.Service
	Attempts int           // per-step attempt cap, default 3
	Backoff  time.Duration // base delay between attempts, default 200ms
	Logger   *log.Logger   // default log.Default()
}

// NewWorkflow creates a workflow with default retry settings.
func NewWorkflow(svc commerce.Service) *Workflow {
	return &Workflow{Commerce: svc}
}

func (w *Workflow) attempts() int {
	if w.Attempts > 0 {
		return w.Attempts
	}
	return 3
}

func (w *Workflow) backoff() time.Duration {
	if w.Backoff > 0 {
		return w.Backoff
	}
	return 200 * time.Millisecond
}

func (w *Workflow) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

// step is one saga step with its compensation. compensate may be nil
// for steps that need no undo.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// Run executes the order workflow for one card and returns the external
// order id consumed for bookkeeping. idempotencyKey must be unique per
// card draw and stable across retries of the same draw.
func (w *Workflow) Run(ctx context.Context, customerID core.CustomerID, card commerce.LineupCard, idempotencyKey string) (string, error) {
	var orderID string

	steps := []step{
		{
			name: "create order",
			run: func(ctx context.Context) error {
				id, err := w.Commerce.CreateOrder(ctx, customerID,
					[]commerce.LineItem{{VariantRef: card.VariantRef, Quantity: 1}},
					idempotencyKey)
				if err != nil {
					return err
				}
				orderID = id
				return nil
			},
			compensate: func(ctx context.Context) error {
				return w.Commerce.CancelOrder(ctx, orderID)
			},
		},
		{
			name: "complete order",
			run: func(ctx context.Context) error {
				_, err := w.Commerce.CompleteOrder(ctx, orderID)
				return err
			},
		},
		{
			name: "restore inventory",
			run: func(ctx context.Context) error {
				return w.Commerce.AdjustInventory(ctx, card.InventoryRef, card.LocationRef, +1)
			},
			compensate: func(ctx context.Context) error {
				return w.Commerce.AdjustInventory(ctx, card.InventoryRef, card.LocationRef, -1)
			},
		},
		{
			name: "cancel order",
			run: func(ctx context.Context) error {
				return w.Commerce.CancelOrder(ctx, orderID)
			},
		},
	}

	for i, s := range steps {
		if err := w.runWithRetry(ctx, s); err != nil {
			if cerr := w.compensateCompleted(ctx, steps[:i], card, orderID); cerr != nil {
				return "", cerr
			}
			return "", fmt.Errorf("order workflow failed at %q for card %s: %w", s.name, card.CardID, err)
		}
	}
	return orderID, nil
}

// runWithRetry runs one step, retrying transient failures.
func (w *Workflow) runWithRetry(ctx context.Context, s step) error {
	var err error
	for attempt := 1; attempt <= w.attempts(); attempt++ {
		if err = s.run(ctx); err == nil {
			return nil
		}
		if !commerce.IsTransient(err) {
			return err
		}
		if attempt < w.attempts() {
			select {
			case <-time.After(w.backoff() * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// compensateCompleted undoes already-completed steps in reverse order.
// Compensations run once each; a failed compensation is fatal for the
// card and reported as CompensationError.
func (w *Workflow) compensateCompleted(ctx context.Context, completed []step, card commerce.LineupCard, orderID string) error {
	// A caller-cancelled request must not abort the undo of side
	// effects that already happened.
	ctx = context.WithoutCancel(ctx)
	for i := len(completed) - 1; i >= 0; i-- {
		s := completed[i]
		if s.compensate == nil {
			continue
		}
		if err := s.compensate(ctx); err != nil {
			cerr := &core.CompensationError{
				CardID:  card.CardID,
				OrderID: orderID,
				Step:    s.name,
				Cause:   err,
			}
			w.logger().Printf("COMPENSATION FAILED: card=%s order=%s step=%q err=%v (manual reconciliation required)",
				card.CardID, orderID, s.name, err)
			return cerr
		}
	}
	return nil
}
