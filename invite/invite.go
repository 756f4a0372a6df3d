/*
Package invite implements referral code redemption: a two-party atomic
point grant on the gacha ledger.

A redemption touches four records in one store transaction - the code's
use counter, both customers' cached balances, and one ledger entry per
party - and is all-or-nothing. All code checks (existence, active,
expiry, exhaustion) happen before any write, so a rejected redemption
has zero side effects.
*/
package invite

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/ledger"
)

// DefaultMaxUses is the use cap for codes issued at onboarding.
const DefaultMaxUses = 10

// Service redeems and issues invite codes.
type Service struct {
	Store core.Store
	Value core.Points // gacha points granted to each party

	// DefaultUses caps codes issued without an explicit max.
	DefaultUses int

	Now func() time.Time
}

// NewService creates an invite service.
func NewService(store core.Store, value core.Points) *Service {
	return &Service{Store: store, Value: value, DefaultUses: DefaultMaxUses, Now: time.Now}
}

// Redeem applies code for the redeeming customer. On success both the
// redeemer and the code owner are credited Value gacha points, each
// with its own ledger entry, and the code's use counter increments -
// all in one atomic transaction.
func (s *Service) Redeem(ctx context.Context, customerID core.CustomerID, code string) error {
	if customerID == "" || code == "" {
		return fmt.Errorf("%w: customer id and code are required", core.ErrValidation)
	}

	now := s.Now()
	return s.Store.WithTx(ctx, func(tx core.Tx) error {
		ic, err := tx.GetInviteCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}

		switch {
		case !ic.IsActive:
			return core.ErrCodeInactive
		case ic.Expired(now):
			return core.ErrCodeExpired
		case ic.Exhausted():
			return core.ErrCodeExhausted
		case ic.OwnerCustomerID == customerID:
			return fmt.Errorf("%w: cannot redeem your own invite code", core.ErrValidation)
		}

		// currentUses only ever increases.
		if err := tx.UpdateInviteCodeUses(ctx, code, ic.CurrentUses+1); err != nil {
			return err
		}

		desc := "invite code redeemed"
		if _, err := ledger.CreditTx(ctx, tx, core.KindGacha, customerID, s.Value, desc, code, now); err != nil {
			return err
		}
		desc = "invite code used by referee"
		if _, err := ledger.CreditTx(ctx, tx, core.KindGacha, ic.OwnerCustomerID, s.Value, desc, code, now); err != nil {
			return err
		}
		return nil
	})
}

// Issue creates a code for a customer at onboarding. ttl <= 0 issues a
// non-expiring code.
func (s *Service) Issue(ctx context.Context, owner core.CustomerID, maxUses int, ttl time.Duration) (*core.InviteCode, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner customer id is required", core.ErrValidation)
	}
	if maxUses <= 0 {
		maxUses = s.DefaultUses
	}
	if maxUses <= 0 {
		maxUses = DefaultMaxUses
	}

	now := s.Now()
	code := &core.InviteCode{
		Code:            newCode(),
		OwnerCustomerID: owner,
		MaxUses:         maxUses,
		IsActive:        true,
		CreatedAt:       now,
	}
	if ttl > 0 {
		code.ExpiresAt = now.Add(ttl)
	}

	if err := s.Store.CreateInviteCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// codeAlphabet omits ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// newCode returns a 10-character random code.
func newCode() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("invite: reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
