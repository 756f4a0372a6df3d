package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultStatus_Transitions(t *testing.T) {
	tests := []struct {
		from    ResultStatus
		to      ResultStatus
		allowed bool
	}{
		{StatusPending, StatusSelected, true},
		{StatusSelected, StatusRedeemed, true},
		{StatusRedeemed, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},

		// No skipping forward
		{StatusPending, StatusRedeemed, false},
		{StatusPending, StatusShipped, false},
		{StatusSelected, StatusDelivered, false},

		// No going back
		{StatusSelected, StatusPending, false},
		{StatusDelivered, StatusShipped, false},

		// Delivered is terminal
		{StatusDelivered, StatusDelivered, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestResultStatus_Valid(t *testing.T) {
	for _, s := range []ResultStatus{StatusPending, StatusSelected, StatusRedeemed, StatusShipped, StatusDelivered} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, ResultStatus("CANCELLED").Valid())
	assert.False(t, ResultStatus("").Valid())
}

func TestLedgerKind_Valid(t *testing.T) {
	assert.True(t, KindGacha.Valid())
	assert.True(t, KindReward.Valid())
	assert.False(t, LedgerKind("bonus").Valid())
}

func TestCustomer_BalancePerKind(t *testing.T) {
	c := &Customer{GachaPoints: 100, RewardPoints: 40}

	assert.Equal(t, Points(100), c.Balance(KindGacha))
	assert.Equal(t, Points(40), c.Balance(KindReward))

	c.SetBalance(KindGacha, 70)
	c.SetBalance(KindReward, 45)
	assert.Equal(t, Points(70), c.GachaPoints)
	assert.Equal(t, Points(45), c.RewardPoints)
}

func TestInviteCode_Exhausted(t *testing.T) {
	code := &InviteCode{MaxUses: 2}

	assert.False(t, code.Exhausted())
	code.CurrentUses = 1
	assert.False(t, code.Exhausted())
	code.CurrentUses = 2
	assert.True(t, code.Exhausted())
}

func TestInviteCode_Expired(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	// Zero expiry never expires
	code := &InviteCode{}
	assert.False(t, code.Expired(now))

	code.ExpiresAt = now.Add(time.Hour)
	assert.False(t, code.Expired(now))

	code.ExpiresAt = now.Add(-time.Hour)
	assert.True(t, code.Expired(now))

	// Expiry instant itself is still valid
	code.ExpiresAt = now
	assert.False(t, code.Expired(now))
}
