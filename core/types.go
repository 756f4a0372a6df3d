/*
Package core provides the shared domain model for the gacha engine.

PURPOSE:
  This package contains the types and storage contracts every other
  package builds on: customers with two cached point balances, the
  append-only transaction ledgers behind those balances, gacha draw
  results, and invite codes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: An integer point amount (positive = credit, negative = debit)
  - LedgerKind: Which of the two ledgers a transaction belongs to
  - PointTransaction: An immutable ledger entry with a balance snapshot
  - GachaResult: One physical card won by a draw, with fulfillment status
  - InviteCode: A referral token with bounded usage

DESIGN PRINCIPLES:
  1. Immutability: PointTransactions are never updated or deleted
  2. Single source of truth: the cached balance on Customer is mutated
     only inside the same store transaction that appends the ledger row,
     and must always reconcile to the transaction history
  3. Type safety: CustomerID/TransactionID/ResultID are distinct types
  4. Exhaustive enums: ResultStatus carries an explicit transition table

SEE ALSO:
  - errors.go: Sentinel and structured errors
  - store.go: Persistence interfaces
  - ledger/: Balance mutation rules
*/
package core

import "time"

// =============================================================================
// POINTS AND LEDGER KINDS
// =============================================================================

// Points is an integer point amount. Point balances are always whole
// numbers; money never flows through this type.
type Points int64

// LedgerKind discriminates the two point ledgers a customer holds.
type LedgerKind string

const (
	// KindGacha is the spendable currency for draws.
	KindGacha LedgerKind = "gacha"

	// KindReward is the secondary currency earned from purchases and
	// draws, redeemable elsewhere.
	KindReward LedgerKind = "reward"
)

// Valid reports whether k names a known ledger.
func (k LedgerKind) Valid() bool {
	return k == KindGacha || k == KindReward
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string
type ResultID string

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer holds the cached running balance for each ledger kind.
// Balances are mutated only through ledger writes, never set directly,
// except when bootstrapping a brand-new customer at zero.
type Customer struct {
	ID           CustomerID
	GachaPoints  Points
	RewardPoints Points
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Balance returns the cached balance for the given ledger kind.
func (c *Customer) Balance(kind LedgerKind) Points {
	if kind == KindReward {
		return c.RewardPoints
	}
	return c.GachaPoints
}

// SetBalance updates the cached balance for the given ledger kind.
// Callers must only invoke this inside a store transaction that also
// appends the matching PointTransaction.
func (c *Customer) SetBalance(kind LedgerKind, balance Points) {
	if kind == KindReward {
		c.RewardPoints = balance
		return
	}
	c.GachaPoints = balance
}

// =============================================================================
// POINT TRANSACTION - Immutable ledger entry
// =============================================================================

// PointTransaction is one entry in a customer's ledger.
//
// INVARIANTS:
//   - Append-only: never updated, never deleted
//   - For a customer's ordered entries T1..Tn,
//     BalanceAfter(Tn) == sum(Amount(T1..Tn)) == cached customer balance
type PointTransaction struct {
	ID           TransactionID
	CustomerID   CustomerID
	Kind         LedgerKind
	Amount       Points // positive = credit, negative = debit
	Description  string
	Reference    string // order id, gacha id, invite code, ...
	BalanceAfter Points // running balance immediately after this entry
	CreatedAt    time.Time
}

// =============================================================================
// GACHA RESULT - One card won by a draw
// =============================================================================

// ResultStatus tracks a won card through fulfillment. The orchestrator
// only ever creates results in StatusPending; later transitions are
// driven by out-of-scope fulfillment processes.
type ResultStatus string

const (
	StatusPending   ResultStatus = "PENDING"
	StatusSelected  ResultStatus = "SELECTED"
	StatusRedeemed  ResultStatus = "REDEEMED"
	StatusShipped   ResultStatus = "SHIPPED"
	StatusDelivered ResultStatus = "DELIVERED"
)

// resultTransitions is the exhaustive transition table for ResultStatus.
var resultTransitions = map[ResultStatus][]ResultStatus{
	StatusPending:   {StatusSelected},
	StatusSelected:  {StatusRedeemed},
	StatusRedeemed:  {StatusShipped},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {},
}

// Valid reports whether s is a known status.
func (s ResultStatus) Valid() bool {
	_, ok := resultTransitions[s]
	return ok
}

// CanTransitionTo reports whether s -> next is an allowed transition.
func (s ResultStatus) CanTransitionTo(next ResultStatus) bool {
	for _, allowed := range resultTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// GachaResult records one physical card won by a completed draw.
// Created exactly once per successfully completed card.
type GachaResult struct {
	ID                ResultID
	CustomerID        CustomerID
	GachaID           string
	CardID            string
	OrderID           string // external order consumed for bookkeeping
	Status            ResultStatus
	SelectionDeadline time.Time
	RewardTxID        TransactionID // reward payout for this draw, if any
	CreatedAt         time.Time
}

// =============================================================================
// INVITE CODE
// =============================================================================

// InviteCode is a referral token. CurrentUses only ever increases and
// never exceeds MaxUses.
type InviteCode struct {
	Code            string
	OwnerCustomerID CustomerID
	MaxUses         int
	CurrentUses     int
	IsActive        bool
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Exhausted reports whether the code has no uses left.
func (c *InviteCode) Exhausted() bool {
	return c.CurrentUses >= c.MaxUses
}

// Expired reports whether the code is past its expiry at the given time.
func (c *InviteCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
