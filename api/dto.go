/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the storefront-facing API. These decouple the
  internal domain model from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Done in handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/gacha"
)

// =============================================================================
// DRAW
// =============================================================================

// DrawRequest is the body of POST /api/gacha/{gachaID}/draw.
type DrawRequest struct {
	CustomerID string `json:"customer_id"`
	Amount     int    `json:"amount"`
}

// DrawnCardDTO is one card delivered by a draw.
type DrawnCardDTO struct {
	CardID string `json:"card_id"`
	Title  string `json:"title"`
	Image  string `json:"image,omitempty"`
}

// DrawResponse mirrors the storefront contract: business failures are
// reported in-band through Error with an empty result list; partial
// failures carry both the completed cards and the error.
type DrawResponse struct {
	Results []DrawnCardDTO `json:"results"`
	Error   string         `json:"error,omitempty"`
}

func toDrawResponse(result *gacha.DrawResult, err error) DrawResponse {
	resp := DrawResponse{Results: []DrawnCardDTO{}}
	if result != nil {
		for _, c := range result.Results {
			resp.Results = append(resp.Results, DrawnCardDTO{
				CardID: c.CardID,
				Title:  c.Title,
				Image:  c.Image,
			})
		}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// =============================================================================
// POINTS
// =============================================================================

// PointsRequest is the body of POST /api/points/{kind}/add and /use.
type PointsRequest struct {
	CustomerID  string `json:"customer_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Reference   string `json:"reference,omitempty"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	Kind         string `json:"ledger_kind"`
	Amount       int64  `json:"amount"`
	Description  string `json:"description"`
	Reference    string `json:"reference,omitempty"`
	BalanceAfter int64  `json:"balance_at_transaction"`
	CreatedAt    string `json:"created_at"`
}

func toTransactionDTO(tx *core.PointTransaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		CustomerID:   string(tx.CustomerID),
		Kind:         string(tx.Kind),
		Amount:       int64(tx.Amount),
		Description:  tx.Description,
		Reference:    tx.Reference,
		BalanceAfter: int64(tx.BalanceAfter),
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
}

// BalanceDTO is the cached balance for one ledger.
type BalanceDTO struct {
	CustomerID string `json:"customer_id"`
	Kind       string `json:"ledger_kind"`
	Balance    int64  `json:"balance"`
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CreateCustomerRequest bootstraps a customer with zero balances.
type CreateCustomerRequest struct {
	ID string `json:"id"`
}

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID           string `json:"id"`
	GachaPoints  int64  `json:"gacha_points"`
	RewardPoints int64  `json:"reward_points"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// =============================================================================
// INVITES
// =============================================================================

// RedeemInviteRequest is the body of POST /api/invites/redeem.
type RedeemInviteRequest struct {
	CustomerID string `json:"customer_id"`
	Code       string `json:"code"`
}

// RedeemInviteResponse reports the outcome in-band, matching the
// storefront contract.
type RedeemInviteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IssueInviteRequest is the body of POST /api/invites.
type IssueInviteRequest struct {
	CustomerID string `json:"customer_id"`
	MaxUses    int    `json:"max_uses,omitempty"`
	TTLDays    int    `json:"ttl_days,omitempty"`
}

// InviteCodeDTO represents an issued code.
type InviteCodeDTO struct {
	Code        string `json:"code"`
	OwnerID     string `json:"owner_customer_id"`
	MaxUses     int    `json:"max_uses"`
	CurrentUses int    `json:"current_uses"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the generic error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
