/*
handlers.go - HTTP handlers for the gacha engine

PURPOSE:
  Exposes the draw orchestrator, the two point ledgers and invite
  redemption over REST. Handlers parse and validate input, delegate to
  domain logic, and shape responses.

ENDPOINTS:
  Gacha:
    POST /api/gacha/{gachaID}/draw          Run a draw

  Points:
    POST /api/points/{kind}/add             Credit a ledger
    POST /api/points/{kind}/use             Debit a ledger
    GET  /api/customers/{id}/balance        Cached balance
    GET  /api/customers/{id}/transactions   Ledger history

  Customers:
    POST /api/customers                     Bootstrap at zero balances

  Invites:
    POST /api/invites                       Issue a code
    POST /api/invites/redeem                Redeem a code

  Admin:
    POST /api/admin/reconcile/{id}          Verify ledger invariant

ERROR HANDLING:
  The draw and redeem endpoints report business failures in-band
  (HTTP 200 with an error field) because the storefront renders them
  as ordinary outcomes. Everything else maps business failures to 400,
  missing records to 404, and the rest to 500.

SEE ALSO:
  - dto.go: wire types
  - server.go: routing and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/gacha"
	"github.com/toreca/gacha-engine/invite"
	"github.com/toreca/gacha-engine/ledger"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        core.Store
	Ledger       *ledger.Service
	Orchestrator *gacha.Orchestrator
	Invites      *invite.Service
}

// NewHandler creates a handler over the given collaborators.
func NewHandler(store core.Store, led *ledger.Service, orch *gacha.Orchestrator, inv *invite.Service) *Handler {
	return &Handler{Store: store, Ledger: led, Orchestrator: orch, Invites: inv}
}

// =============================================================================
// GACHA
// =============================================================================

// Draw runs a gacha draw for a customer.
func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	gachaID := chi.URLParam(r, "gachaID")

	var req DrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Orchestrator.Draw(r.Context(), gachaID, core.CustomerID(req.CustomerID), req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toDrawResponse(result, nil))
	case result != nil && len(result.Results) > 0:
		// Partial completion: deliver what committed plus the error.
		writeJSON(w, http.StatusOK, toDrawResponse(result, err))
	case core.IsBusinessError(err):
		writeJSON(w, http.StatusOK, toDrawResponse(nil, err))
	case errors.Is(err, core.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "Customer not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Draw failed", err)
	}
}

// =============================================================================
// POINTS
// =============================================================================

// AddPoints credits a customer's ledger.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	kind, req, ok := h.pointsArgs(w, r)
	if !ok {
		return
	}

	tx, err := h.Ledger.Credit(r.Context(), kind, core.CustomerID(req.CustomerID),
		core.Points(req.Amount), req.Description, req.Reference)
	if err != nil {
		writePointsError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// UsePoints debits a customer's ledger.
func (h *Handler) UsePoints(w http.ResponseWriter, r *http.Request) {
	kind, req, ok := h.pointsArgs(w, r)
	if !ok {
		return
	}

	tx, err := h.Ledger.Debit(r.Context(), kind, core.CustomerID(req.CustomerID),
		core.Points(req.Amount), req.Description, req.Reference)
	if err != nil {
		writePointsError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) pointsArgs(w http.ResponseWriter, r *http.Request) (core.LedgerKind, *PointsRequest, bool) {
	kind := core.LedgerKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown ledger kind", nil)
		return "", nil, false
	}
	var req PointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return "", nil, false
	}
	return kind, &req, true
}

func writePointsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInsufficientPoints), errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "Point operation rejected", err)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Point operation failed", err)
	}
}

// GetBalance returns the cached balance for one ledger kind.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))
	kind := core.LedgerKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = core.KindGacha
	}

	balance, err := h.Ledger.Balance(r.Context(), kind, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, BalanceDTO{
			CustomerID: string(id),
			Kind:       string(kind),
			Balance:    int64(balance),
		})
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Customer not found", err)
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "Unknown ledger kind", err)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
	}
}

// GetTransactions returns ledger history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))
	kind := core.LedgerKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = core.KindGacha
	}

	txs, err := h.Ledger.History(r.Context(), kind, id)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			writeError(w, http.StatusBadRequest, "Unknown ledger kind", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CreateCustomer bootstraps a customer with zero balances.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	now := time.Now()
	c := &core.Customer{ID: core.CustomerID(req.ID), CreatedAt: now, UpdatedAt: now}
	if err := h.Store.CreateCustomer(r.Context(), c); err != nil {
		if errors.Is(err, core.ErrDuplicateCustomer) {
			writeError(w, http.StatusConflict, "Customer already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create customer", err)
		return
	}

	writeJSON(w, http.StatusCreated, CustomerDTO{
		ID:        req.ID,
		CreatedAt: now.Format(time.RFC3339),
	})
}

// GetCustomer returns a customer with both cached balances.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))
	c, err := h.Store.GetCustomer(r.Context(), id)
	if err != nil {
		if core.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Customer not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerDTO{
		ID:           string(c.ID),
		GachaPoints:  int64(c.GachaPoints),
		RewardPoints: int64(c.RewardPoints),
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// INVITES
// =============================================================================

// RedeemInvite redeems an invite code for a customer.
func (h *Handler) RedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req RedeemInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Invites.Redeem(r.Context(), core.CustomerID(req.CustomerID), req.Code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RedeemInviteResponse{Success: true})
	case core.IsBusinessError(err):
		writeJSON(w, http.StatusOK, RedeemInviteResponse{Success: false, Error: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, "Redemption failed", err)
	}
}

// IssueInvite creates an invite code for a customer.
func (h *Handler) IssueInvite(w http.ResponseWriter, r *http.Request) {
	var req IssueInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	code, err := h.Invites.Issue(r.Context(), core.CustomerID(req.CustomerID),
		req.MaxUses, time.Duration(req.TTLDays)*24*time.Hour)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			writeError(w, http.StatusBadRequest, "Invalid invite request", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to issue invite", err)
		return
	}

	dto := InviteCodeDTO{
		Code:        code.Code,
		OwnerID:     string(code.OwnerCustomerID),
		MaxUses:     code.MaxUses,
		CurrentUses: code.CurrentUses,
	}
	if !code.ExpiresAt.IsZero() {
		dto.ExpiresAt = code.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// ADMIN
// =============================================================================

// Reconcile verifies the ledger invariant for one customer across both
// ledgers. Drift is a 500: it means the store can no longer be trusted.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := core.CustomerID(chi.URLParam(r, "id"))

	for _, kind := range []core.LedgerKind{core.KindGacha, core.KindReward} {
		if err := h.Ledger.Reconcile(r.Context(), kind, id); err != nil {
			if core.IsNotFound(err) {
				writeError(w, http.StatusNotFound, "Customer not found", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "Ledger reconciliation failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer_id": string(id), "consistent": true})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
