/*
client.go - HTTP implementation of the Commerce Service

PURPOSE:
  Talks to the shop backend's admin API. All configuration (base URL,
  access token, timeout) is passed at construction; there is no
  module-level client state.

ENDPOINTS:
  GET    /collections/{gachaID}/lineup.json          draw catalog
  POST   /draft_orders.json                          create order
  POST   /draft_orders/{id}/complete.json            complete order
  DELETE /draft_orders/{id}.json                     cancel order
  POST   /inventory_levels/adjust.json               adjust stock
  GET    /products/{cardID}/metafields.json          reward point value

TIMEOUTS:
  Every call derives a bounded deadline from cfg.Timeout. Exceeding it
  surfaces as a transient ExternalError, never as silent success.

SEE ALSO:
  - errors.go: transient classification
  - gacha/saga.go: retry/compensation policy on top of this client
*/
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/toreca/gacha-engine/core"
)

// Config carries the connection settings for the commerce backend.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client implements Service over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ Service = (*Client)(nil)

// NewClient creates a client. A zero timeout defaults to 10 seconds.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type lineupPayload struct {
	Cost       int64  `json:"point_cost"`
	DailyLimit *int   `json:"daily_draw_limit"`
	Cards      []struct {
		CardID       string `json:"card_id"`
		Title        string `json:"title"`
		Image        string `json:"image"`
		VariantID    string `json:"variant_id"`
		InventoryID  string `json:"inventory_item_id"`
		LocationID   string `json:"location_id"`
		Stock        int    `json:"stock"`
	} `json:"cards"`
}

type draftOrderRequest struct {
	DraftOrder struct {
		CustomerID string         `json:"customer_id"`
		LineItems  []lineItemWire `json:"line_items"`
	} `json:"draft_order"`
}

type lineItemWire struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type draftOrderResponse struct {
	DraftOrder struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
		Total  string `json:"total_price"`
	} `json:"draft_order"`
}

type inventoryAdjustRequest struct {
	InventoryItemID     string `json:"inventory_item_id"`
	LocationID          string `json:"location_id"`
	AvailableAdjustment int    `json:"available_adjustment"`
}

type metafieldsResponse struct {
	Metafields []struct {
		Namespace string `json:"namespace"`
		Key       string `json:"key"`
		Value     string `json:"value"`
	} `json:"metafields"`
}

// =============================================================================
// SERVICE IMPLEMENTATION
// =============================================================================

func (c *Client) FetchLineup(ctx context.Context, gachaID string) (*Lineup, error) {
	var payload lineupPayload
	err := c.do(ctx, "fetch lineup", http.MethodGet,
		fmt.Sprintf("/collections/%s/lineup.json", gachaID), nil, nil, &payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCatalogUnavailable, err)
	}
	if payload.Cost <= 0 {
		return nil, fmt.Errorf("%w: collection %s has no point cost", core.ErrCatalogUnavailable, gachaID)
	}

	lineup := &Lineup{
		GachaID:    gachaID,
		Cost:       core.Points(payload.Cost),
		DailyLimit: payload.DailyLimit,
	}
	for _, card := range payload.Cards {
		if card.Stock <= 0 {
			continue // exhausted cards never enter the pool
		}
		lineup.Cards = append(lineup.Cards, LineupCard{
			CardID:       card.CardID,
			Title:        card.Title,
			Image:        card.Image,
			VariantRef:   card.VariantID,
			InventoryRef: card.InventoryID,
			LocationRef:  card.LocationID,
			Stock:        card.Stock,
		})
	}
	return lineup, nil
}

func (c *Client) CreateOrder(ctx context.Context, customerID core.CustomerID, items []LineItem, idempotencyKey string) (string, error) {
	var req draftOrderRequest
	req.DraftOrder.CustomerID = string(customerID)
	for _, item := range items {
		req.DraftOrder.LineItems = append(req.DraftOrder.LineItems, lineItemWire{
			VariantID: item.VariantRef,
			Quantity:  item.Quantity,
		})
	}

	headers := map[string]string{"X-Idempotency-Key": idempotencyKey}
	var resp draftOrderResponse
	if err := c.do(ctx, "create order", http.MethodPost, "/draft_orders.json", headers, req, &resp); err != nil {
		return "", err
	}
	if resp.DraftOrder.ID == "" {
		return "", &ExternalError{Op: "create order", Err: fmt.Errorf("response missing order id")}
	}
	return resp.DraftOrder.ID, nil
}

func (c *Client) CompleteOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp draftOrderResponse
	err := c.do(ctx, "complete order", http.MethodPost,
		fmt.Sprintf("/draft_orders/%s/complete.json", orderID), nil, nil, &resp)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	if resp.DraftOrder.Total != "" {
		if total, err = decimal.NewFromString(resp.DraftOrder.Total); err != nil {
			return nil, &ExternalError{Op: "complete order", Err: fmt.Errorf("bad total %q: %w", resp.DraftOrder.Total, err)}
		}
	}
	return &Order{
		ID:     resp.DraftOrder.ID,
		Name:   resp.DraftOrder.Name,
		Status: resp.DraftOrder.Status,
		Total:  total,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, "cancel order", http.MethodDelete,
		fmt.Sprintf("/draft_orders/%s.json", orderID), nil, nil, nil)
}

func (c *Client) AdjustInventory(ctx context.Context, inventoryRef, locationRef string, delta int) error {
	req := inventoryAdjustRequest{
		InventoryItemID:     inventoryRef,
		LocationID:          locationRef,
		AvailableAdjustment: delta,
	}
	return c.do(ctx, "adjust inventory", http.MethodPost, "/inventory_levels/adjust.json", nil, req, nil)
}

func (c *Client) RewardPointValue(ctx context.Context, cardID string) (core.Points, error) {
	var resp metafieldsResponse
	err := c.do(ctx, "fetch reward value", http.MethodGet,
		fmt.Sprintf("/products/%s/metafields.json", cardID), nil, nil, &resp)
	if err != nil {
		return 0, err
	}

	for _, mf := range resp.Metafields {
		if mf.Namespace == "custom" && mf.Key == "reward_point_value" {
			var v int64
			if _, err := fmt.Sscanf(mf.Value, "%d", &v); err != nil || v < 0 {
				return 0, &ExternalError{Op: "fetch reward value", Err: fmt.Errorf("bad reward value %q", mf.Value)}
			}
			return core.Points(v), nil
		}
	}
	return 0, nil // no payout configured
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *Client) do(ctx context.Context, op, method, path string, headers map[string]string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &ExternalError{Op: op, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return &ExternalError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", c.cfg.AccessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ExternalError{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ExternalError{
			Op:        op,
			Status:    resp.StatusCode,
			Transient: transientStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", bytes.TrimSpace(data)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ExternalError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}
