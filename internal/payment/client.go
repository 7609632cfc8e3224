package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	StatusCreated = "created"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

type Order struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int    `json:"amount_cents"`
}

// Client is the narrow surface the core needs from the payment gateway.
type Client interface {
	CreateOrder(ctx context.Context, consultationID uuid.UUID, amountCents int) (*Order, error)
	GetStatus(ctx context.Context, orderID string) (string, error)
}

// New selects the gateway or the bypass implementation. The bypass flag
// lives here, at the boundary, so lifecycle code never branches on it.
func New(apiURL, apiKey string, bypass bool) Client {
	if bypass {
		return BypassClient{}
	}
	return &HTTPClient{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// BypassClient marks every order paid without calling out. Dev and test
// environments only.
type BypassClient struct{}

func (BypassClient) CreateOrder(_ context.Context, consultationID uuid.UUID, amountCents int) (*Order, error) {
	return &Order{
		ID:          "bypass-" + consultationID.String(),
		Status:      StatusPaid,
		AmountCents: amountCents,
	}, nil
}

func (BypassClient) GetStatus(context.Context, string) (string, error) {
	return StatusPaid, nil
}

type HTTPClient struct {
	apiURL string
	apiKey string
	client *http.Client
}

type createOrderRequest struct {
	Reference   string `json:"reference"`
	AmountCents int    `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func (c *HTTPClient) CreateOrder(ctx context.Context, consultationID uuid.UUID, amountCents int) (*Order, error) {
	body := createOrderRequest{
		Reference:   consultationID.String(),
		AmountCents: amountCents,
		Currency:    "USD",
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, orderID string) (string, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &order); err != nil {
		return "", fmt.Errorf("get order status: %w", err)
	}
	return order.Status, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
