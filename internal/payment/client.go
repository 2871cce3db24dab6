// Package payment talks to the card/payout provider over HTTP and verifies
// the provider's signed webhook deliveries.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
	"soulseer/internal/logger"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chargeIntentRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type payoutRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

type objectResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateChargeIntent asks the provider to collect amount from the account
// holder's card. The returned ref comes back on the balance.top_up event.
func (c *Client) CreateChargeIntent(ctx context.Context, accountID string, amount decimal.Decimal) (string, error) {
	var out objectResponse
	err := c.post(ctx, "/v1/charge_intents", "", chargeIntentRequest{
		AccountID: accountID,
		Amount:    amount,
		Currency:  "usd",
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreatePayout transfers amount to the reader's connected account. reference
// doubles as the idempotency key so a retried call cannot pay twice.
func (c *Client) CreatePayout(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (string, error) {
	var out objectResponse
	err := c.post(ctx, "/v1/payouts", reference, payoutRequest{
		AccountID: accountID,
		Amount:    amount,
		Currency:  "usd",
		Reference: reference,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("payment gateway unreachable", "path", path, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrGatewayError, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("payment gateway returned non-2xx",
			"path", path,
			"status_code", resp.StatusCode,
			"response", string(respBody),
		)
		return fmt.Errorf("%w: %s returned status %d", domain.ErrGatewayError, path, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrGatewayError, path, err)
	}
	return nil
}
