package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type WebhookEventType string

const (
	EventBalanceTopUp    WebhookEventType = "balance.top_up"
	EventPayoutConfirmed WebhookEventType = "payout.confirmed"
	EventPayoutFailed    WebhookEventType = "payout.failed"
	EventDisputeCreated  WebhookEventType = "dispute.created"
)

// GatewayEvent is a verified, decoded payment-gateway callback.
type GatewayEvent struct {
	ID      string           `json:"id"`
	Type    WebhookEventType `json:"type"`
	Created int64            `json:"created"`
	Data    GatewayEventData `json:"data"`
}

type GatewayEventData struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	SessionID string          `json:"session_id,omitempty"`
	PayoutRef string          `json:"payout_ref,omitempty"`
	IntentRef string          `json:"intent_ref,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// WebhookEvent is the dedupe record: its existence means the event was applied.
type WebhookEvent struct {
	ExternalEventID string           `db:"external_event_id" json:"external_event_id"`
	Type            WebhookEventType `db:"type" json:"type"`
	Payload         json.RawMessage  `db:"payload" json:"payload"`
	ProcessedAt     time.Time        `db:"processed_at" json:"processed_at"`
}
