package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopUpIntent is a pending charge. Funds land when the gateway confirms it.
type TopUpIntent struct {
	IntentRef string          `json:"intent_ref"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}

// Payout statuses. A reversal_pending payout failed at the gateway and its
// debit could not be restored yet; RestorePayout with its id clears it.
const (
	PayoutSubmitted       = "submitted"
	PayoutReversalPending = "reversal_pending"
)

type Payout struct {
	ID         string          `json:"id"`
	ReaderID   string          `json:"reader_id"`
	Amount     decimal.Decimal `json:"amount"`
	GatewayRef string          `json:"gateway_ref"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

type RefundRequest struct {
	SessionID string
	RefundID  string
	Amount    decimal.Decimal
	Reason    string
}

// Refund reverses part of a settlement in the proportions it was split.
type Refund struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Amount          decimal.Decimal `json:"amount"`
	PlatformPortion decimal.Decimal `json:"platform_portion"`
	ReaderPortion   decimal.Decimal `json:"reader_portion"`
	Reason          string          `json:"reason"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Reconciliation compares an account's balances with the sum of its entries.
type Reconciliation struct {
	AccountID        string          `json:"account_id"`
	SpendableBalance decimal.Decimal `json:"spendable_balance"`
	SpendableEntries decimal.Decimal `json:"spendable_entries"`
	PendingPayout    decimal.Decimal `json:"pending_payout"`
	PendingEntries   decimal.Decimal `json:"pending_entries"`
	Balanced         bool            `json:"balanced"`
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"money"`
}

type PayoutRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"money"`
}

type RefundBody struct {
	RefundID string          `json:"refund_id" binding:"required,max=64"`
	Amount   decimal.Decimal `json:"amount" binding:"money"`
	Reason   string          `json:"reason" binding:"max=500"`
}

type DisputeBody struct {
	Reason string `json:"reason" binding:"required,max=500"`
}
