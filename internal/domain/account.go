package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket selects which balance of an account an entry moves.
type Bucket string

const (
	BucketSpendable     Bucket = "spendable"
	BucketPendingPayout Bucket = "pending_payout"
)

type EntryKind string

const (
	EntryCharge      EntryKind = "charge"
	EntryEarning     EntryKind = "earning"
	EntryPlatformFee EntryKind = "platform_fee"
	EntryRefund      EntryKind = "refund"
	EntryPayout      EntryKind = "payout"
	EntryBalanceAdd  EntryKind = "balance_add"
)

type Account struct {
	ID               string          `db:"id" json:"id"`
	SpendableBalance decimal.Decimal `db:"spendable_balance" json:"spendable_balance"`
	PendingPayout    decimal.Decimal `db:"pending_payout" json:"pending_payout"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

func (a *Account) Balance(b Bucket) decimal.Decimal {
	if b == BucketPendingPayout {
		return a.PendingPayout
	}
	return a.SpendableBalance
}

func (a *Account) SetBalance(b Bucket, v decimal.Decimal) {
	if b == BucketPendingPayout {
		a.PendingPayout = v
		return
	}
	a.SpendableBalance = v
}

// Entry is an immutable, append-only ledger record. Amount is signed.
type Entry struct {
	ID                    string          `db:"id" json:"id"`
	AccountID             string          `db:"account_id" json:"account_id"`
	Bucket                Bucket          `db:"bucket" json:"bucket"`
	Kind                  EntryKind       `db:"kind" json:"kind"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter          decimal.Decimal `db:"balance_after" json:"balance_after"`
	RelatedSessionID      *string         `db:"related_session_id" json:"related_session_id,omitempty"`
	RelatedWebhookEventID *string         `db:"related_webhook_event_id" json:"related_webhook_event_id,omitempty"`
	Reference             *string         `db:"reference" json:"reference,omitempty"`
	Memo                  string          `db:"memo" json:"memo"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// Posting describes one balance movement to be applied by the wallet ledger.
type Posting struct {
	AccountID      string
	Bucket         Bucket
	Kind           EntryKind
	Amount         decimal.Decimal
	SessionID      string
	WebhookEventID string
	Reference      string
	Memo           string
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewEntry builds the entry recording p against an account whose balance is now balanceAfter.
func (p Posting) NewEntry(balanceAfter decimal.Decimal, at time.Time) *Entry {
	return &Entry{
		ID:                    NewEntryID(at),
		AccountID:             p.AccountID,
		Bucket:                p.Bucket,
		Kind:                  p.Kind,
		Amount:                p.Amount,
		BalanceAfter:          balanceAfter,
		RelatedSessionID:      optional(p.SessionID),
		RelatedWebhookEventID: optional(p.WebhookEventID),
		Reference:             optional(p.Reference),
		Memo:                  p.Memo,
		CreatedAt:             at,
	}
}
