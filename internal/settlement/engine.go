// Package settlement turns an ended session into money movement exactly once.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
	"soulseer/internal/notify"
	"soulseer/internal/store"
	"soulseer/internal/wallet"
)

// Termination records who ended a session, when, and why.
type Termination struct {
	At      time.Time
	Reason  string
	EndedBy string
}

type Engine struct {
	ledger            *wallet.Ledger
	notifier          notify.Notifier
	feeRate           decimal.Decimal
	platformAccountID string
}

func NewEngine(ledger *wallet.Ledger, n notify.Notifier, feeRate decimal.Decimal, platformAccountID string) *Engine {
	return &Engine{
		ledger:            ledger,
		notifier:          n,
		feeRate:           feeRate,
		platformAccountID: platformAccountID,
	}
}

// Settle closes sess and moves its charge inside tx. sess must have been
// loaded with tx.LockSession. Claiming the settlement and marking the session
// completed are the same write, so a second caller finds SettlementID set and
// gets the first result back with domain.ErrAlreadySettled.
func (e *Engine) Settle(ctx context.Context, tx store.Tx, sess *domain.Session, term Termination) (*domain.Settlement, error) {
	if sess.SettlementID != nil {
		prior, err := tx.GetSettlement(ctx, sess.ID)
		if err != nil {
			return nil, domain.Violation("session %s has settlement id %s but no settlement row", sess.ID, *sess.SettlementID)
		}
		return prior, domain.ErrAlreadySettled
	}
	if sess.State != domain.StateActive {
		return nil, domain.InvalidStatef("session %s is %s; only active sessions settle", sess.ID, sess.State)
	}

	endedAt := term.At
	sess.EndedAt = &endedAt
	elapsed := sess.Elapsed(endedAt)

	// Lock order: client, reader, platform.
	client, err := tx.LockAccount(ctx, sess.ClientID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.LockAccount(ctx, sess.ReaderID); err != nil {
		return nil, err
	}
	if _, err := tx.LockAccount(ctx, e.platformAccountID); err != nil {
		return nil, err
	}

	charge := Quote(sess.RatePerMinute, elapsed, client.SpendableBalance)
	if charge.Capped {
		logger.Warn("settlement capped at affordable minutes",
			"session_id", sess.ID,
			"billed_minutes", domain.BilledMinutes(elapsed),
			"affordable_minutes", charge.BilledMinutes,
		)
	}
	fee, earnings := domain.Split(charge.Total, e.feeRate)

	st := &domain.Settlement{
		ID:              domain.NewSettlementID(endedAt),
		SessionID:       sess.ID,
		ClientID:        sess.ClientID,
		ReaderID:        sess.ReaderID,
		RatePerMinute:   sess.RatePerMinute,
		DurationSeconds: int64(elapsed / time.Second),
		BilledMinutes:   charge.BilledMinutes,
		TotalCharged:    charge.Total,
		PlatformFee:     fee,
		ReaderEarnings:  earnings,
		FeeRate:         e.feeRate,
		EndReason:       term.Reason,
		EndedBy:         term.EndedBy,
		CreatedAt:       endedAt,
	}

	base := domain.Posting{SessionID: sess.ID, Reference: st.ID}
	legs := []struct {
		debit bool
		p     domain.Posting
	}{
		{true, withLeg(base, sess.ClientID, domain.BucketSpendable, domain.EntryCharge, charge.Total, "session charge")},
		{false, withLeg(base, sess.ReaderID, domain.BucketPendingPayout, domain.EntryEarning, earnings, "session earnings")},
		{false, withLeg(base, e.platformAccountID, domain.BucketSpendable, domain.EntryPlatformFee, fee, "platform fee")},
	}
	for _, leg := range legs {
		var err error
		if leg.debit {
			_, err = e.ledger.Debit(ctx, tx, leg.p)
		} else {
			_, err = e.ledger.Credit(ctx, tx, leg.p)
		}
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, domain.Violation("settlement %s overdraws %s: %v", st.ID, leg.p.AccountID, err)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.InsertSettlement(ctx, st); err != nil {
		return nil, err
	}

	reason, endedBy := term.Reason, term.EndedBy
	sess.State = domain.StateCompleted
	sess.SettlementID = &st.ID
	sess.Reason = &reason
	sess.EndedBy = &endedBy
	if err := tx.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return st, nil
}

func withLeg(base domain.Posting, accountID string, bucket domain.Bucket, kind domain.EntryKind, amount decimal.Decimal, memo string) domain.Posting {
	base.AccountID = accountID
	base.Bucket = bucket
	base.Kind = kind
	base.Amount = amount
	base.Memo = memo
	return base
}

// Announce records and publishes a committed settlement. Call it only after
// the transaction that ran Settle has committed.
func (e *Engine) Announce(ctx context.Context, st *domain.Settlement) {
	metrics.RecordSettlement("applied")
	metrics.RecordSettledAmounts(st.TotalCharged.InexactFloat64(), st.PlatformFee.InexactFloat64(), st.ReaderEarnings.InexactFloat64())
	logger.Info("session settled",
		"session_id", st.SessionID,
		"settlement_id", st.ID,
		"billed_minutes", st.BilledMinutes,
		"total_charged", st.TotalCharged.StringFixed(2),
		"platform_fee", st.PlatformFee.StringFixed(2),
		"reader_earnings", st.ReaderEarnings.StringFixed(2),
		"reason", st.EndReason,
	)
	e.notifier.Notify(ctx, notify.Event{
		Type:       notify.SettlementCompleted,
		SessionID:  st.SessionID,
		Recipients: []string{st.ClientID, st.ReaderID},
		Data: map[string]interface{}{
			"settlement_id":   st.ID,
			"billed_minutes":  st.BilledMinutes,
			"total_charged":   st.TotalCharged.StringFixed(2),
			"platform_fee":    st.PlatformFee.StringFixed(2),
			"reader_earnings": st.ReaderEarnings.StringFixed(2),
		},
	})
}
