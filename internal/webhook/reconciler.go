// Package webhook applies payment-gateway callbacks to the ledger exactly once.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
	"soulseer/internal/store"
	"soulseer/internal/wallet"
)

type Reconciler struct {
	store  store.Store
	ledger *wallet.Ledger
	wallet *wallet.Service
	clock  clock.Clock
}

func NewReconciler(st store.Store, ledger *wallet.Ledger, w *wallet.Service, clk clock.Clock) *Reconciler {
	return &Reconciler{store: st, ledger: ledger, wallet: w, clock: clk}
}

// Apply records ev and applies its effect in one transaction. The dedupe
// record is written first, so a replayed event id returns
// domain.ErrAlreadyProcessed without touching any balance.
func (r *Reconciler) Apply(ctx context.Context, ev *domain.GatewayEvent) error {
	if ev.ID == "" {
		return domain.Validationf("event id is required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		inserted, err := tx.RecordWebhookEvent(ctx, &domain.WebhookEvent{
			ExternalEventID: ev.ID,
			Type:            ev.Type,
			Payload:         payload,
			ProcessedAt:     r.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyProcessed
		}
		return r.apply(ctx, tx, ev)
	})

	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		metrics.RecordWebhookEvent(string(ev.Type), "duplicate")
		logger.Info("webhook already processed", "event_id", ev.ID, "type", ev.Type)
		return err
	case err != nil:
		metrics.RecordWebhookEvent(string(ev.Type), "failed")
		logger.Error("webhook apply failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		return err
	}

	metrics.RecordWebhookEvent(string(ev.Type), "applied")
	logger.Info("webhook applied", "event_id", ev.ID, "type", ev.Type, "account_id", ev.Data.AccountID)
	return nil
}

func (r *Reconciler) apply(ctx context.Context, tx store.Tx, ev *domain.GatewayEvent) error {
	switch ev.Type {
	case domain.EventBalanceTopUp:
		return r.topUp(ctx, tx, ev)
	case domain.EventPayoutConfirmed:
		return nil
	case domain.EventPayoutFailed:
		return r.payoutFailed(ctx, tx, ev)
	case domain.EventDisputeCreated:
		if ev.Data.SessionID == "" {
			return domain.Validationf("dispute event %s has no session", ev.ID)
		}
		_, err := wallet.MarkDisputed(ctx, tx, ev.Data.SessionID)
		return err
	default:
		// Recorded so the gateway stops retrying; nothing to apply.
		logger.Debug("ignoring webhook type", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
}

func (r *Reconciler) topUp(ctx context.Context, tx store.Tx, ev *domain.GatewayEvent) error {
	if ev.Data.AccountID == "" {
		return domain.Validationf("top-up event %s has no account", ev.ID)
	}
	if !ev.Data.Amount.IsPositive() || !ev.Data.Amount.Equal(domain.RoundAmount(ev.Data.Amount)) {
		return domain.Validationf("top-up event %s has invalid amount %s", ev.ID, ev.Data.Amount)
	}

	// One intent credits once even if the gateway reports it under two event ids.
	ref := ev.Data.IntentRef
	if ref == "" {
		ref = ev.ID
	}
	_, err := r.ledger.PostOnce(ctx, tx, domain.Posting{
		AccountID:      ev.Data.AccountID,
		Bucket:         domain.BucketSpendable,
		Kind:           domain.EntryBalanceAdd,
		Amount:         ev.Data.Amount,
		WebhookEventID: ev.ID,
		Reference:      ref,
		Memo:           "balance top-up",
	})
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		logger.Warn("top-up intent already credited", "event_id", ev.ID, "intent_ref", ref)
		return nil
	}
	return err
}

// payoutFailed restores the amount the original payout debited. The event's
// own amount is only cross-checked.
func (r *Reconciler) payoutFailed(ctx context.Context, tx store.Tx, ev *domain.GatewayEvent) error {
	if ev.Data.AccountID == "" || ev.Data.PayoutRef == "" {
		return domain.Validationf("payout event %s needs account and payout reference", ev.ID)
	}
	if _, err := tx.LockAccount(ctx, ev.Data.AccountID); err != nil {
		return err
	}
	debit, err := tx.EntryByReference(ctx, ev.Data.AccountID, domain.EntryPayout, ev.Data.PayoutRef)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Validationf("payout %s is unknown for account %s", ev.Data.PayoutRef, ev.Data.AccountID)
	}
	if err != nil {
		return err
	}

	amount := debit.Amount.Abs()
	if !ev.Data.Amount.IsZero() && !ev.Data.Amount.Equal(amount) {
		logger.Warn("payout failure amount mismatch",
			"payout_id", ev.Data.PayoutRef,
			"debited", amount.StringFixed(2),
			"reported", ev.Data.Amount.StringFixed(2),
		)
	}

	memo := "payout failed"
	if ev.Data.Reason != "" {
		memo += ": " + ev.Data.Reason
	}
	return r.wallet.RestorePayout(ctx, tx, ev.Data.AccountID, amount, ev.Data.PayoutRef, ev.ID, memo)
}
