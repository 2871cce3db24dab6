package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
	"soulseer/internal/notify"
	"soulseer/internal/store"
)

// Gateway is the slice of the payment provider the wallet needs.
type Gateway interface {
	CreateChargeIntent(ctx context.Context, accountID string, amount decimal.Decimal) (string, error)
	CreatePayout(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (string, error)
}

type Service struct {
	store             store.Store
	ledger            *Ledger
	gateway           Gateway
	notifier          notify.Notifier
	clock             clock.Clock
	platformAccountID string
}

func NewService(st store.Store, ledger *Ledger, gw Gateway, n notify.Notifier, clk clock.Clock, platformAccountID string) *Service {
	return &Service{
		store:             st,
		ledger:            ledger,
		gateway:           gw,
		notifier:          n,
		clock:             clk,
		platformAccountID: platformAccountID,
	}
}

func positiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Validationf("amount must be positive")
	}
	if !amount.Equal(domain.RoundAmount(amount)) {
		return domain.Validationf("amount must have at most two decimal places")
	}
	return nil
}

// Account returns the balances for id. Accounts that never moved money read as zero.
func (s *Service) Account(ctx context.Context, id string) (*domain.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Account{ID: id}, nil
	}
	return a, err
}

func (s *Service) Transactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Entry, error) {
	if offset < 0 {
		return nil, domain.Validationf("offset must not be negative")
	}
	return s.store.ListEntries(ctx, accountID, limit, offset)
}

func (s *Service) SessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	return s.store.ListSessionEntries(ctx, sessionID)
}

// Reconcile checks the ledger-balance invariant for one account.
func (s *Service) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	a, err := s.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	spendable, err := s.store.SumEntries(ctx, accountID, domain.BucketSpendable)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.SumEntries(ctx, accountID, domain.BucketPendingPayout)
	if err != nil {
		return nil, err
	}

	r := &Reconciliation{
		AccountID:        accountID,
		SpendableBalance: a.SpendableBalance,
		SpendableEntries: spendable,
		PendingPayout:    a.PendingPayout,
		PendingEntries:   pending,
	}
	r.Balanced = spendable.Equal(a.SpendableBalance) && pending.Equal(a.PendingPayout)
	if !r.Balanced {
		logger.Error("ledger out of balance", "account_id", accountID,
			"spendable", a.SpendableBalance, "spendable_entries", spendable,
			"pending_payout", a.PendingPayout, "pending_entries", pending)
	}
	return r, nil
}

// TopUp opens a charge intent. The balance only changes when the gateway
// confirms the charge through a balance.top_up webhook.
func (s *Service) TopUp(ctx context.Context, accountID string, amount decimal.Decimal) (*TopUpIntent, error) {
	if err := positiveAmount(amount); err != nil {
		return nil, err
	}

	ref, err := s.gateway.CreateChargeIntent(ctx, accountID, amount)
	if err != nil {
		metrics.RecordWalletOperation("top_up", "failed")
		return nil, fmt.Errorf("create charge intent: %w", err)
	}

	metrics.RecordWalletOperation("top_up", "pending")
	logger.Info("charge intent created", "account_id", accountID, "intent_ref", ref, "amount", amount.StringFixed(2))
	return &TopUpIntent{IntentRef: ref, AccountID: accountID, Amount: amount, Status: "pending"}, nil
}

// RequestPayout moves money out of a reader's pending payout. The debit is
// committed before the gateway call; a gateway failure restores it. If the
// restore fails too, the payout comes back with PayoutReversalPending
// alongside the error so it can be replayed.
func (s *Service) RequestPayout(ctx context.Context, readerID string, amount decimal.Decimal) (*Payout, error) {
	if err := positiveAmount(amount); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	payout := &Payout{ID: domain.NewPayoutID(now), ReaderID: readerID, Amount: amount, CreatedAt: now}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := s.ledger.Debit(ctx, tx, domain.Posting{
			AccountID: readerID,
			Bucket:    domain.BucketPendingPayout,
			Kind:      domain.EntryPayout,
			Amount:    amount,
			Reference: payout.ID,
			Memo:      "payout requested",
		})
		return err
	})
	if err != nil {
		metrics.RecordWalletOperation("payout", "rejected")
		return nil, err
	}

	ref, gwErr := s.gateway.CreatePayout(ctx, readerID, amount, payout.ID)
	if gwErr != nil {
		metrics.RecordWalletOperation("payout", "failed")
		// The debit is committed, so the restore must not die with the request.
		err := s.RestorePayout(context.WithoutCancel(ctx), nil, readerID, amount, payout.ID, "", "payout reversed: gateway error")
		if err != nil {
			payout.Status = PayoutReversalPending
			metrics.RecordWalletOperation("payout", PayoutReversalPending)
			logger.Error("payout reversal failed",
				"payout_id", payout.ID,
				"reader_id", readerID,
				"amount", amount.StringFixed(2),
				"gateway_error", gwErr,
				"error", err,
			)
			return payout, fmt.Errorf("create payout: %w (reversal pending: %w)", gwErr, err)
		}
		return nil, fmt.Errorf("create payout: %w", gwErr)
	}

	payout.GatewayRef = ref
	payout.Status = PayoutSubmitted
	metrics.RecordWalletOperation("payout", PayoutSubmitted)
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.PayoutRequested,
		Recipients: []string{readerID},
		Data:       map[string]interface{}{"payout_id": payout.ID, "amount": amount.StringFixed(2)},
	})
	return payout, nil
}

// RestorePayout credits a failed payout back to pending payout, at most once
// per payout id. With a nil tx it runs in its own transaction.
func (s *Service) RestorePayout(ctx context.Context, tx store.Tx, readerID string, amount decimal.Decimal, payoutID, webhookEventID, memo string) error {
	apply := func(tx store.Tx) error {
		_, err := s.ledger.PostOnce(ctx, tx, domain.Posting{
			AccountID:      readerID,
			Bucket:         domain.BucketPendingPayout,
			Kind:           domain.EntryPayout,
			Amount:         amount,
			WebhookEventID: webhookEventID,
			Reference:      payoutID + ":restored",
			Memo:           memo,
		})
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			logger.Info("payout already restored", "payout_id", payoutID)
			return nil
		}
		return err
	}
	if tx != nil {
		return apply(tx)
	}
	return s.store.WithTx(ctx, apply)
}

// Refund returns part or all of a settled charge to the client. RefundID is
// the idempotency key: a repeated refund returns the original result with
// domain.ErrAlreadyProcessed.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if req.RefundID == "" {
		return nil, domain.Validationf("refund id is required")
	}
	if err := positiveAmount(req.Amount); err != nil {
		return nil, err
	}

	var (
		result   *Refund
		replayed bool
		clientID string
		readerID string
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if sess.State != domain.StateCompleted && sess.State != domain.StateDisputed {
			return domain.InvalidStatef("session %s is %s; only settled sessions can be refunded", sess.ID, sess.State)
		}
		st, err := tx.GetSettlement(ctx, sess.ID)
		if err != nil {
			return err
		}
		clientID, readerID = st.ClientID, st.ReaderID

		entries, err := tx.SessionEntries(ctx, sess.ID)
		if err != nil {
			return err
		}
		if prior := priorRefund(entries, st, req.RefundID); prior != nil {
			result, replayed = prior, true
			return nil
		}

		refunded, feeRefunded, earningsRefunded := refundTotals(entries, st)
		remaining := st.TotalCharged.Sub(refunded)
		if req.Amount.GreaterThan(remaining) {
			return domain.Validationf("refund %s exceeds refundable %s", req.Amount.StringFixed(2), remaining.StringFixed(2))
		}

		feePortion, readerPortion := refundSplit(req.Amount, st,
			st.PlatformFee.Sub(feeRefunded), st.ReaderEarnings.Sub(earningsRefunded))

		postings := []struct {
			credit bool
			p      domain.Posting
		}{
			{true, domain.Posting{AccountID: st.ClientID, Bucket: domain.BucketSpendable, Amount: req.Amount}},
			{false, domain.Posting{AccountID: st.ReaderID, Bucket: domain.BucketPendingPayout, Amount: readerPortion}},
			{false, domain.Posting{AccountID: s.platformAccountID, Bucket: domain.BucketSpendable, Amount: feePortion}},
		}
		for _, leg := range postings {
			leg.p.Kind = domain.EntryRefund
			leg.p.SessionID = sess.ID
			leg.p.Reference = req.RefundID
			leg.p.Memo = req.Reason
			var err error
			if leg.credit {
				_, err = s.ledger.Credit(ctx, tx, leg.p)
			} else {
				_, err = s.ledger.Debit(ctx, tx, leg.p)
			}
			if err != nil {
				return err
			}
		}

		result = &Refund{
			ID:              req.RefundID,
			SessionID:       sess.ID,
			Amount:          req.Amount,
			PlatformPortion: feePortion,
			ReaderPortion:   readerPortion,
			Reason:          req.Reason,
			CreatedAt:       s.clock.Now(),
		}
		return nil
	})
	if err != nil {
		metrics.RecordWalletOperation("refund", "failed")
		return nil, err
	}
	if replayed {
		return result, domain.ErrAlreadyProcessed
	}

	metrics.RecordWalletOperation("refund", "applied")
	logger.Info("refund issued", "session_id", req.SessionID, "refund_id", req.RefundID, "amount", req.Amount.StringFixed(2))
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.RefundIssued,
		SessionID:  req.SessionID,
		Recipients: []string{clientID, readerID},
		Data:       map[string]interface{}{"refund_id": req.RefundID, "amount": req.Amount.StringFixed(2)},
	})
	return result, nil
}

// refundSplit divides a refund in the settlement's fee proportion, never
// taking more from either side than that side still holds from the session.
func refundSplit(amount decimal.Decimal, st *domain.Settlement, feeLeft, earningsLeft decimal.Decimal) (fee, earnings decimal.Decimal) {
	fee = domain.RoundAmount(amount.Mul(st.PlatformFee).Div(st.TotalCharged))
	if fee.GreaterThan(feeLeft) {
		fee = feeLeft
	}
	earnings = amount.Sub(fee)
	if earnings.GreaterThan(earningsLeft) {
		earnings = earningsLeft
		fee = amount.Sub(earnings)
	}
	return fee, earnings
}

func refundTotals(entries []domain.Entry, st *domain.Settlement) (refunded, fee, earnings decimal.Decimal) {
	for _, e := range entries {
		if e.Kind != domain.EntryRefund {
			continue
		}
		switch {
		case e.AccountID == st.ClientID && e.Bucket == domain.BucketSpendable:
			refunded = refunded.Add(e.Amount)
		case e.AccountID == st.ReaderID && e.Bucket == domain.BucketPendingPayout:
			earnings = earnings.Add(e.Amount.Neg())
		default:
			fee = fee.Add(e.Amount.Neg())
		}
	}
	return refunded, fee, earnings
}

func priorRefund(entries []domain.Entry, st *domain.Settlement, refundID string) *Refund {
	var r *Refund
	for _, e := range entries {
		if e.Kind != domain.EntryRefund || e.Reference == nil || *e.Reference != refundID {
			continue
		}
		if r == nil {
			r = &Refund{ID: refundID, SessionID: st.SessionID, Reason: e.Memo, CreatedAt: e.CreatedAt}
		}
		switch {
		case e.AccountID == st.ClientID && e.Bucket == domain.BucketSpendable:
			r.Amount = e.Amount
		case e.AccountID == st.ReaderID && e.Bucket == domain.BucketPendingPayout:
			r.ReaderPortion = e.Amount.Neg()
		default:
			r.PlatformPortion = e.Amount.Neg()
		}
	}
	return r
}

// Dispute flags a settled session for adjudication. It moves no money.
func (s *Service) Dispute(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sess, err = MarkDisputed(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session disputed", "session_id", sessionID, "reason", reason)
	return sess, nil
}

// MarkDisputed moves a completed session to disputed inside tx. Already
// disputed sessions are returned unchanged.
func MarkDisputed(ctx context.Context, tx store.Tx, sessionID string) (*domain.Session, error) {
	sess, err := tx.LockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case domain.StateDisputed:
		return sess, nil
	case domain.StateCompleted:
	default:
		return nil, domain.InvalidStatef("session %s is %s; only completed sessions can be disputed", sess.ID, sess.State)
	}

	sess.State = domain.StateDisputed
	if err := tx.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	metrics.RecordSessionTransition(string(domain.StateDisputed), string(sess.Type))
	return sess, nil
}
