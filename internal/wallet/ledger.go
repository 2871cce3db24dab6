package wallet

import (
	"context"
	"errors"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
	"soulseer/internal/store"
)

// Ledger is the only code that changes account balances. Every change locks
// the account row, moves one bucket and appends the matching entry inside the
// caller's transaction.
type Ledger struct {
	clock clock.Clock
}

func NewLedger(clk clock.Clock) *Ledger {
	return &Ledger{clock: clk}
}

// Post applies a signed posting. A posting that would leave the bucket
// negative fails with *domain.InsufficientFundsError and changes nothing.
func (l *Ledger) Post(ctx context.Context, tx store.Tx, p domain.Posting) (*domain.Entry, error) {
	acct, err := tx.LockAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	before := acct.Balance(p.Bucket)
	after := before.Add(p.Amount)
	if after.IsNegative() {
		return nil, &domain.InsufficientFundsError{
			AccountID: p.AccountID,
			Required:  p.Amount.Neg(),
			Available: before,
		}
	}

	acct.SetBalance(p.Bucket, after)
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}

	entry := p.NewEntry(after, l.clock.Now())
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *Ledger) Debit(ctx context.Context, tx store.Tx, p domain.Posting) (*domain.Entry, error) {
	if p.Amount.IsNegative() {
		return nil, domain.Validationf("debit amount must not be negative")
	}
	p.Amount = p.Amount.Neg()
	return l.Post(ctx, tx, p)
}

func (l *Ledger) Credit(ctx context.Context, tx store.Tx, p domain.Posting) (*domain.Entry, error) {
	if p.Amount.IsNegative() {
		return nil, domain.Validationf("credit amount must not be negative")
	}
	return l.Post(ctx, tx, p)
}

// PostOnce applies p unless an entry with the same account, kind and reference
// exists, in which case it returns that entry with domain.ErrAlreadyProcessed.
func (l *Ledger) PostOnce(ctx context.Context, tx store.Tx, p domain.Posting) (*domain.Entry, error) {
	if p.Reference == "" {
		return nil, domain.Validationf("idempotent posting needs a reference")
	}
	if _, err := tx.LockAccount(ctx, p.AccountID); err != nil {
		return nil, err
	}
	prior, err := tx.EntryByReference(ctx, p.AccountID, p.Kind, p.Reference)
	if err == nil {
		return prior, domain.ErrAlreadyProcessed
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return l.Post(ctx, tx, p)
}
