// Package store is the persistence boundary for sessions, accounts, ledger
// entries, settlements and webhook dedupe records.
//
// All balance-affecting work runs inside Store.WithTx. Implementations lock
// rows pessimistically; callers must acquire locks in the fixed order
// webhook event, session, then accounts (client, reader, platform).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
)

type Queries interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessionsByState(ctx context.Context, state domain.SessionState) ([]domain.Session, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]domain.Entry, error)
	ListSessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error)
	SumEntries(ctx context.Context, accountID string, bucket domain.Bucket) (decimal.Decimal, error)
	GetSettlementBySession(ctx context.Context, sessionID string) (*domain.Settlement, error)
	GetWebhookEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error)
}

type Store interface {
	Queries
	// WithTx runs fn as one atomic unit. Nothing fn writes is visible unless it returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	LockSession(ctx context.Context, id string) (*domain.Session, error)
	InsertSession(ctx context.Context, s *domain.Session) error
	UpdateSession(ctx context.Context, s *domain.Session) error
	// ClientSessions lists the client's sessions in any of states, including
	// writes staged by this transaction. Hold the client's account lock for a
	// stable answer.
	ClientSessions(ctx context.Context, clientID string, states ...domain.SessionState) ([]domain.Session, error)

	// LockAccount returns the account locked for update, creating an empty one on first use.
	LockAccount(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, a *domain.Account) error
	AppendEntry(ctx context.Context, e *domain.Entry) error
	// EntryByReference finds the entry an idempotent posting already wrote.
	EntryByReference(ctx context.Context, accountID string, kind domain.EntryKind, reference string) (*domain.Entry, error)

	InsertSettlement(ctx context.Context, st *domain.Settlement) error
	GetSettlement(ctx context.Context, sessionID string) (*domain.Settlement, error)
	SessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error)

	// RecordWebhookEvent inserts the dedupe record. It reports false when the
	// event id was already recorded.
	RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (bool, error)
}

const defaultPageSize = 50

func pageSize(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultPageSize
	}
	return limit
}
