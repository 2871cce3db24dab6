package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
)

const sessionColumns = `id, client_id, reader_id, type, rate_per_minute, state, channel_ref,
	reserved_minutes, reason, ended_by, settlement_id, created_at, accepted_at,
	started_at, ended_at, updated_at`

const entryColumns = `id, account_id, bucket, kind, amount, balance_after, related_session_id,
	related_webhook_event_id, reference, memo, created_at`

const settlementColumns = `id, session_id, client_id, reader_id, rate_per_minute, duration_seconds,
	billed_minutes, total_charged, platform_fee, reader_earnings, fee_rate, end_reason,
	ended_by, created_at`

type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := p.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (p *Postgres) ListSessionsByState(ctx context.Context, state domain.SessionState) ([]domain.Session, error) {
	sessions := []domain.Session{}
	err := p.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions WHERE state = $1 ORDER BY created_at`, state)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := p.db.GetContext(ctx, &a,
		`SELECT id, spendable_balance, pending_payout, created_at, updated_at FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (p *Postgres) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]domain.Entry, error) {
	entries := []domain.Entry{}
	err := p.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, pageSize(limit), offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *Postgres) ListSessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	return listSessionEntries(ctx, p.db, sessionID)
}

func (p *Postgres) SumEntries(ctx context.Context, accountID string, bucket domain.Bucket) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := p.db.GetContext(ctx, &sum,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1 AND bucket = $2`,
		accountID, bucket)
	return sum, err
}

func (p *Postgres) GetSettlementBySession(ctx context.Context, sessionID string) (*domain.Settlement, error) {
	return getSettlement(ctx, p.db, sessionID)
}

func (p *Postgres) GetWebhookEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	err := p.db.GetContext(ctx, &ev,
		`SELECT external_event_id, type, payload, processed_at FROM webhook_events WHERE external_event_id = $1`,
		externalEventID)
	if err != nil {
		return nil, notFound(err)
	}
	return &ev, nil
}

func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func listSessionEntries(ctx context.Context, q sqlx.QueryerContext, sessionID string) ([]domain.Entry, error) {
	entries := []domain.Entry{}
	err := sqlx.SelectContext(ctx, q, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE related_session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func getSettlement(ctx context.Context, q sqlx.QueryerContext, sessionID string) (*domain.Settlement, error) {
	var st domain.Settlement
	err := sqlx.GetContext(ctx, q, &st,
		`SELECT `+settlementColumns+` FROM settlements WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockSession(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := t.tx.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (t *pgTx) InsertSession(ctx context.Context, s *domain.Session) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:id, :client_id, :reader_id, :type, :rate_per_minute, :state, :channel_ref,
			:reserved_minutes, :reason, :ended_by, :settlement_id, :created_at, :accepted_at,
			:started_at, :ended_at, :updated_at)
	`, s)
	return err
}

func (t *pgTx) ClientSessions(ctx context.Context, clientID string, states ...domain.SessionState) ([]domain.Session, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	sessions := []domain.Session{}
	err := t.tx.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions WHERE client_id = $1 AND state = ANY($2) ORDER BY created_at`,
		clientID, pq.Array(names))
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (t *pgTx) UpdateSession(ctx context.Context, s *domain.Session) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE sessions
		SET state = :state, reserved_minutes = :reserved_minutes, reason = :reason,
			ended_by = :ended_by, settlement_id = :settlement_id, accepted_at = :accepted_at,
			started_at = :started_at, ended_at = :ended_at, updated_at = NOW()
		WHERE id = :id
	`, s)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return nil, err
	}

	var a domain.Account
	err := t.tx.QueryRowxContext(ctx,
		`SELECT id, spendable_balance, pending_payout, created_at, updated_at
		 FROM accounts
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	).StructScan(&a)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *domain.Account) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE accounts
		 SET spendable_balance = $1, pending_payout = $2, updated_at = NOW()
		 WHERE id = $3`,
		a.SpendableBalance, a.PendingPayout, a.ID,
	)
	return err
}

func (t *pgTx) AppendEntry(ctx context.Context, e *domain.Entry) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (:id, :account_id, :bucket, :kind, :amount, :balance_after, :related_session_id,
			:related_webhook_event_id, :reference, :memo, :created_at)
	`, e)
	return err
}

func (t *pgTx) EntryByReference(ctx context.Context, accountID string, kind domain.EntryKind, reference string) (*domain.Entry, error) {
	var e domain.Entry
	err := t.tx.GetContext(ctx, &e, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND reference = $3
	`, accountID, kind, reference)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (t *pgTx) InsertSettlement(ctx context.Context, st *domain.Settlement) error {
	res, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES (:id, :session_id, :client_id, :reader_id, :rate_per_minute, :duration_seconds,
			:billed_minutes, :total_charged, :platform_fee, :reader_earnings, :fee_rate,
			:end_reason, :ended_by, :created_at)
		ON CONFLICT (session_id) DO NOTHING
	`, st)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadySettled
	}
	return nil
}

func (t *pgTx) GetSettlement(ctx context.Context, sessionID string) (*domain.Settlement, error) {
	return getSettlement(ctx, t.tx, sessionID)
}

func (t *pgTx) SessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	return listSessionEntries(ctx, t.tx, sessionID)
}

func (t *pgTx) RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO webhook_events (external_event_id, type, payload, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (external_event_id) DO NOTHING`,
		ev.ExternalEventID, ev.Type, []byte(ev.Payload), ev.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
