package reader

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"soulseer/internal/domain"
)

const readerColumns = `id, display_name, status, chat_rate, voice_rate, video_rate, created_at, updated_at`

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Reader, error) {
	var rd Reader
	err := r.db.GetContext(ctx, &rd, `SELECT `+readerColumns+` FROM readers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rd, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rd *Reader) (*Reader, error) {
	query := `
		INSERT INTO readers (id, display_name, status, chat_rate, voice_rate, video_rate)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			chat_rate = EXCLUDED.chat_rate,
			voice_rate = EXCLUDED.voice_rate,
			video_rate = EXCLUDED.video_rate,
			updated_at = NOW()
		RETURNING ` + readerColumns

	var out Reader
	err := r.db.QueryRowxContext(ctx, query,
		rd.ID, rd.DisplayName, rd.Status, rd.Chat, rd.Voice, rd.Video,
	).StructScan(&out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE readers SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
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

func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE readers SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status) ([]Reader, error) {
	readers := []Reader{}
	err := r.db.SelectContext(ctx, &readers,
		`SELECT `+readerColumns+` FROM readers WHERE status = $1 ORDER BY display_name`, status)
	if err != nil {
		return nil, err
	}
	return readers, nil
}
