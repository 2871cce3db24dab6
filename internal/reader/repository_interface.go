package reader

import "context"

type Repository interface {
	Get(ctx context.Context, id string) (*Reader, error)
	Upsert(ctx context.Context, r *Reader) (*Reader, error)
	SetStatus(ctx context.Context, id string, status Status) error
	// TransitionStatus moves id to `to` only if it is currently `from`.
	TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error)
	ListByStatus(ctx context.Context, status Status) ([]Reader, error)
}
