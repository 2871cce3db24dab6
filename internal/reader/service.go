package reader

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
	"soulseer/internal/logger"
)

type Service interface {
	Get(ctx context.Context, id string) (*Reader, error)
	Upsert(ctx context.Context, id string, req UpsertReaderRequest) (*Reader, error)
	SetStatus(ctx context.Context, id string, status Status) error
	ListOnline(ctx context.Context) ([]Reader, error)
	// Available returns the reader only while they accept new sessions.
	Available(ctx context.Context, id string) (*Reader, error)
	// Occupy marks an online reader busy for the length of a session.
	Occupy(ctx context.Context, id string) error
	// Release puts a busy reader back online. A reader who went offline
	// meanwhile stays offline.
	Release(ctx context.Context, id string) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Get(ctx context.Context, id string) (*Reader, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) Upsert(ctx context.Context, id string, req UpsertReaderRequest) (*Reader, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Validationf("reader id is required")
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, domain.Validationf("display name is required")
	}

	chat, err := parseRate("chat", req.ChatRate)
	if err != nil {
		return nil, err
	}
	voice, err := parseRate("voice", req.VoiceRate)
	if err != nil {
		return nil, err
	}
	video, err := parseRate("video", req.VideoRate)
	if err != nil {
		return nil, err
	}
	rates := domain.Rates{Chat: chat, Voice: voice, Video: video}

	status := StatusOffline
	if existing, err := s.repo.Get(ctx, id); err == nil {
		status = existing.Status
	}

	rd, err := s.repo.Upsert(ctx, &Reader{ID: id, DisplayName: name, Status: status, Rates: rates})
	if err != nil {
		return nil, err
	}
	logger.Info("reader profile saved", "reader_id", id)
	return rd, nil
}

func (s *service) SetStatus(ctx context.Context, id string, status Status) error {
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}
	logger.Debug("reader status changed", "reader_id", id, "status", status)
	return nil
}

func (s *service) ListOnline(ctx context.Context) ([]Reader, error) {
	return s.repo.ListByStatus(ctx, StatusOnline)
}

func (s *service) Available(ctx context.Context, id string) (*Reader, error) {
	rd, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rd.Accepting() {
		return nil, domain.ErrReaderUnavailable
	}
	return rd, nil
}

// Occupy moves an online reader to busy. A reader who is offline or already
// busy cannot be occupied.
func (s *service) Occupy(ctx context.Context, id string) error {
	moved, err := s.repo.TransitionStatus(ctx, id, StatusOnline, StatusBusy)
	if err != nil {
		return err
	}
	if !moved {
		return domain.ErrReaderUnavailable
	}
	return nil
}

func (s *service) Release(ctx context.Context, id string) error {
	_, err := s.repo.TransitionStatus(ctx, id, StatusBusy, StatusOnline)
	return err
}

// parseRate accepts zero (type not offered) or a positive amount with at most two decimals.
func parseRate(kind, raw string) (decimal.Decimal, error) {
	rate, err := domain.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.IsNegative() {
		return decimal.Zero, domain.Validationf("%s rate must not be negative", kind)
	}
	return rate, nil
}
