package reader

import (
	"context"
	"sort"
	"sync"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
)

type MemoryRepository struct {
	clock   clock.Clock
	mu      sync.RWMutex
	readers map[string]Reader
}

func NewMemoryRepository(clk clock.Clock) *MemoryRepository {
	return &MemoryRepository{clock: clk, readers: make(map[string]Reader)}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rd, ok := m.readers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rd, nil
}

func (m *MemoryRepository) Upsert(ctx context.Context, rd *Reader) (*Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	out := *rd
	if prev, ok := m.readers[rd.ID]; ok {
		out.Status = prev.Status
		out.CreatedAt = prev.CreatedAt
	} else {
		out.CreatedAt = now
		if out.Status == "" {
			out.Status = StatusOffline
		}
	}
	out.UpdatedAt = now
	m.readers[rd.ID] = out
	return &out, nil
}

func (m *MemoryRepository) SetStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rd, ok := m.readers[id]
	if !ok {
		return domain.ErrNotFound
	}
	rd.Status = status
	rd.UpdatedAt = m.clock.Now()
	m.readers[id] = rd
	return nil
}

func (m *MemoryRepository) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rd, ok := m.readers[id]
	if !ok || rd.Status != from {
		return false, nil
	}
	rd.Status = to
	rd.UpdatedAt = m.clock.Now()
	m.readers[id] = rd
	return true, nil
}

func (m *MemoryRepository) ListByStatus(ctx context.Context, status Status) ([]Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Reader{}
	for _, rd := range m.readers {
		if rd.Status == status {
			out = append(out, rd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}
