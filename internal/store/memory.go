package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
)

// Memory is an in-process Store. Row locks are per key; writes made inside a
// transaction are staged and applied together on commit.
type Memory struct {
	clock clock.Clock
	locks *keyLock

	mu          sync.RWMutex
	sessions    map[string]domain.Session
	accounts    map[string]domain.Account
	entries     []domain.Entry
	settlements map[string]domain.Settlement
	webhooks    map[string]domain.WebhookEvent
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:       clk,
		locks:       newKeyLock(),
		sessions:    make(map[string]domain.Session),
		accounts:    make(map[string]domain.Account),
		settlements: make(map[string]domain.Settlement),
		webhooks:    make(map[string]domain.WebhookEvent),
	}
}

func (m *Memory) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *Memory) ListSessionsByState(ctx context.Context, state domain.SessionState) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Session{}
	for _, s := range m.sessions {
		if s.State == state {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = pageSize(limit)
	out := []domain.Entry{}
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Memory) ListSessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sessionEntries(m.entries, sessionID), nil
}

func (m *Memory) SumEntries(ctx context.Context, accountID string, bucket domain.Bucket) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, e := range m.entries {
		if e.AccountID == accountID && e.Bucket == bucket {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) GetSettlementBySession(ctx context.Context, sessionID string) (*domain.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.settlements[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (m *Memory) GetWebhookEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.webhooks[externalEventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ev, nil
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:        m,
		sessions: make(map[string]*domain.Session),
		accounts: make(map[string]*domain.Account),
		dirty:    make(map[string]bool),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func sessionEntries(entries []domain.Entry, sessionID string) []domain.Entry {
	out := []domain.Entry{}
	for _, e := range entries {
		if e.RelatedSessionID != nil && *e.RelatedSessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	m       *Memory
	unlocks []func()

	sessions    map[string]*domain.Session
	accounts    map[string]*domain.Account
	dirty       map[string]bool
	entries     []domain.Entry
	settlements []domain.Settlement
	webhooks    []domain.WebhookEvent
}

func (t *memTx) acquire(ctx context.Context, key string) error {
	unlock, err := t.m.locks.lock(ctx, key)
	if err != nil {
		return err
	}
	t.unlocks = append(t.unlocks, unlock)
	return nil
}

func (t *memTx) releaseAll() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

func (t *memTx) LockSession(ctx context.Context, id string) (*domain.Session, error) {
	if s, ok := t.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	if err := t.acquire(ctx, "session:"+id); err != nil {
		return nil, err
	}
	t.m.mu.RLock()
	s, ok := t.m.sessions[id]
	t.m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.sessions[id] = &s
	cp := s
	return &cp, nil
}

func (t *memTx) InsertSession(ctx context.Context, s *domain.Session) error {
	if err := t.acquire(ctx, "session:"+s.ID); err != nil {
		return err
	}
	t.m.mu.RLock()
	_, exists := t.m.sessions[s.ID]
	t.m.mu.RUnlock()
	if exists {
		return domain.InvalidStatef("session %s already exists", s.ID)
	}
	cp := *s
	t.sessions[s.ID] = &cp
	t.dirty["session:"+s.ID] = true
	return nil
}

func (t *memTx) ClientSessions(ctx context.Context, clientID string, states ...domain.SessionState) ([]domain.Session, error) {
	want := make(map[domain.SessionState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	out := []domain.Session{}
	t.m.mu.RLock()
	for id, s := range t.m.sessions {
		if _, staged := t.sessions[id]; staged {
			continue
		}
		if s.ClientID == clientID && want[s.State] {
			out = append(out, s)
		}
	}
	t.m.mu.RUnlock()
	for _, s := range t.sessions {
		if s.ClientID == clientID && want[s.State] {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) UpdateSession(ctx context.Context, s *domain.Session) error {
	if _, ok := t.sessions[s.ID]; !ok {
		return domain.InvalidStatef("session %s not locked", s.ID)
	}
	cp := *s
	cp.UpdatedAt = t.m.clock.Now()
	t.sessions[s.ID] = &cp
	t.dirty["session:"+s.ID] = true
	return nil
}

func (t *memTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	if a, ok := t.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	if err := t.acquire(ctx, "account:"+id); err != nil {
		return nil, err
	}
	t.m.mu.RLock()
	a, ok := t.m.accounts[id]
	t.m.mu.RUnlock()
	if !ok {
		now := t.m.clock.Now()
		a = domain.Account{ID: id, CreatedAt: now, UpdatedAt: now}
		t.dirty["account:"+id] = true
	}
	t.accounts[id] = &a
	cp := a
	return &cp, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, a *domain.Account) error {
	if _, ok := t.accounts[a.ID]; !ok {
		return domain.InvalidStatef("account %s not locked", a.ID)
	}
	cp := *a
	cp.UpdatedAt = t.m.clock.Now()
	t.accounts[a.ID] = &cp
	t.dirty["account:"+a.ID] = true
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, e *domain.Entry) error {
	if _, ok := t.accounts[e.AccountID]; !ok {
		return domain.InvalidStatef("account %s not locked", e.AccountID)
	}
	if e.Reference != nil {
		if prior, _ := t.EntryByReference(ctx, e.AccountID, e.Kind, *e.Reference); prior != nil {
			return domain.ErrAlreadyProcessed
		}
	}
	t.entries = append(t.entries, *e)
	return nil
}

func (t *memTx) EntryByReference(ctx context.Context, accountID string, kind domain.EntryKind, reference string) (*domain.Entry, error) {
	match := func(e domain.Entry) bool {
		return e.AccountID == accountID && e.Kind == kind && e.Reference != nil && *e.Reference == reference
	}
	for _, e := range t.entries {
		if match(e) {
			return &e, nil
		}
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	for _, e := range t.m.entries {
		if match(e) {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) InsertSettlement(ctx context.Context, st *domain.Settlement) error {
	if _, ok := t.sessions[st.SessionID]; !ok {
		return domain.InvalidStatef("session %s not locked", st.SessionID)
	}
	if existing, _ := t.GetSettlement(ctx, st.SessionID); existing != nil {
		return domain.ErrAlreadySettled
	}
	t.settlements = append(t.settlements, *st)
	return nil
}

func (t *memTx) GetSettlement(ctx context.Context, sessionID string) (*domain.Settlement, error) {
	for i := range t.settlements {
		if t.settlements[i].SessionID == sessionID {
			cp := t.settlements[i]
			return &cp, nil
		}
	}
	return t.m.GetSettlementBySession(ctx, sessionID)
}

func (t *memTx) SessionEntries(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	committed, _ := t.m.ListSessionEntries(ctx, sessionID)
	return append(committed, sessionEntries(t.entries, sessionID)...), nil
}

func (t *memTx) RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	if err := t.acquire(ctx, "webhook:"+ev.ExternalEventID); err != nil {
		return false, err
	}
	for _, staged := range t.webhooks {
		if staged.ExternalEventID == ev.ExternalEventID {
			return false, nil
		}
	}
	t.m.mu.RLock()
	_, exists := t.m.webhooks[ev.ExternalEventID]
	t.m.mu.RUnlock()
	if exists {
		return false, nil
	}
	t.webhooks = append(t.webhooks, *ev)
	return true, nil
}

func (t *memTx) commit() {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range t.sessions {
		if t.dirty["session:"+id] {
			m.sessions[id] = *s
		}
	}
	for id, a := range t.accounts {
		if t.dirty["account:"+id] {
			m.accounts[id] = *a
		}
	}
	m.entries = append(m.entries, t.entries...)
	for _, st := range t.settlements {
		m.settlements[st.SessionID] = st
	}
	for _, ev := range t.webhooks {
		m.webhooks[ev.ExternalEventID] = ev
	}
}
