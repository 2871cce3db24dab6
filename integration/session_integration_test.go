package integration_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulseer/internal/domain"
	"soulseer/internal/reader"
	"soulseer/internal/session"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSessionLifecycle_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(t, database)
	ctx := context.Background()

	s.onlineReader(t, "reader-1", "3.00")
	s.topUp(t, "evt_fund_1", "client-1", "30.00")

	sess := s.live(t, "client-1", "reader-1")

	rd, err := s.readers.Get(ctx, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, reader.StatusBusy, rd.Status)

	s.clock.Advance(6*time.Minute + 10*time.Second)
	out, err := s.sessions.End(ctx, sess.ID, "client-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, out.Session.State)
	assert.Equal(t, int64(7), out.Settlement.BilledMinutes)
	assert.True(t, out.Settlement.TotalCharged.Equal(dec("21.00")), out.Settlement.TotalCharged.String())
	assert.True(t, out.Settlement.PlatformFee.Equal(dec("6.30")), out.Settlement.PlatformFee.String())
	assert.True(t, out.Settlement.ReaderEarnings.Equal(dec("14.70")), out.Settlement.ReaderEarnings.String())

	client, err := s.wallet.Account(ctx, "client-1")
	require.NoError(t, err)
	assert.True(t, client.SpendableBalance.Equal(dec("9.00")), client.SpendableBalance.String())

	rdAcct, err := s.wallet.Account(ctx, "reader-1")
	require.NoError(t, err)
	assert.True(t, rdAcct.PendingPayout.Equal(dec("14.70")), rdAcct.PendingPayout.String())

	platform, err := s.wallet.Account(ctx, platformID)
	require.NoError(t, err)
	assert.True(t, platform.SpendableBalance.Equal(dec("6.30")), platform.SpendableBalance.String())

	rd, err = s.readers.Get(ctx, "reader-1")
	require.NoError(t, err)
	assert.Equal(t, reader.StatusOnline, rd.Status)

	stored, err := s.store.GetSettlementBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Settlement.ID, stored.ID)

	entries, err := s.wallet.SessionEntries(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	s.reconciled(t, "client-1", "reader-1", platformID)
}

func TestSessionEnd_ConcurrentSettlesOnce_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(t, database)
	ctx := context.Background()

	s.onlineReader(t, "reader-1", "3.00")
	s.topUp(t, "evt_fund_1", "client-1", "50.00")
	sess := s.live(t, "client-1", "reader-1")
	s.clock.Advance(4 * time.Minute)

	const callers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
		ids     = make(map[string]struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				out *session.Outcome
				err error
			)
			if i%2 == 0 {
				out, err = s.sessions.End(ctx, sess.ID, "reader-1")
			} else {
				out, err = s.sessions.Terminate(ctx, sess.ID, domain.ReasonBalanceExhausted)
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				settled++
			} else if !errors.Is(err, domain.ErrAlreadySettled) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			ids[out.Settlement.ID] = struct{}{}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Len(t, ids, 1, "every caller sees the same settlement")

	client, err := s.wallet.Account(ctx, "client-1")
	require.NoError(t, err)
	assert.True(t, client.SpendableBalance.Equal(dec("38.00")), client.SpendableBalance.String())

	entries, err := s.wallet.SessionEntries(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	s.reconciled(t, "client-1", "reader-1", platformID)
}

func TestSessionRequest_InsufficientBalance_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(t, database)
	ctx := context.Background()

	s.onlineReader(t, "reader-1", "3.00")
	s.topUp(t, "evt_fund_1", "client-1", "10.00")

	_, err := s.sessions.Request(ctx, "client-1", "reader-1", domain.SessionVoice)
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Shortfall().Equal(dec("5.00")), insufficient.Shortfall().String())

	sessions, err := s.store.ListSessionsByState(ctx, domain.StatePending)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionTick_TerminatesOnExhaustion_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(t, database)
	ctx := context.Background()

	s.onlineReader(t, "reader-1", "3.00")
	s.topUp(t, "evt_fund_1", "client-1", "20.00")
	sess := s.live(t, "client-1", "reader-1")
	_, err := s.sessions.Extend(ctx, sess.ID, "client-1", 5)
	require.NoError(t, err)

	var ended bool
	for i := 0; i < 40 && !ended; i++ {
		s.clock.Advance(15 * time.Second)
		res, err := s.sessions.Tick(ctx, sess.ID)
		require.NoError(t, err)
		ended = res.Ended
	}
	require.True(t, ended)

	settled, err := s.store.GetSettlementBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonBalanceExhausted, settled.EndReason)
	assert.True(t, settled.TotalCharged.Equal(dec("18.00")), settled.TotalCharged.String())

	client, err := s.wallet.Account(ctx, "client-1")
	require.NoError(t, err)
	assert.False(t, client.SpendableBalance.IsNegative())
	s.reconciled(t, "client-1", "reader-1", platformID)
}

func TestSessionTick_ReservationExpires_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(t, database)
	ctx := context.Background()

	s.onlineReader(t, "reader-1", "3.00")
	s.topUp(t, "evt_fund_1", "client-1", "100.00")
	sess := s.live(t, "client-1", "reader-1")

	var ended bool
	for i := 0; i < 80 && !ended; i++ {
		s.clock.Advance(15 * time.Second)
		res, err := s.sessions.Tick(ctx, sess.ID)
		require.NoError(t, err)
		ended = res.Ended
	}
	require.True(t, ended)

	settled, err := s.store.GetSettlementBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonReservationExpired, settled.EndReason)
	assert.Equal(t, int64(5), settled.BilledMinutes)
	assert.True(t, settled.TotalCharged.Equal(dec("15.00")), settled.TotalCharged.String())
	s.reconciled(t, "client-1", "reader-1", platformID)
}

func TestSessionAccept_OneOpenSessionPerClient_Integration(t *testing.T) {
	database := setupTestDB(t)
	s := newStack(t, database)
	ctx := context.Background()

	const readers = 4
	s.topUp(t, "evt_fund_1", "client-1", "20.00")
	var pending []*domain.Session
	for i := 0; i < readers; i++ {
		id := fmt.Sprintf("reader-%d", i+1)
		s.onlineReader(t, id, "3.00")
		sess, err := s.sessions.Request(ctx, "client-1", id, domain.SessionVoice)
		require.NoError(t, err)
		pending = append(pending, sess)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*domain.Session
	)
	for _, p := range pending {
		wg.Add(1)
		go func(p *domain.Session) {
			defer wg.Done()
			acc, err := s.sessions.Accept(ctx, p.ID, p.ReaderID)
			if err != nil {
				if !errors.Is(err, domain.ErrInvalidState) {
					t.Errorf("accept: %v", err)
				}
				return
			}
			mu.Lock()
			accepted = append(accepted, acc.Session)
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	require.Len(t, accepted, 1)

	_, err := s.sessions.Start(ctx, accepted[0].ID, "client-1")
	require.NoError(t, err)

	open, err := s.store.ListSessionsByState(ctx, domain.StateActive)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
