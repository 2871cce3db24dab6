package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
	"soulseer/internal/notify"
	"soulseer/internal/store"
	"soulseer/internal/wallet"
)

const platformID = "platform"

var start = time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	store    *store.Memory
	ledger   *wallet.Ledger
	engine   *Engine
	notifier *notify.Recorder
}

func newHarness(t *testing.T, clientBalance string) *harness {
	t.Helper()
	clk := clock.NewFake(start)
	h := &harness{store: store.NewMemory(clk), ledger: wallet.NewLedger(clk), notifier: &notify.Recorder{}}
	h.engine = NewEngine(h.ledger, h.notifier, d("0.30"), platformID)

	err := h.store.WithTx(context.Background(), func(tx store.Tx) error {
		if _, err := h.ledger.Credit(context.Background(), tx, domain.Posting{
			AccountID: "client-1", Bucket: domain.BucketSpendable, Kind: domain.EntryBalanceAdd, Amount: d(clientBalance),
		}); err != nil {
			return err
		}
		started := start
		return tx.InsertSession(context.Background(), &domain.Session{
			ID: "s-1", ClientID: "client-1", ReaderID: "reader-1", Type: domain.SessionVoice,
			RatePerMinute: d("3.00"), State: domain.StateActive, StartedAt: &started, CreatedAt: start,
		})
	})
	require.NoError(t, err)
	return h
}

func (h *harness) settle(ctx context.Context, after time.Duration) (*domain.Settlement, error) {
	var st *domain.Settlement
	err := h.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, "s-1")
		if err != nil {
			return err
		}
		st, err = h.engine.Settle(ctx, tx, sess, Termination{At: start.Add(after), Reason: domain.ReasonClientEnded, EndedBy: "client-1"})
		return err
	})
	return st, err
}

func (h *harness) balance(t *testing.T, id string) *domain.Account {
	t.Helper()
	a, err := h.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestSettle_ChargesCeilingMinutesAndSplits(t *testing.T) {
	h := newHarness(t, "30.00")

	st, err := h.settle(context.Background(), 6*time.Minute+10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, int64(7), st.BilledMinutes)
	assert.Equal(t, int64(370), st.DurationSeconds)
	assert.True(t, st.TotalCharged.Equal(d("21.00")))
	assert.True(t, st.PlatformFee.Equal(d("6.30")))
	assert.True(t, st.ReaderEarnings.Equal(d("14.70")))
	assert.True(t, st.PlatformFee.Add(st.ReaderEarnings).Equal(st.TotalCharged))
	assert.True(t, st.FeeRate.Equal(d("0.30")), "fee rate is recorded on the settlement")

	assert.True(t, h.balance(t, "client-1").SpendableBalance.Equal(d("9.00")))
	assert.True(t, h.balance(t, "reader-1").PendingPayout.Equal(d("14.70")))
	assert.True(t, h.balance(t, platformID).SpendableBalance.Equal(d("6.30")))

	sess, err := h.store.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, sess.State)
	require.NotNil(t, sess.SettlementID)
	assert.Equal(t, st.ID, *sess.SettlementID)
	assert.Equal(t, domain.ReasonClientEnded, *sess.Reason)

	entries, err := h.store.ListSessionEntries(context.Background(), "s-1")
	require.NoError(t, err)
	kinds := map[domain.EntryKind]int{}
	for _, e := range entries {
		kinds[e.Kind]++
	}
	assert.Equal(t, map[domain.EntryKind]int{domain.EntryCharge: 1, domain.EntryEarning: 1, domain.EntryPlatformFee: 1}, kinds)
}

func TestSettle_SecondCallReturnsPriorResult(t *testing.T) {
	h := newHarness(t, "30.00")

	first, err := h.settle(context.Background(), 2*time.Minute)
	require.NoError(t, err)

	again, err := h.settle(context.Background(), 9*time.Minute)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.TotalCharged.Equal(d("6.00")))

	assert.True(t, h.balance(t, "client-1").SpendableBalance.Equal(d("24.00")))
}

func TestSettle_CapsAtAffordableMinutes(t *testing.T) {
	h := newHarness(t, "20.00")

	st, err := h.settle(context.Background(), 6*time.Minute+10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, int64(6), st.BilledMinutes)
	assert.True(t, st.TotalCharged.Equal(d("18.00")))
	assert.True(t, h.balance(t, "client-1").SpendableBalance.Equal(d("2.00")))
}

func TestSettle_ZeroDurationStillSettles(t *testing.T) {
	h := newHarness(t, "20.00")

	st, err := h.settle(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.BilledMinutes)
	assert.True(t, st.TotalCharged.IsZero())

	sess, err := h.store.GetSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, sess.State)
	assert.True(t, h.balance(t, "client-1").SpendableBalance.Equal(d("20.00")))
}

func TestSettle_RejectsSessionsNotActive(t *testing.T) {
	h := newHarness(t, "20.00")
	err := h.store.WithTx(context.Background(), func(tx store.Tx) error {
		sess, err := tx.LockSession(context.Background(), "s-1")
		require.NoError(t, err)
		sess.State = domain.StateAccepted
		return tx.UpdateSession(context.Background(), sess)
	})
	require.NoError(t, err)

	_, err = h.settle(context.Background(), time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	entries, err := h.store.ListSessionEntries(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSettle_LedgerStaysBalanced(t *testing.T) {
	h := newHarness(t, "17.53")

	_, err := h.settle(context.Background(), 4*time.Minute+1*time.Second)
	require.NoError(t, err)

	for _, id := range []string{"client-1", "reader-1", platformID} {
		a := h.balance(t, id)
		spend, err := h.store.SumEntries(context.Background(), id, domain.BucketSpendable)
		require.NoError(t, err)
		pending, err := h.store.SumEntries(context.Background(), id, domain.BucketPendingPayout)
		require.NoError(t, err)
		assert.True(t, spend.Equal(a.SpendableBalance), id)
		assert.True(t, pending.Equal(a.PendingPayout), id)
	}
}

func TestAnnounce_PublishesSettlementCompleted(t *testing.T) {
	h := newHarness(t, "30.00")
	st, err := h.settle(context.Background(), time.Minute)
	require.NoError(t, err)

	h.engine.Announce(context.Background(), st)

	events := h.notifier.OfType(notify.SettlementCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, "s-1", events[0].SessionID)
	assert.Equal(t, "3.00", events[0].Data["total_charged"])
}
