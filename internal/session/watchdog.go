package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"soulseer/internal/domain"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
	"soulseer/internal/notify"
)

const defaultSweepConcurrency = 16

// Watchdog drives accrual for every live session. It is built at startup,
// Start picks up whatever is already active, and Stop waits for the sweep
// in flight to finish.
type Watchdog struct {
	svc               *Service
	interval          time.Duration
	lowBalanceMinutes int64
	concurrency       int

	mu       sync.Mutex
	warned   map[string]struct{}
	prompted map[string]int
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatchdog(svc *Service, lowBalanceMinutes int) *Watchdog {
	return &Watchdog{
		svc:               svc,
		interval:          svc.opts.AccrualInterval,
		lowBalanceMinutes: int64(lowBalanceMinutes),
		concurrency:       defaultSweepConcurrency,
		warned:            make(map[string]struct{}),
		prompted:          make(map[string]int),
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.sweepAndLog(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sweepAndLog(ctx)
			}
		}
	}(w.done)

	logger.Info("accrual watchdog started", "interval", w.interval.String())
}

func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Info("accrual watchdog stopped")
}

func (w *Watchdog) sweepAndLog(ctx context.Context) {
	if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
		logger.Error("accrual sweep failed", "error", err)
	}
}

// Sweep ticks every active session once. A failing session is logged and
// skipped so it cannot hold up the rest.
func (w *Watchdog) Sweep(ctx context.Context) error {
	active, err := w.svc.store.ListSessionsByState(ctx, domain.StateActive)
	if err != nil {
		return err
	}
	metrics.ActiveSessions.Set(float64(len(active)))
	w.forgetExcept(active)

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i := range active {
		id := active[i].ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := w.svc.Tick(ctx, id)
			if err != nil {
				logger.Warn("accrual tick failed", "session_id", id, "error", err)
				return nil
			}
			if !res.Ended {
				w.maybeWarn(ctx, res)
				w.maybePrompt(ctx, res)
			}
			return nil
		})
	}
	return g.Wait()
}

// maybeWarn sends balance.low once per session.
func (w *Watchdog) maybeWarn(ctx context.Context, res *TickResult) {
	if res.RemainingMinutes > w.lowBalanceMinutes {
		return
	}
	w.mu.Lock()
	_, sent := w.warned[res.Session.ID]
	w.warned[res.Session.ID] = struct{}{}
	w.mu.Unlock()
	if sent {
		return
	}

	w.svc.notifier.Notify(ctx, notify.Event{
		Type:       notify.BalanceLow,
		SessionID:  res.Session.ID,
		Recipients: []string{res.Session.ClientID},
		Data: map[string]interface{}{
			"remaining_minutes": res.RemainingMinutes,
			"rate_per_minute":   res.Session.RatePerMinute.StringFixed(2),
		},
	})
}

// maybePrompt asks the client to extend once per reserved window. Extending
// moves the window, so the next approach to its end prompts again.
func (w *Watchdog) maybePrompt(ctx context.Context, res *TickResult) {
	if res.ReservedRemaining > w.lowBalanceMinutes {
		return
	}
	reserved := res.Session.ReservedMinutes
	w.mu.Lock()
	last, sent := w.prompted[res.Session.ID]
	w.prompted[res.Session.ID] = reserved
	w.mu.Unlock()
	if sent && last == reserved {
		return
	}

	w.svc.notifier.Notify(ctx, notify.Event{
		Type:       notify.ReservationEnding,
		SessionID:  res.Session.ID,
		Recipients: []string{res.Session.ClientID},
		Data: map[string]interface{}{
			"remaining_minutes": res.ReservedRemaining,
			"reserved_minutes":  reserved,
		},
	})
}

func (w *Watchdog) forgetExcept(active []domain.Session) {
	live := make(map[string]struct{}, len(active))
	for _, s := range active {
		live[s.ID] = struct{}{}
	}
	w.mu.Lock()
	for id := range w.warned {
		if _, ok := live[id]; !ok {
			delete(w.warned, id)
		}
	}
	for id := range w.prompted {
		if _, ok := live[id]; !ok {
			delete(w.prompted, id)
		}
	}
	w.mu.Unlock()
}
