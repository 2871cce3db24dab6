package notify

import (
	"context"
	"time"

	"soulseer/internal/clock"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
)

const publishTimeout = 5 * time.Second

type Dispatcher struct {
	publishers []Publisher
	clock      clock.Clock
}

func NewDispatcher(clk clock.Clock, publishers ...Publisher) *Dispatcher {
	return &Dispatcher{publishers: publishers, clock: clk}
}

// Notify delivers ev to every publisher. The caller's cancellation does not
// cut delivery short because events are emitted after the work committed.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = d.clock.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, p := range d.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			metrics.RecordNotification(string(ev.Type), "failed")
			logger.Warn("notification delivery failed",
				"event", ev.Type,
				"session_id", ev.SessionID,
				"error", err,
			)
			continue
		}
		metrics.RecordNotification(string(ev.Type), "sent")
	}
}
