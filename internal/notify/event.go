// Package notify fans session and wallet events out to downstream consumers.
// Delivery is best effort: failures are logged and counted, never returned.
package notify

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	SessionRequested    EventType = "session.requested"
	SessionAccepted     EventType = "session.accepted"
	SessionDeclined     EventType = "session.declined"
	SessionCancelled    EventType = "session.cancelled"
	SessionStarted      EventType = "session.started"
	SessionEnded        EventType = "session.ended"
	SettlementCompleted EventType = "settlement.completed"
	BalanceLow          EventType = "balance.low"
	ReservationEnding   EventType = "reservation.ending"
	RefundIssued        EventType = "refund.issued"
	PayoutRequested     EventType = "payout.requested"
)

type Event struct {
	Type       EventType              `json:"type"`
	SessionID  string                 `json:"session_id,omitempty"`
	Recipients []string               `json:"recipients"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Key partitions events so everything about one session stays ordered.
func (e Event) Key() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	if len(e.Recipients) > 0 {
		return e.Recipients[0]
	}
	return string(e.Type)
}

// Notifier is what the engine depends on.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recorder keeps every event in memory. Used by tests and the memory profile.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(ctx context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
