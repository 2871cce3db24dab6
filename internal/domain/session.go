package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionType is a closed set: chat, voice or video.
type SessionType string

const (
	SessionChat  SessionType = "chat"
	SessionVoice SessionType = "voice"
	SessionVideo SessionType = "video"
)

func ParseSessionType(s string) (SessionType, error) {
	switch t := SessionType(s); t {
	case SessionChat, SessionVoice, SessionVideo:
		return t, nil
	}
	return "", Validationf("unknown session type %q", s)
}

// Rates is a reader's per-minute rate card.
type Rates struct {
	Chat  decimal.Decimal `db:"chat_rate" json:"chat_rate"`
	Voice decimal.Decimal `db:"voice_rate" json:"voice_rate"`
	Video decimal.Decimal `db:"video_rate" json:"video_rate"`
}

// Offering pairs a session type with the rate it is sold at.
type Offering struct {
	Type          SessionType     `json:"type"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
}

func (r Rates) Offering(t SessionType) (Offering, error) {
	var rate decimal.Decimal
	switch t {
	case SessionChat:
		rate = r.Chat
	case SessionVoice:
		rate = r.Voice
	case SessionVideo:
		rate = r.Video
	default:
		return Offering{}, Validationf("unknown session type %q", t)
	}
	if !rate.IsPositive() {
		return Offering{}, Validationf("%s sessions are not offered", t)
	}
	return Offering{Type: t, RatePerMinute: rate}, nil
}

type SessionState string

const (
	StatePending   SessionState = "pending"
	StateAccepted  SessionState = "accepted"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
	StateDeclined  SessionState = "declined"
	StateDisputed  SessionState = "disputed"
)

func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateDeclined, StateDisputed:
		return true
	}
	return false
}

// End reasons recorded on a session.
const (
	ReasonClientEnded      = "client_ended"
	ReasonReaderEnded      = "reader_ended"
	ReasonBalanceExhausted = "balance_exhausted"
	// ReasonReservationExpired ends a session that ran past its reserved
	// minutes without being extended.
	ReasonReservationExpired = "reservation_expired"
)

// SystemActor is the actor id used for transitions the engine originates.
const SystemActor = "system"

type Session struct {
	ID              string          `db:"id" json:"id"`
	ClientID        string          `db:"client_id" json:"client_id"`
	ReaderID        string          `db:"reader_id" json:"reader_id"`
	Type            SessionType     `db:"type" json:"type"`
	RatePerMinute   decimal.Decimal `db:"rate_per_minute" json:"rate_per_minute"`
	State           SessionState    `db:"state" json:"state"`
	ChannelRef      string          `db:"channel_ref" json:"channel_ref"`
	ReservedMinutes int             `db:"reserved_minutes" json:"reserved_minutes"`
	Reason          *string         `db:"reason" json:"reason,omitempty"`
	EndedBy         *string         `db:"ended_by" json:"ended_by,omitempty"`
	SettlementID    *string         `db:"settlement_id" json:"settlement_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	AcceptedAt      *time.Time      `db:"accepted_at" json:"accepted_at,omitempty"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	EndedAt         *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

func (s *Session) IsParty(actorID string) bool {
	return actorID == s.ClientID || actorID == s.ReaderID
}

// Elapsed is the live duration at now; zero before start.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(*s.StartedAt) {
		return 0
	}
	return end.Sub(*s.StartedAt)
}

// Settlement is the exactly-once financial outcome of a session.
type Settlement struct {
	ID              string          `db:"id" json:"id"`
	SessionID       string          `db:"session_id" json:"session_id"`
	ClientID        string          `db:"client_id" json:"client_id"`
	ReaderID        string          `db:"reader_id" json:"reader_id"`
	RatePerMinute   decimal.Decimal `db:"rate_per_minute" json:"rate_per_minute"`
	DurationSeconds int64           `db:"duration_seconds" json:"duration_seconds"`
	BilledMinutes   int64           `db:"billed_minutes" json:"billed_minutes"`
	TotalCharged    decimal.Decimal `db:"total_charged" json:"total_charged"`
	PlatformFee     decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	ReaderEarnings  decimal.Decimal `db:"reader_earnings" json:"reader_earnings"`
	FeeRate         decimal.Decimal `db:"fee_rate" json:"fee_rate"`
	EndReason       string          `db:"end_reason" json:"end_reason"`
	EndedBy         string          `db:"ended_by" json:"ended_by"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
