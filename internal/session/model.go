package session

import (
	"time"

	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
	"soulseer/internal/realtime"
)

type RequestBody struct {
	ReaderID string `json:"reader_id" binding:"required"`
	Type     string `json:"type" binding:"required,oneof=chat voice video"`
}

type ReasonBody struct {
	Reason string `json:"reason" binding:"max=500"`
}

type ExtendBody struct {
	Minutes int `json:"minutes" binding:"required,min=1,max=240"`
}

// View is a session as a party sees it, with accrual computed at AsOf.
// AccruedCost is never persisted; the settlement is the record.
type View struct {
	*domain.Session
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	BilledMinutes  int64           `json:"billed_minutes"`
	AccruedCost    decimal.Decimal `json:"accrued_cost"`
	AsOf           time.Time       `json:"as_of"`
}

func newView(s *domain.Session, now time.Time) *View {
	elapsed := s.Elapsed(now)
	return &View{
		Session:        s,
		ElapsedSeconds: int64(elapsed / time.Second),
		BilledMinutes:  domain.BilledMinutes(elapsed),
		AccruedCost:    domain.RoundAmount(domain.AccruedCost(s.RatePerMinute, elapsed)),
		AsOf:           now,
	}
}

// Joined is returned to a party entering the channel.
type Joined struct {
	Session    *domain.Session      `json:"session"`
	Credential *realtime.Credential `json:"credential"`
}

// Acceptance carries both parties' credentials. Only the reader's goes back
// over the accept call; the client's travels with the session.accepted event.
type Acceptance struct {
	Session          *domain.Session
	ReaderCredential *realtime.Credential
	ClientCredential *realtime.Credential
}

type Outcome struct {
	Session    *domain.Session    `json:"session"`
	Settlement *domain.Settlement `json:"settlement"`
}
