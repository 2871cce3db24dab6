// Package session runs the consultation lifecycle: admission, acceptance,
// live accrual and termination. Every way a session can end goes through
// the settlement engine inside the same transaction that locks the session.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"soulseer/internal/clock"
	"soulseer/internal/domain"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
	"soulseer/internal/notify"
	"soulseer/internal/reader"
	"soulseer/internal/realtime"
	"soulseer/internal/settlement"
	"soulseer/internal/store"
)

// Readers is the part of the reader directory sessions depend on.
type Readers interface {
	Available(ctx context.Context, id string) (*reader.Reader, error)
	Occupy(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type Options struct {
	MinimumMinutes  int
	AccrualInterval time.Duration
	TokenTTL        time.Duration
}

type Service struct {
	store    store.Store
	readers  Readers
	issuer   realtime.Issuer
	engine   *settlement.Engine
	notifier notify.Notifier
	clock    clock.Clock
	opts     Options
}

func NewService(st store.Store, readers Readers, issuer realtime.Issuer, engine *settlement.Engine, n notify.Notifier, clk clock.Clock, opts Options) *Service {
	if opts.MinimumMinutes < 1 {
		opts.MinimumMinutes = 1
	}
	if opts.AccrualInterval <= 0 {
		opts.AccrualInterval = 15 * time.Second
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &Service{
		store:    st,
		readers:  readers,
		issuer:   issuer,
		engine:   engine,
		notifier: n,
		clock:    clk,
		opts:     opts,
	}
}

// requireMinimum fails unless spendable covers the minimum session length at rate.
func (s *Service) requireMinimum(account *domain.Account, rate decimal.Decimal) error {
	required := rate.Mul(decimal.NewFromInt(int64(s.opts.MinimumMinutes)))
	if account.SpendableBalance.LessThan(required) {
		return &domain.InsufficientFundsError{
			AccountID: account.ID,
			Required:  required,
			Available: account.SpendableBalance,
		}
	}
	return nil
}

func (s *Service) spendable(ctx context.Context, accountID string) (decimal.Decimal, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return a.SpendableBalance, nil
}

// requireNoOtherOpen fails if the client already has an accepted or live
// session other than sessionID. Callers hold the client's account lock, which
// every move into accepted or active also takes.
func requireNoOtherOpen(ctx context.Context, tx store.Tx, clientID, sessionID string) error {
	open, err := tx.ClientSessions(ctx, clientID, domain.StateAccepted, domain.StateActive)
	if err != nil {
		return err
	}
	for _, o := range open {
		if o.ID != sessionID {
			return domain.InvalidStatef("client already has session %s in progress", o.ID)
		}
	}
	return nil
}

func (s *Service) Request(ctx context.Context, clientID, readerID string, t domain.SessionType) (*domain.Session, error) {
	if clientID == "" || readerID == "" {
		return nil, domain.Validationf("client and reader are required")
	}
	if clientID == readerID {
		return nil, domain.Validationf("cannot book a session with yourself")
	}

	rd, err := s.readers.Available(ctx, readerID)
	if err != nil {
		return nil, err
	}
	offering, err := rd.Rates.Offering(t)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sess := &domain.Session{
		ID:            domain.NewSessionID(),
		ClientID:      clientID,
		ReaderID:      readerID,
		Type:          offering.Type,
		RatePerMinute: offering.RatePerMinute,
		State:         domain.StatePending,
		ChannelRef:    domain.NewChannelRef(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		client, err := tx.LockAccount(ctx, clientID)
		if err != nil {
			return err
		}
		if err := requireNoOtherOpen(ctx, tx, clientID, ""); err != nil {
			return err
		}
		if err := s.requireMinimum(client, sess.RatePerMinute); err != nil {
			return err
		}
		return tx.InsertSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, sess, notify.SessionRequested, []string{readerID}, map[string]interface{}{
		"client_id":       clientID,
		"type":            string(sess.Type),
		"rate_per_minute": sess.RatePerMinute.StringFixed(2),
	})
	return sess, nil
}

func (s *Service) Accept(ctx context.Context, sessionID, readerID string) (*Acceptance, error) {
	var out Acceptance
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.ReaderID != readerID {
			return domain.ErrUnauthorized
		}
		if sess.State != domain.StatePending {
			return domain.InvalidStatef("session %s is %s; only pending sessions can be accepted", sess.ID, sess.State)
		}

		client, err := tx.LockAccount(ctx, sess.ClientID)
		if err != nil {
			return err
		}
		if err := requireNoOtherOpen(ctx, tx, sess.ClientID, sess.ID); err != nil {
			return err
		}
		if err := s.requireMinimum(client, sess.RatePerMinute); err != nil {
			return err
		}

		// No state change survives a transport failure.
		if out.ReaderCredential, err = s.credential(ctx, sess, sess.ReaderID); err != nil {
			return err
		}
		if out.ClientCredential, err = s.credential(ctx, sess, sess.ClientID); err != nil {
			return err
		}

		now := s.clock.Now()
		sess.State = domain.StateAccepted
		sess.AcceptedAt = &now
		sess.ReservedMinutes = s.opts.MinimumMinutes
		sess.UpdatedAt = now
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out.Session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, out.Session, notify.SessionAccepted, []string{out.Session.ClientID}, map[string]interface{}{
		"channel_ref": out.Session.ChannelRef,
		"credential":  out.ClientCredential,
	})
	return &out, nil
}

func (s *Service) Decline(ctx context.Context, sessionID, readerID, reason string) (*domain.Session, error) {
	sess, err := s.close(ctx, sessionID, readerID, reason, domain.StateDeclined, func(sess *domain.Session) error {
		if sess.ReaderID != readerID {
			return domain.ErrUnauthorized
		}
		if sess.State != domain.StatePending {
			return domain.InvalidStatef("session %s is %s; only pending sessions can be declined", sess.ID, sess.State)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, sess, notify.SessionDeclined, []string{sess.ClientID}, map[string]interface{}{"reason": reason})
	return sess, nil
}

// Cancel withdraws a session that has not gone live. Either party may cancel.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID, reason string) (*domain.Session, error) {
	sess, err := s.close(ctx, sessionID, actorID, reason, domain.StateCancelled, func(sess *domain.Session) error {
		if !sess.IsParty(actorID) {
			return domain.ErrUnauthorized
		}
		switch sess.State {
		case domain.StatePending, domain.StateAccepted:
			return nil
		case domain.StateActive:
			return domain.InvalidStatef("session %s is live; end it instead", sess.ID)
		}
		return domain.InvalidStatef("session %s is %s and cannot be cancelled", sess.ID, sess.State)
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, sess, notify.SessionCancelled, counterparty(sess, actorID), map[string]interface{}{
		"cancelled_by": actorID,
		"reason":       reason,
	})
	return sess, nil
}

// close moves a not-yet-live session to a terminal state with no ledger effect.
func (s *Service) close(ctx context.Context, sessionID, actorID, reason string, to domain.SessionState, check func(*domain.Session) error) (*domain.Session, error) {
	var out *domain.Session
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := check(sess); err != nil {
			return err
		}
		now := s.clock.Now()
		sess.State = to
		sess.EndedAt = &now
		sess.EndedBy = &actorID
		if reason != "" {
			sess.Reason = &reason
		}
		sess.UpdatedAt = now
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

// Start puts an accepted session live. Either party may start it; the
// caller gets a fresh transport credential. The reader must still be online:
// Start moves them to busy and fails if it cannot.
func (s *Service) Start(ctx context.Context, sessionID, actorID string) (*Joined, error) {
	var (
		out      Joined
		occupied string
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.IsParty(actorID) {
			return domain.ErrUnauthorized
		}
		if sess.State != domain.StateAccepted {
			return domain.InvalidStatef("session %s is %s; only accepted sessions can start", sess.ID, sess.State)
		}
		if _, err := tx.LockAccount(ctx, sess.ClientID); err != nil {
			return err
		}
		if err := requireNoOtherOpen(ctx, tx, sess.ClientID, sess.ID); err != nil {
			return err
		}
		if out.Credential, err = s.credential(ctx, sess, actorID); err != nil {
			return err
		}

		if err := s.readers.Occupy(ctx, sess.ReaderID); err != nil {
			return err
		}
		occupied = sess.ReaderID

		now := s.clock.Now()
		sess.State = domain.StateActive
		sess.StartedAt = &now
		sess.UpdatedAt = now
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out.Session = sess
		return nil
	})
	if err != nil {
		if occupied != "" {
			if rerr := s.readers.Release(ctx, occupied); rerr != nil {
				logger.Error("could not release reader after failed start", "reader_id", occupied, "error", rerr)
			}
		}
		return nil, err
	}

	s.transitioned(ctx, out.Session, notify.SessionStarted, counterparty(out.Session, actorID), map[string]interface{}{
		"started_by": actorID,
		"started_at": out.Session.StartedAt,
	})
	return &out, nil
}

// End terminates a live session on behalf of one of its parties and settles
// it. Calling End on a session that already settled returns the recorded
// outcome together with domain.ErrAlreadySettled.
func (s *Service) End(ctx context.Context, sessionID, actorID string) (*Outcome, error) {
	if actorID == domain.SystemActor {
		return nil, domain.ErrUnauthorized
	}
	return s.finish(ctx, sessionID, actorID, "")
}

// Terminate ends a session from inside the engine, e.g. when the balance runs out.
func (s *Service) Terminate(ctx context.Context, sessionID, reason string) (*Outcome, error) {
	return s.finish(ctx, sessionID, domain.SystemActor, reason)
}

func (s *Service) finish(ctx context.Context, sessionID, actorID, reason string) (*Outcome, error) {
	var out Outcome
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if actorID != domain.SystemActor && !sess.IsParty(actorID) {
			return domain.ErrUnauthorized
		}
		if reason == "" {
			reason = endReason(sess, actorID)
		}
		out.Session = sess
		out.Settlement, err = s.engine.Settle(ctx, tx, sess, settlement.Termination{
			At:      s.clock.Now(),
			Reason:  reason,
			EndedBy: actorID,
		})
		return err
	})
	if errors.Is(err, domain.ErrAlreadySettled) {
		metrics.RecordSettlement("replayed")
		logger.Debug("end replayed", "session_id", sessionID, "actor_id", actorID)
		return &out, err
	}
	if err != nil {
		return nil, err
	}

	sess := out.Session
	s.engine.Announce(ctx, out.Settlement)
	if err := s.readers.Release(ctx, sess.ReaderID); err != nil {
		logger.Warn("could not release reader", "reader_id", sess.ReaderID, "error", err)
	}
	s.transitioned(ctx, sess, notify.SessionEnded, []string{sess.ClientID, sess.ReaderID}, map[string]interface{}{
		"ended_by":      actorID,
		"reason":        *sess.Reason,
		"settlement_id": out.Settlement.ID,
	})
	return &out, nil
}

func endReason(sess *domain.Session, actorID string) string {
	if actorID == sess.ReaderID {
		return domain.ReasonReaderEnded
	}
	return domain.ReasonClientEnded
}

// Extend reserves minutes more of a live session. It checks the client can
// pay for them now; no money moves until settlement.
func (s *Service) Extend(ctx context.Context, sessionID, clientID string, minutes int) (*domain.Session, error) {
	if minutes < 1 {
		return nil, domain.Validationf("minutes must be positive")
	}

	var out *domain.Session
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.ClientID != clientID {
			return domain.ErrUnauthorized
		}
		if sess.State != domain.StateActive {
			return domain.InvalidStatef("session %s is %s; only live sessions can be extended", sess.ID, sess.State)
		}

		client, err := tx.LockAccount(ctx, sess.ClientID)
		if err != nil {
			return err
		}
		required := sess.RatePerMinute.Mul(decimal.NewFromInt(int64(minutes)))
		if client.SpendableBalance.LessThan(required) {
			return &domain.InsufficientFundsError{
				AccountID: client.ID,
				Required:  required,
				Available: client.SpendableBalance,
			}
		}

		sess.ReservedMinutes += minutes
		sess.UpdatedAt = s.clock.Now()
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session extended", "session_id", sessionID, "minutes", minutes, "reserved_minutes", out.ReservedMinutes)
	return out, nil
}

// Credentials re-issues a transport credential to a party of an accepted or live session.
func (s *Service) Credentials(ctx context.Context, sessionID, actorID string) (*Joined, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParty(actorID) {
		return nil, domain.ErrUnauthorized
	}
	if sess.State != domain.StateAccepted && sess.State != domain.StateActive {
		return nil, domain.InvalidStatef("session %s is %s; no channel to join", sess.ID, sess.State)
	}
	cred, err := s.credential(ctx, sess, actorID)
	if err != nil {
		return nil, err
	}
	return &Joined{Session: sess, Credential: cred}, nil
}

func (s *Service) credential(ctx context.Context, sess *domain.Session, participantID string) (*realtime.Credential, error) {
	cred, err := s.issuer.IssueToken(ctx, sess.ChannelRef, participantID, realtime.RolePublisher, s.opts.TokenTTL)
	if err != nil {
		logger.Warn("transport credential failed", "session_id", sess.ID, "participant_id", participantID, "error", err)
		if errors.Is(err, domain.ErrTransportUnavailable) || errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		return nil, errors.Join(domain.ErrTransportUnavailable, err)
	}
	return cred, nil
}

// Get returns the session with live accrual, visible only to its parties.
func (s *Service) Get(ctx context.Context, sessionID, actorID string) (*View, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParty(actorID) {
		return nil, domain.ErrUnauthorized
	}
	return newView(sess, s.clock.Now()), nil
}

// Lookup is Get without the party check, for adjudication.
func (s *Service) Lookup(ctx context.Context, sessionID string) (*View, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return newView(sess, s.clock.Now()), nil
}

// TickResult is what one accrual check concluded about a session.
// RemainingMinutes is what the balance still covers; ReservedRemaining is
// what is left of the reserved window.
type TickResult struct {
	Session           *domain.Session
	Ended             bool
	RemainingMinutes  int64
	ReservedRemaining int64
}

// Tick runs one accrual check. A session whose next billed minute the client
// can no longer cover is terminated with ReasonBalanceExhausted; one whose next
// billed minute falls outside its reserved window is terminated with
// ReasonReservationExpired.
func (s *Service) Tick(ctx context.Context, sessionID string) (*TickResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != domain.StateActive {
		return &TickResult{Session: sess, Ended: sess.State.Terminal()}, nil
	}

	spendable, err := s.spendable(ctx, sess.ClientID)
	if err != nil {
		return nil, err
	}
	elapsed := sess.Elapsed(s.clock.Now())

	var reason string
	switch {
	case settlement.MustTerminate(sess.RatePerMinute, elapsed, s.opts.AccrualInterval, spendable):
		reason = domain.ReasonBalanceExhausted
	case domain.BilledMinutes(elapsed+s.opts.AccrualInterval) > int64(sess.ReservedMinutes):
		reason = domain.ReasonReservationExpired
	default:
		reserved := int64(sess.ReservedMinutes) - domain.BilledMinutes(elapsed)
		if reserved < 0 {
			reserved = 0
		}
		return &TickResult{
			Session:           sess,
			RemainingMinutes:  settlement.RemainingMinutes(sess.RatePerMinute, elapsed, spendable),
			ReservedRemaining: reserved,
		}, nil
	}

	out, err := s.Terminate(ctx, sessionID, reason)
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		return &TickResult{Session: out.Session, Ended: true}, nil
	case err != nil:
		return nil, err
	}
	metrics.RecordForcedTermination()
	logger.Info("session terminated",
		"session_id", sessionID,
		"reason", reason,
		"elapsed_seconds", int64(elapsed/time.Second),
		"reserved_minutes", sess.ReservedMinutes,
		"spendable", spendable.StringFixed(2),
	)
	return &TickResult{Session: out.Session, Ended: true}, nil
}

func (s *Service) transitioned(ctx context.Context, sess *domain.Session, ev notify.EventType, recipients []string, data map[string]interface{}) {
	metrics.RecordSessionTransition(string(sess.State), string(sess.Type))
	logger.Info("session "+string(sess.State), "session_id", sess.ID, "client_id", sess.ClientID, "reader_id", sess.ReaderID)
	s.notifier.Notify(ctx, notify.Event{
		Type:       ev,
		SessionID:  sess.ID,
		Recipients: recipients,
		Data:       data,
	})
}

func counterparty(sess *domain.Session, actorID string) []string {
	if actorID == sess.ClientID {
		return []string{sess.ReaderID}
	}
	return []string{sess.ClientID}
}
