package domain

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID(prefix string, at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return prefix + ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

func NewSessionID() string {
	return uuid.NewString()
}

// NewChannelRef returns the opaque transport channel identifier for a session.
func NewChannelRef() string {
	return "ch_" + uuid.New().String()
}

func NewSettlementID(at time.Time) string {
	return newULID("stl_", at)
}

func NewEntryID(at time.Time) string {
	return newULID("ent_", at)
}

func NewPayoutID(at time.Time) string {
	return newULID("po_", at)
}
