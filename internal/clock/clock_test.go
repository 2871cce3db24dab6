package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_IsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, RealClock{}.Now().Location())
}

func TestFake_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())

	f.Set(start)
	assert.Equal(t, start, f.Now())
}
