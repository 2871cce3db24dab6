package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBilledMinutes(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Nanosecond, 2},
		{6*time.Minute + 10*time.Second, 7},
		{6 * time.Minute, 6},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BilledMinutes(c.elapsed), c.elapsed.String())
	}
}

func TestAffordableMinutes(t *testing.T) {
	assert.Equal(t, int64(6), AffordableMinutes(dec("20.00"), dec("3.00")))
	assert.Equal(t, int64(0), AffordableMinutes(dec("2.99"), dec("3.00")))
	assert.Equal(t, int64(0), AffordableMinutes(dec("10"), decimal.Zero))
}

func TestAccruedCost(t *testing.T) {
	got := AccruedCost(dec("3.00"), 6*time.Minute+10*time.Second)
	assert.True(t, got.GreaterThan(dec("18.49")) && got.LessThan(dec("18.51")), got.String())
}

func TestSplit_NoLeakage(t *testing.T) {
	rates := []string{"0.30", "0.333", "0.175", "0"}
	totals := []string{"21.00", "0.01", "4.99", "3.97", "0", "1234.57"}
	for _, r := range rates {
		for _, tot := range totals {
			fee, earn := Split(dec(tot), dec(r))
			assert.True(t, fee.Add(earn).Equal(dec(tot)), "rate=%s total=%s", r, tot)
			assert.True(t, fee.Equal(RoundAmount(fee)))
		}
	}

	fee, earn := Split(dec("21.00"), dec("0.30"))
	assert.Equal(t, "6.30", fee.StringFixed(2))
	assert.Equal(t, "14.70", earn.StringFixed(2))
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("50.00")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("50")))

	_, err = ParseAmount("1.005")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseAmount("abc")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestInsufficientFundsError(t *testing.T) {
	err := &InsufficientFundsError{AccountID: "c1", Required: dec("15.00"), Available: dec("10.50")}
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "4.50", err.Shortfall().StringFixed(2))
	assert.Contains(t, err.Error(), "needs 15.00")
}
