package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are held with two decimal places (cents).
const amountPlaces = 2

func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountPlaces)
}

func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Validationf("invalid amount %q", s)
	}
	if !d.Equal(RoundAmount(d)) {
		return decimal.Zero, Validationf("amount %q has more than %d decimal places", s, amountPlaces)
	}
	return d, nil
}

// BilledMinutes is the single billing rounding policy: elapsed time rounded up
// to the next whole minute. Non-positive durations bill zero.
func BilledMinutes(elapsed time.Duration) int64 {
	if elapsed <= 0 {
		return 0
	}
	m := int64(elapsed / time.Minute)
	if elapsed%time.Minute != 0 {
		m++
	}
	return m
}

// AffordableMinutes is the number of whole minutes balance covers at rate.
func AffordableMinutes(balance, rate decimal.Decimal) int64 {
	if !rate.IsPositive() || !balance.IsPositive() {
		return 0
	}
	return balance.Div(rate).Floor().IntPart()
}

// AccruedCost is the unrounded running cost of a live session.
func AccruedCost(rate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	minutes := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(time.Minute)))
	return rate.Mul(minutes)
}

// Split divides total into platform fee and reader earnings. The fee is rounded
// to cents and earnings take the remainder, so fee + earnings == total exactly.
func Split(total, feeRate decimal.Decimal) (platformFee, readerEarnings decimal.Decimal) {
	platformFee = RoundAmount(total.Mul(feeRate))
	readerEarnings = total.Sub(platformFee)
	return platformFee, readerEarnings
}
