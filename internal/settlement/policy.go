package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
)

// Charge is the billing outcome for a session that ran for elapsed.
type Charge struct {
	BilledMinutes int64
	Total         decimal.Decimal
	// Capped is set when the client could not cover every billed minute and
	// the charge was cut to the minutes the balance affords.
	Capped bool
}

// Quote prices elapsed at rate against the client's spendable balance. Billed
// minutes never exceed what spendable covers, so the charge cannot overdraw.
func Quote(rate decimal.Decimal, elapsed time.Duration, spendable decimal.Decimal) Charge {
	billed := domain.BilledMinutes(elapsed)
	c := Charge{BilledMinutes: billed}
	if affordable := domain.AffordableMinutes(spendable, rate); billed > affordable {
		c.BilledMinutes = affordable
		c.Capped = true
	}
	c.Total = domain.RoundAmount(rate.Mul(decimal.NewFromInt(c.BilledMinutes)))
	return c
}

// MustTerminate reports whether a live session has to end now: by the next
// check, interval from now, it would owe a minute the balance cannot cover.
func MustTerminate(rate decimal.Decimal, elapsed, interval time.Duration, spendable decimal.Decimal) bool {
	next := domain.BilledMinutes(elapsed + interval)
	owed := rate.Mul(decimal.NewFromInt(next))
	return owed.GreaterThan(spendable)
}

// RemainingMinutes is how many more whole minutes the balance covers beyond
// what the session has already run up.
func RemainingMinutes(rate decimal.Decimal, elapsed time.Duration, spendable decimal.Decimal) int64 {
	left := domain.AffordableMinutes(spendable, rate) - domain.BilledMinutes(elapsed)
	if left < 0 {
		return 0
	}
	return left
}
