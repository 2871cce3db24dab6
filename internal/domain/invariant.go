//go:build !ledgerstrict

package domain

import "fmt"

// Violation reports a broken ledger contract. Strict builds (-tags ledgerstrict)
// panic instead; this build surfaces it as insufficient funds.
func Violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: invariant violated: %s", ErrInsufficientFunds, fmt.Sprintf(format, args...))
}
