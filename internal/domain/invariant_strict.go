//go:build ledgerstrict

package domain

import "fmt"

func Violation(format string, args ...interface{}) error {
	panic("ledger invariant violated: " + fmt.Sprintf(format, args...))
}
