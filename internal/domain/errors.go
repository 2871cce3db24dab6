package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUnauthorized         = errors.New("actor is not a party to this session")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("operation not allowed in current state")
	ErrReaderUnavailable    = errors.New("reader is not accepting sessions")
	ErrAlreadySettled       = errors.New("settlement already applied")
	ErrAlreadyProcessed     = errors.New("event already processed")
	ErrTransportUnavailable = errors.New("realtime transport unavailable")
	ErrGatewayError         = errors.New("payment gateway error")
)

// InsufficientFundsError carries the amounts needed for actionable guidance.
type InsufficientFundsError struct {
	AccountID string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s needs %s, has %s",
		e.AccountID, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall is the amount the account must add to proceed.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	d := e.Required.Sub(e.Available)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
