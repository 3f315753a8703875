package validator

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"bankledger/internal/domain"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidTerm     = errors.New("invalid loan term")
	ErrInvalidRate     = errors.New("invalid interest rate")
)

// OperationValidator checks ledger operation inputs before any record
// is read. Amounts are base units: zero is never a valid amount.
type OperationValidator struct {
	identityRegex *regexp.Regexp
}

func NewOperationValidator() *OperationValidator {
	return &OperationValidator{
		identityRegex: regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`),
	}
}

func (v *OperationValidator) ValidateIdentity(owner domain.Identity) error {
	if !v.identityRegex.MatchString(string(owner)) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, owner)
	}
	return nil
}

func (v *OperationValidator) ValidateAmount(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (v *OperationValidator) ValidateLoanTerms(ratePercent uint64, term time.Duration) error {
	if term <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTerm, term)
	}
	if ratePercent > 100 {
		return fmt.Errorf("%w: %d%%", ErrInvalidRate, ratePercent)
	}
	return nil
}
