package ledger

import (
	"fmt"
	"time"
)

// LoanPolicy is the fixed-rate, fixed-term product the bank offers.
// Loans outside these bounds are rejected before any record changes.
type LoanPolicy struct {
	InterestRatePercent uint64
	MinTerm             time.Duration
	MaxTerm             time.Duration
	MaxLoanAmount       uint64 // 0 means no cap
}

func DefaultLoanPolicy() LoanPolicy {
	return LoanPolicy{
		InterestRatePercent: 5,
		MinTerm:             24 * time.Hour,
		MaxTerm:             365 * 24 * time.Hour,
	}
}

func (p LoanPolicy) Validate(amount, ratePercent uint64, term time.Duration) error {
	if ratePercent != p.InterestRatePercent {
		return fmt.Errorf("%w: interest rate %d%%, offered rate is %d%%",
			ErrPolicyViolation, ratePercent, p.InterestRatePercent)
	}
	if term < p.MinTerm || term > p.MaxTerm {
		return fmt.Errorf("%w: term %s outside [%s, %s]",
			ErrPolicyViolation, term, p.MinTerm, p.MaxTerm)
	}
	if p.MaxLoanAmount > 0 && amount > p.MaxLoanAmount {
		return fmt.Errorf("%w: amount %d exceeds cap %d",
			ErrPolicyViolation, amount, p.MaxLoanAmount)
	}
	return nil
}
