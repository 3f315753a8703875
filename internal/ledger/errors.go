package ledger

import "errors"

// Every operation either completes fully or fails with one of these
// (or a store/validator error) having performed no mutation at all.
var (
	ErrOverflow              = errors.New("balance overflow")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientReserve   = errors.New("insufficient reserve")
	ErrActiveLoanExists      = errors.New("active loan exists")
	ErrNoActiveLoan          = errors.New("no active loan")
	ErrInsufficientRepayment = errors.New("insufficient repayment")
	ErrPolicyViolation       = errors.New("loan policy violation")
)
