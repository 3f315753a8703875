package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"bankledger/internal/domain"
	"bankledger/internal/repository"
	"bankledger/pkg/crypto"
	"bankledger/pkg/validator"
)

// Ledger applies the six account operations against the store. A
// single mutex serializes them, supplying the per-record exclusivity
// the hosting environment guarantees on the original ledger; with
// every precondition checked before the one Apply call, a failing
// operation writes nothing.
type Ledger struct {
	store     repository.AccountStore
	policy    LoanPolicy
	signer    *crypto.Signer
	validator *validator.OperationValidator
	logger    *slog.Logger
	clock     func() time.Time
	mu        sync.Mutex
}

func New(store repository.AccountStore, policy LoanPolicy, signer *crypto.Signer, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:     store,
		policy:    policy,
		signer:    signer,
		validator: validator.NewOperationValidator(),
		logger:    logger,
		clock:     time.Now,
	}
}

// Receipt identifies a completed operation. Its Signature is the
// opaque reference stored in transaction history.
type Receipt struct {
	OperationID string          `json:"operation_id"`
	Operation   string          `json:"operation"`
	Owner       domain.Identity `json:"owner"`
	Amount      uint64          `json:"amount"`
	Timestamp   int64           `json:"timestamp"`
	Signature   string          `json:"signature"`
}

func (l *Ledger) newReceipt(operation string, owner domain.Identity, amount uint64, at time.Time) Receipt {
	r := Receipt{
		OperationID: uuid.NewString(),
		Operation:   operation,
		Owner:       owner,
		Amount:      amount,
		Timestamp:   at.Unix(),
	}
	if l.signer != nil {
		r.Signature = l.signer.SignOperation(r.OperationID, string(owner), amount, r.Timestamp)
	} else {
		r.Signature = r.OperationID
	}
	return r
}

// Reserve returns the reserve record, or repository.ErrNotFound when
// the bank is uninitialized.
func (l *Ledger) Reserve(ctx context.Context) (*domain.ReserveRecord, error) {
	return l.store.GetReserve(ctx)
}

func (l *Ledger) User(ctx context.Context, owner domain.Identity) (*domain.UserRecord, error) {
	if err := l.validator.ValidateIdentity(owner); err != nil {
		return nil, err
	}
	return l.store.GetUser(ctx, owner)
}

func (l *Ledger) Loan(ctx context.Context, owner domain.Identity) (*domain.LoanRecord, error) {
	if err := l.validator.ValidateIdentity(owner); err != nil {
		return nil, err
	}
	return l.store.GetLoan(ctx, owner)
}

// TotalDue computes loan principal plus interest with integer floor
// division, the same arithmetic the loan was offered under.
func TotalDue(loan *domain.LoanRecord) (uint64, error) {
	if loan.InterestRatePercent > 0 && loan.LoanAmount > math.MaxUint64/loan.InterestRatePercent {
		return 0, fmt.Errorf("%w: interest on %d at %d%%", ErrOverflow, loan.LoanAmount, loan.InterestRatePercent)
	}
	interest := loan.LoanAmount * loan.InterestRatePercent / 100
	if loan.LoanAmount > math.MaxUint64-interest {
		return 0, fmt.Errorf("%w: total due on %d", ErrOverflow, loan.LoanAmount)
	}
	return loan.LoanAmount + interest, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return a + b, nil
}
