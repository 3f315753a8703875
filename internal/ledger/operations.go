package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bankledger/internal/domain"
	"bankledger/internal/repository"
)

const (
	OpInitializeReserve = "initialize-reserve"
	OpDeposit           = "deposit"
	OpWithdraw          = "withdraw"
	OpOpenLoanRecord    = "open-loan-record"
	OpRequestLoan       = "request-loan"
	OpRepayLoan         = "repay-loan"
)

// InitializeReserve creates the singleton reserve with the given
// opening balance and the caller's user record with balance zero.
func (l *Ledger) InitializeReserve(ctx context.Context, caller domain.Identity, amount uint64) (Receipt, error) {
	if err := l.validator.ValidateIdentity(caller); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.store.GetReserve(ctx); err == nil {
		return Receipt{}, fmt.Errorf("%w: reserve", repository.ErrAlreadyExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return Receipt{}, err
	}

	writes := []repository.Write{
		repository.Create(domain.ReserveAddress(), repository.KindReserve,
			&domain.ReserveRecord{TotalBalance: amount}),
	}
	if _, err := l.store.GetUser(ctx, caller); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return Receipt{}, err
		}
		writes = append(writes, repository.Create(domain.UserAddress(caller), repository.KindUser,
			domain.NewUserRecord(caller)))
	}

	if err := l.store.Apply(ctx, writes); err != nil {
		return Receipt{}, err
	}

	receipt := l.newReceipt(OpInitializeReserve, caller, amount, l.clock())
	l.logger.Info("Reserve initialized",
		slog.String("caller", string(caller)),
		slog.Uint64("amount", amount),
		slog.String("operation_id", receipt.OperationID))
	return receipt, nil
}

// Deposit moves amount from the user's external funding source into
// the reserve and credits the user's custodial balance. The user
// record is created lazily on first deposit.
func (l *Ledger) Deposit(ctx context.Context, owner domain.Identity, amount uint64) (Receipt, error) {
	if err := l.validateOwnerAmount(owner, amount); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	reserve, err := l.store.GetReserve(ctx)
	if err != nil {
		return Receipt{}, err
	}
	user, createUser, err := l.getUserOrNew(ctx, owner)
	if err != nil {
		return Receipt{}, err
	}

	newReserveBalance, err := checkedAdd(reserve.TotalBalance, amount)
	if err != nil {
		return Receipt{}, err
	}
	newUserBalance, err := checkedAdd(user.Balance, amount)
	if err != nil {
		return Receipt{}, err
	}

	now := l.clock()
	receipt := l.newReceipt(OpDeposit, owner, amount, now)

	reserve.TotalBalance = newReserveBalance
	user.Balance = newUserBalance
	user.AppendTransaction(domain.TxnDeposit, amount, now, receipt.Signature)

	err = l.store.Apply(ctx, []repository.Write{
		repository.Update(domain.ReserveAddress(), repository.KindReserve, reserve),
		l.userWrite(owner, user, createUser),
	})
	if err != nil {
		return Receipt{}, err
	}

	l.logger.Info("Deposit completed",
		slog.String("owner", string(owner)),
		slog.Uint64("amount", amount),
		slog.Uint64("user_balance", user.Balance),
		slog.Uint64("reserve_balance", reserve.TotalBalance),
		slog.String("operation_id", receipt.OperationID))
	return receipt, nil
}

// Withdraw debits both the user's custodial balance and the reserve.
// The two counters track the same funds independently, so both
// sufficiency checks must pass.
func (l *Ledger) Withdraw(ctx context.Context, owner domain.Identity, amount uint64) (Receipt, error) {
	if err := l.validateOwnerAmount(owner, amount); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	reserve, err := l.store.GetReserve(ctx)
	if err != nil {
		return Receipt{}, err
	}
	user, err := l.store.GetUser(ctx, owner)
	if err != nil {
		return Receipt{}, err
	}

	if user.Balance < amount {
		return Receipt{}, fmt.Errorf("%w: balance %d, requested %d",
			ErrInsufficientFunds, user.Balance, amount)
	}
	if reserve.TotalBalance < amount {
		return Receipt{}, fmt.Errorf("%w: reserve %d, requested %d",
			ErrInsufficientReserve, reserve.TotalBalance, amount)
	}

	now := l.clock()
	receipt := l.newReceipt(OpWithdraw, owner, amount, now)

	reserve.TotalBalance -= amount
	user.Balance -= amount
	user.AppendTransaction(domain.TxnWithdraw, amount, now, receipt.Signature)

	err = l.store.Apply(ctx, []repository.Write{
		repository.Update(domain.ReserveAddress(), repository.KindReserve, reserve),
		repository.Update(domain.UserAddress(owner), repository.KindUser, user),
	})
	if err != nil {
		return Receipt{}, err
	}

	l.logger.Info("Withdrawal completed",
		slog.String("owner", string(owner)),
		slog.Uint64("amount", amount),
		slog.Uint64("user_balance", user.Balance),
		slog.Uint64("reserve_balance", reserve.TotalBalance),
		slog.String("operation_id", receipt.OperationID))
	return receipt, nil
}

// OpenLoanRecord creates the user's dormant loan record. Each user
// gets exactly one; a second open fails with ErrAlreadyExists.
func (l *Ledger) OpenLoanRecord(ctx context.Context, owner domain.Identity) (Receipt, error) {
	if err := l.validator.ValidateIdentity(owner); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.store.GetLoan(ctx, owner); err == nil {
		return Receipt{}, fmt.Errorf("%w: loan record for %s", repository.ErrAlreadyExists, owner)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return Receipt{}, err
	}

	user, createUser, err := l.getUserOrNew(ctx, owner)
	if err != nil {
		return Receipt{}, err
	}
	user.HasLoanRecord = true

	err = l.store.Apply(ctx, []repository.Write{
		repository.Create(domain.LoanAddress(owner), repository.KindLoan, domain.NewLoanRecord(owner)),
		l.userWrite(owner, user, createUser),
	})
	if err != nil {
		return Receipt{}, err
	}

	receipt := l.newReceipt(OpOpenLoanRecord, owner, 0, l.clock())
	l.logger.Info("Loan record opened",
		slog.String("owner", string(owner)),
		slog.String("operation_id", receipt.OperationID))
	return receipt, nil
}

// RequestLoan disburses amount from the reserve to the owner's
// external account. The custodial balance is untouched; only the loan
// record and the reserve change. A missing loan record is opened in
// the same atomic batch.
func (l *Ledger) RequestLoan(ctx context.Context, owner domain.Identity, amount, ratePercent uint64, term time.Duration) (Receipt, error) {
	if err := l.validateOwnerAmount(owner, amount); err != nil {
		return Receipt{}, err
	}
	if err := l.validator.ValidateLoanTerms(ratePercent, term); err != nil {
		return Receipt{}, err
	}
	if err := l.policy.Validate(amount, ratePercent, term); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	reserve, err := l.store.GetReserve(ctx)
	if err != nil {
		return Receipt{}, err
	}

	createLoan := false
	loan, err := l.store.GetLoan(ctx, owner)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return Receipt{}, err
		}
		loan = domain.NewLoanRecord(owner)
		createLoan = true
	}
	if !loan.Repaid {
		return Receipt{}, fmt.Errorf("%w: %d outstanding for %s",
			ErrActiveLoanExists, loan.LoanAmount, owner)
	}

	if reserve.TotalBalance < amount {
		return Receipt{}, fmt.Errorf("%w: reserve %d, requested %d",
			ErrInsufficientReserve, reserve.TotalBalance, amount)
	}

	user, createUser, err := l.getUserOrNew(ctx, owner)
	if err != nil {
		return Receipt{}, err
	}
	user.HasLoanRecord = true

	now := l.clock()
	reserve.TotalBalance -= amount
	loan.LoanAmount = amount
	loan.InterestRatePercent = ratePercent
	loan.StartTime = now.Unix()
	loan.EndTime = now.Add(term).Unix()
	loan.Repaid = false

	loanWrite := repository.Update(domain.LoanAddress(owner), repository.KindLoan, loan)
	if createLoan {
		loanWrite = repository.Create(domain.LoanAddress(owner), repository.KindLoan, loan)
	}
	err = l.store.Apply(ctx, []repository.Write{
		repository.Update(domain.ReserveAddress(), repository.KindReserve, reserve),
		loanWrite,
		l.userWrite(owner, user, createUser),
	})
	if err != nil {
		return Receipt{}, err
	}

	receipt := l.newReceipt(OpRequestLoan, owner, amount, now)
	l.logger.Info("Loan disbursed",
		slog.String("owner", string(owner)),
		slog.Uint64("amount", amount),
		slog.Uint64("interest_rate_percent", ratePercent),
		slog.Int64("end_time", loan.EndTime),
		slog.String("operation_id", receipt.OperationID))
	return receipt, nil
}

// RepayLoan clears the outstanding loan in full. The repayment must
// cover principal plus interest; any excess is retained by the
// reserve. Partial repayment is not modeled.
func (l *Ledger) RepayLoan(ctx context.Context, owner domain.Identity, repayment uint64) (Receipt, error) {
	if err := l.validateOwnerAmount(owner, repayment); err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.store.GetLoan(ctx, owner)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Receipt{}, fmt.Errorf("%w: no loan record for %s", ErrNoActiveLoan, owner)
		}
		return Receipt{}, err
	}
	if loan.Repaid {
		return Receipt{}, fmt.Errorf("%w: loan for %s already repaid", ErrNoActiveLoan, owner)
	}

	due, err := TotalDue(loan)
	if err != nil {
		return Receipt{}, err
	}
	if repayment < due {
		return Receipt{}, fmt.Errorf("%w: total due %d, offered %d",
			ErrInsufficientRepayment, due, repayment)
	}

	reserve, err := l.store.GetReserve(ctx)
	if err != nil {
		return Receipt{}, err
	}
	newReserveBalance, err := checkedAdd(reserve.TotalBalance, repayment)
	if err != nil {
		return Receipt{}, err
	}

	reserve.TotalBalance = newReserveBalance
	loan.Repaid = true

	err = l.store.Apply(ctx, []repository.Write{
		repository.Update(domain.ReserveAddress(), repository.KindReserve, reserve),
		repository.Update(domain.LoanAddress(owner), repository.KindLoan, loan),
	})
	if err != nil {
		return Receipt{}, err
	}

	receipt := l.newReceipt(OpRepayLoan, owner, repayment, l.clock())
	l.logger.Info("Loan repaid",
		slog.String("owner", string(owner)),
		slog.Uint64("repayment", repayment),
		slog.Uint64("total_due", due),
		slog.Uint64("reserve_balance", reserve.TotalBalance),
		slog.String("operation_id", receipt.OperationID))
	return receipt, nil
}

func (l *Ledger) validateOwnerAmount(owner domain.Identity, amount uint64) error {
	if err := l.validator.ValidateIdentity(owner); err != nil {
		return err
	}
	return l.validator.ValidateAmount(amount)
}

func (l *Ledger) getUserOrNew(ctx context.Context, owner domain.Identity) (*domain.UserRecord, bool, error) {
	user, err := l.store.GetUser(ctx, owner)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	return domain.NewUserRecord(owner), true, nil
}

func (l *Ledger) userWrite(owner domain.Identity, user *domain.UserRecord, create bool) repository.Write {
	if create {
		return repository.Create(domain.UserAddress(owner), repository.KindUser, user)
	}
	return repository.Update(domain.UserAddress(owner), repository.KindUser, user)
}
