package domain

import (
	"time"
)

// Identity is the external caller's authorization key (the wallet
// address on the hosting ledger).
type Identity string

type TxnType string

const (
	TxnDeposit  TxnType = "deposit"
	TxnWithdraw TxnType = "withdraw"
)

// ReserveRecord is the bank's pooled balance. There is exactly one,
// stored at ReserveAddress.
type ReserveRecord struct {
	TotalBalance uint64 `json:"total_balance"`
}

// TransactionRecord is one completed deposit or withdrawal, embedded
// in the owning user's history. Immutable once appended.
type TransactionRecord struct {
	TxnType   TxnType `json:"txn_type"`
	Amount    uint64  `json:"amount"`
	Timestamp int64   `json:"timestamp"`
	Signature string  `json:"signature"`
}

// UserRecord holds a user's custodial balance and their append-only
// transaction history.
type UserRecord struct {
	Owner              Identity            `json:"owner"`
	Balance            uint64              `json:"balance"`
	HasLoanRecord      bool                `json:"has_loan_record"`
	TransactionHistory []TransactionRecord `json:"transaction_history"`
}

func NewUserRecord(owner Identity) *UserRecord {
	return &UserRecord{
		Owner:              owner,
		Balance:            0,
		TransactionHistory: []TransactionRecord{},
	}
}

func (u *UserRecord) AppendTransaction(txnType TxnType, amount uint64, at time.Time, signature string) {
	u.TransactionHistory = append(u.TransactionHistory, TransactionRecord{
		TxnType:   txnType,
		Amount:    amount,
		Timestamp: at.Unix(),
		Signature: signature,
	})
}
