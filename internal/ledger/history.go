package ledger

import (
	"context"

	"bankledger/internal/domain"
)

// HistoryFilter selects a page of a user's transaction history.
// An empty TxnType matches both kinds; Limit <= 0 means no limit.
type HistoryFilter struct {
	TxnType domain.TxnType
	Limit   int
	Offset  int
}

// History is a pure projection over the stored sequence: filter by
// type, then page. Entries keep their append order.
func (l *Ledger) History(ctx context.Context, owner domain.Identity, filter HistoryFilter) ([]domain.TransactionRecord, int, error) {
	user, err := l.User(ctx, owner)
	if err != nil {
		return nil, 0, err
	}

	filtered := user.TransactionHistory
	if filter.TxnType != "" {
		filtered = make([]domain.TransactionRecord, 0, len(user.TransactionHistory))
		for _, txn := range user.TransactionHistory {
			if txn.TxnType == filter.TxnType {
				filtered = append(filtered, txn)
			}
		}
	}
	total := len(filtered)

	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return []domain.TransactionRecord{}, total, nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(filtered) {
		filtered = filtered[:filter.Limit]
	}

	page := make([]domain.TransactionRecord, len(filtered))
	copy(page, filtered)
	return page, total, nil
}
