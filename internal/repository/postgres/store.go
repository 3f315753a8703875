package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bankledger/internal/domain"
	"bankledger/internal/repository"
)

// Store persists records in a single key-value table. Addresses are
// derived, never enumerated, so no secondary index is needed.
//
// The ledger engine serializes operations; the store only has to make
// each batch atomic, which one transaction per Apply provides.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ repository.AccountStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    address    BYTEA PRIMARY KEY,
    kind       TEXT NOT NULL,
    body       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) GetReserve(ctx context.Context) (*domain.ReserveRecord, error) {
	var r domain.ReserveRecord
	if err := s.get(ctx, domain.ReserveAddress(), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetUser(ctx context.Context, owner domain.Identity) (*domain.UserRecord, error) {
	var u domain.UserRecord
	if err := s.get(ctx, domain.UserAddress(owner), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetLoan(ctx context.Context, owner domain.Identity) (*domain.LoanRecord, error) {
	var l domain.LoanRecord
	if err := s.get(ctx, domain.LoanAddress(owner), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) get(ctx context.Context, addr domain.Address, dst any) error {
	var body []byte
	err := s.pool.QueryRow(ctx, "SELECT body FROM records WHERE address = $1", addr.Bytes()).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, addr)
		}
		return fmt.Errorf("read record %s: %w", addr, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode record %s: %w", addr, err)
	}
	return nil
}

func (s *Store) Apply(ctx context.Context, writes []repository.Write) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, w := range writes {
		body, err := json.Marshal(w.Record)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", w.Address, err)
		}
		if w.Create {
			_, err := tx.Exec(ctx, `
				INSERT INTO records (address, kind, body)
				VALUES ($1, $2, $3)
			`, w.Address.Bytes(), string(w.Kind), body)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", repository.ErrAlreadyExists, w.Address)
				}
				return fmt.Errorf("create record %s: %w", w.Address, err)
			}
			continue
		}
		tag, err := tx.Exec(ctx, `
			UPDATE records SET body = $2, updated_at = now()
			WHERE address = $1
		`, w.Address.Bytes(), body)
		if err != nil {
			return fmt.Errorf("update record %s: %w", w.Address, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, w.Address)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
