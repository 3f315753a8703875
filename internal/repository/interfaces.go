package repository

import (
	"context"
	"errors"

	"bankledger/internal/domain"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

type Kind string

const (
	KindReserve Kind = "reserve"
	KindUser    Kind = "user"
	KindLoan    Kind = "loan"
)

// Write is one create or update of a record at its deterministic
// address. Writes are only ever applied as part of an atomic batch.
type Write struct {
	Address domain.Address
	Kind    Kind
	Create  bool
	Record  any
}

func Create(addr domain.Address, kind Kind, record any) Write {
	return Write{Address: addr, Kind: kind, Create: true, Record: record}
}

func Update(addr domain.Address, kind Kind, record any) Write {
	return Write{Address: addr, Kind: kind, Record: record}
}

// AccountStore is durable, keyed storage for the three record kinds.
// Reads return ErrNotFound when the address is unoccupied; callers
// must treat that as "uninitialized", never as a zero value.
//
// Apply is all-or-nothing: a create against an occupied address fails
// with ErrAlreadyExists, an update against an empty one with
// ErrNotFound, and on any failure none of the batch becomes visible.
type AccountStore interface {
	GetReserve(ctx context.Context) (*domain.ReserveRecord, error)
	GetUser(ctx context.Context, owner domain.Identity) (*domain.UserRecord, error)
	GetLoan(ctx context.Context, owner domain.Identity) (*domain.LoanRecord, error)
	Apply(ctx context.Context, writes []Write) error
}
