package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"bankledger/internal/domain"
	"bankledger/internal/repository"
)

// Store keeps records as marshaled JSON so reads always hand back
// fresh values and callers can never alias store-internal state.
type Store struct {
	mu      sync.RWMutex
	records map[domain.Address]json.RawMessage
}

func NewStore() *Store {
	return &Store{
		records: make(map[domain.Address]json.RawMessage),
	}
}

func (s *Store) GetReserve(ctx context.Context) (*domain.ReserveRecord, error) {
	var r domain.ReserveRecord
	if err := s.get(domain.ReserveAddress(), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetUser(ctx context.Context, owner domain.Identity) (*domain.UserRecord, error) {
	var u domain.UserRecord
	if err := s.get(domain.UserAddress(owner), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetLoan(ctx context.Context, owner domain.Identity) (*domain.LoanRecord, error) {
	var l domain.LoanRecord
	if err := s.get(domain.LoanAddress(owner), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) get(addr domain.Address, dst any) error {
	s.mu.RLock()
	body, ok := s.records[addr]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, addr)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode record %s: %w", addr, err)
	}
	return nil
}

// Apply stages the whole batch before touching the map, so a failure
// on any write leaves every record untouched.
func (s *Store) Apply(ctx context.Context, writes []repository.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[domain.Address]json.RawMessage, len(writes))
	for _, w := range writes {
		_, exists := s.records[w.Address]
		if _, inBatch := staged[w.Address]; inBatch {
			exists = true
		}
		if w.Create && exists {
			return fmt.Errorf("%w: %s", repository.ErrAlreadyExists, w.Address)
		}
		if !w.Create && !exists {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, w.Address)
		}
		body, err := json.Marshal(w.Record)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", w.Address, err)
		}
		staged[w.Address] = body
	}

	for addr, body := range staged {
		s.records[addr] = body
	}
	return nil
}
