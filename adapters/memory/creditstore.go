package memory

import (
	"context"
	"sync"

	"github.com/cj1101/crowseye-metering/ports"
)

// CreditStore is an in-memory implementation of ports.CreditStore.
// A single mutex is enough here: credit ops are rare compared to usage
// tracking, and the conditional deduct must be serialized anyway.
type CreditStore struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewCreditStore creates an in-memory credit store.
func NewCreditStore() *CreditStore {
	return &CreditStore{balances: make(map[string]int64)}
}

// Balance returns the user's remaining prepaid credits.
func (s *CreditStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// Deduct atomically subtracts amount if the balance is sufficient.
func (s *CreditStore) Deduct(_ context.Context, userID string, amount int64, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[userID]
	if amount == 0 {
		return balance, nil
	}
	if balance < amount {
		return balance, ports.ErrInsufficientCredits
	}
	balance -= amount
	s.balances[userID] = balance
	return balance, nil
}

// Grant adds prepaid credits.
func (s *CreditStore) Grant(_ context.Context, userID string, amount int64, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[userID] += amount
	return s.balances[userID], nil
}

// Clear removes all balances (for testing).
func (s *CreditStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = make(map[string]int64)
}

// Ensure interface compliance.
var _ ports.CreditStore = (*CreditStore)(nil)
