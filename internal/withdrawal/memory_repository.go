package withdrawal

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps withdrawals in memory for tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]Withdrawal
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]Withdrawal{}}
}

// Create stores a withdrawal row.
func (r *MemoryRepository) Create(ctx context.Context, w Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[w.ID] = w
	return nil
}

// Get fetches a withdrawal by identifier.
func (r *MemoryRepository) Get(ctx context.Context, id string) (Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	return w, nil
}

// Update rewrites a stored withdrawal.
func (r *MemoryRepository) Update(ctx context.Context, w Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[w.ID]; !ok {
		return ErrNotFound
	}
	r.rows[w.ID] = w
	return nil
}

// TotalSince sums amounts counting against the rolling caps.
func (r *MemoryRepository) TotalSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, w := range r.rows {
		if w.AccountID != accountID || w.CreatedAt.Before(since) {
			continue
		}
		if w.State == StateRejected || w.State == StateFailed {
			continue
		}
		total += w.Amount
	}
	return total, nil
}
