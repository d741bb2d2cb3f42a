package chain

import (
	"context"
	"errors"
	"sync"
)

type memoryKeyRepository struct {
	mu      sync.RWMutex
	storage map[string]KeyRecord
}

// NewMemoryKeyRepository constructs an in-memory key repository for tests.
func NewMemoryKeyRepository() KeyRepository {
	return &memoryKeyRepository{storage: make(map[string]KeyRecord)}
}

func (r *memoryKeyRepository) Save(_ context.Context, record KeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[record.AccountID]; exists {
		return errors.New("key material exists")
	}
	r.storage[record.AccountID] = record
	return nil
}

func (r *memoryKeyRepository) Get(_ context.Context, accountID string) (KeyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.storage[accountID]
	if !ok {
		return KeyRecord{}, ErrNoKey
	}
	return record, nil
}
