package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]int64
	postings map[string]PostingResult
	entries  map[string][]Entry
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances: make(map[string]int64),
		postings: make(map[string]PostingResult),
		entries:  make(map[string][]Entry),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Post(_ context.Context, fromCode, toCode, kind, clientTxID string, amount int64) (PostingResult, error) {
	if amount <= 0 {
		return PostingResult{}, ErrInsufficientFunds
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.postLocked(fromCode, toCode, kind, clientTxID, amount)
}

// postLocked assumes l.mu is held.
func (l *inMemoryLedger) postLocked(fromCode, toCode, kind, clientTxID string, amount int64) (PostingResult, error) {
	key := kind + ":" + clientTxID
	if res, exists := l.postings[key]; exists {
		return res, ErrDuplicatePosting
	}

	fromBalance, ok := l.balances[fromCode]
	if !ok {
		return PostingResult{}, ErrAccountNotFound
	}
	toBalance, ok := l.balances[toCode]
	if !ok {
		return PostingResult{}, ErrAccountNotFound
	}

	if fromBalance < amount {
		return PostingResult{}, ErrInsufficientFunds
	}

	fromBalance -= amount
	toBalance += amount
	l.balances[fromCode] = fromBalance
	l.balances[toCode] = toBalance

	txID := uuid.NewString()
	now := time.Now().UTC()
	l.entries[fromCode] = append(l.entries[fromCode], Entry{
		ID: uuid.NewString(), TransactionID: txID, Account: fromCode, Kind: kind, Delta: -amount, CreatedAt: now,
	})
	l.entries[toCode] = append(l.entries[toCode], Entry{
		ID: uuid.NewString(), TransactionID: txID, Account: toCode, Kind: kind, Delta: amount, CreatedAt: now,
	})

	res := PostingResult{TransactionID: txID, FromBalance: fromBalance, ToBalance: toBalance}
	l.postings[key] = res
	return res, nil
}

func (l *inMemoryLedger) History(_ context.Context, code string, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.entries[code]
	// newest first
	out := make([]Entry, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
