package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists the next-unused sequence number per (account, network).
type Store interface {
	Peek(ctx context.Context, accountID, network string) (uint64, bool, error)
	Put(ctx context.Context, accountID, network string, next uint64) error
}

// PostgresStore persists counters in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a counter store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Peek reads the current counter; the second return reports whether the
// counter was ever initialized.
func (s *PostgresStore) Peek(ctx context.Context, accountID, network string) (uint64, bool, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return 0, false, fmt.Errorf("parse account id: %w", err)
	}
	var next int64
	err = s.db.QueryRow(ctx, `SELECT next_sequence FROM sequence_counters
        WHERE account_id = $1 AND network = $2`, id, network).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(next), true, nil
}

// Put durably sets the counter.
func (s *PostgresStore) Put(ctx context.Context, accountID, network string, next uint64) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO sequence_counters (account_id, network, next_sequence, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (account_id, network) DO UPDATE SET next_sequence = $3, updated_at = $4`,
		id, network, int64(next), time.Now().UTC())
	return err
}

type memoryStore struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

// NewMemoryStore constructs an in-memory counter store for tests.
func NewMemoryStore() Store {
	return &memoryStore{counters: make(map[string]uint64)}
}

func (s *memoryStore) Peek(_ context.Context, accountID, network string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	next, ok := s.counters[accountID+":"+network]
	return next, ok, nil
}

func (s *memoryStore) Put(_ context.Context, accountID, network string, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[accountID+":"+network] = next
	return nil
}
