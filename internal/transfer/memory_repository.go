package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/lumo-chat/lumo_pay/internal/ledger"
)

// MemoryRepository keeps transfers in memory for tests, backed by an
// in-memory ledger for the escrow postings. A single mutex serializes state
// transitions the way row locks do in PostgreSQL.
type MemoryRepository struct {
	mu     sync.Mutex
	rows   map[string]Transfer
	ledger ledger.Ledger
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository(ledgerBackend ledger.Ledger) *MemoryRepository {
	return &MemoryRepository{rows: map[string]Transfer{}, ledger: ledgerBackend}
}

// Create stores the transfer and escrows the sender's funds.
func (r *MemoryRepository) Create(ctx context.Context, t Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	escrow := ledger.EscrowCode("transfer", t.ID)
	if err := r.ledger.EnsureAccount(ctx, escrow); err != nil {
		return err
	}
	from := ledger.AccountCode(t.SenderID, t.Asset)
	if _, err := r.ledger.Post(ctx, from, escrow, ledger.KindTransferEscrow, t.ID, t.Amount); err != nil {
		return err
	}
	r.rows[t.ID] = t
	return nil
}

// Get fetches a transfer by identifier.
func (r *MemoryRepository) Get(ctx context.Context, id string) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}

// Claim moves escrowed funds to the claimant and flips the row to Claimed.
func (r *MemoryRepository) Claim(ctx context.Context, id, claimantID string, now time.Time) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	if err := pendingOrTerminalError(t); err != nil {
		return t, err
	}
	if now.After(t.ExpiresAt) {
		return t, ErrExpired
	}

	to := ledger.AccountCode(claimantID, t.Asset)
	if err := r.ledger.EnsureAccount(ctx, to); err != nil {
		return Transfer{}, err
	}
	escrow := ledger.EscrowCode("transfer", t.ID)
	if _, err := r.ledger.Post(ctx, escrow, to, ledger.KindTransferClaim, t.ID, t.Amount); err != nil {
		return Transfer{}, err
	}

	resolved := now.UTC()
	t.State = StateClaimed
	t.ClaimantID = claimantID
	t.ResolvedAt = &resolved
	r.rows[id] = t
	return t, nil
}

// Cancel returns escrowed funds to the sender.
func (r *MemoryRepository) Cancel(ctx context.Context, id string, now time.Time) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.rows[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	if err := pendingOrTerminalError(t); err != nil {
		return t, err
	}

	escrow := ledger.EscrowCode("transfer", t.ID)
	to := ledger.AccountCode(t.SenderID, t.Asset)
	if _, err := r.ledger.Post(ctx, escrow, to, ledger.KindTransferCancel, t.ID, t.Amount); err != nil {
		return Transfer{}, err
	}

	resolved := now.UTC()
	t.State = StateCancelled
	t.ResolvedAt = &resolved
	r.rows[id] = t
	return t, nil
}

// ExpireDue refunds every pending transfer past its expiry.
func (r *MemoryRepository) ExpireDue(ctx context.Context, now time.Time) ([]Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := now.UTC()
	var expired []Transfer
	for id, t := range r.rows {
		if t.State != StatePending || t.ExpiresAt.After(now) {
			continue
		}
		escrow := ledger.EscrowCode("transfer", t.ID)
		to := ledger.AccountCode(t.SenderID, t.Asset)
		if _, err := r.ledger.Post(ctx, escrow, to, ledger.KindTransferRefund, t.ID, t.Amount); err != nil {
			return nil, err
		}
		t.State = StateExpiredRefunded
		t.ResolvedAt = &resolved
		r.rows[id] = t
		expired = append(expired, t)
	}
	return expired, nil
}
