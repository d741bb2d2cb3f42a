package distribution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumo-chat/lumo_pay/internal/ledger"
)

// MemoryRepository keeps distributions in memory for tests, backed by an
// in-memory ledger for escrow postings. One mutex serializes claims the way
// row locks do in PostgreSQL.
type MemoryRepository struct {
	mu     sync.Mutex
	rows   map[string]Distribution
	claims map[string][]Claim
	ledger ledger.Ledger
}

// NewMemoryRepository builds an empty in-memory repository.
func NewMemoryRepository(ledgerBackend ledger.Ledger) *MemoryRepository {
	return &MemoryRepository{
		rows:   map[string]Distribution{},
		claims: map[string][]Claim{},
		ledger: ledgerBackend,
	}
}

// Create stores the distribution and escrows the full pot.
func (r *MemoryRepository) Create(ctx context.Context, d Distribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	escrow := ledger.EscrowCode("dist", d.ID)
	if err := r.ledger.EnsureAccount(ctx, escrow); err != nil {
		return err
	}
	from := ledger.AccountCode(d.CreatorID, d.Asset)
	if _, err := r.ledger.Post(ctx, from, escrow, ledger.KindDistributionFund, d.ID, d.TotalAmount); err != nil {
		return err
	}
	r.rows[d.ID] = d
	return nil
}

// Get fetches a distribution by identifier.
func (r *MemoryRepository) Get(ctx context.Context, id string) (Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.rows[id]
	if !ok {
		return Distribution{}, ErrNotFound
	}
	return d, nil
}

// Claims lists recorded claims, oldest first.
func (r *MemoryRepository) Claims(ctx context.Context, id string) ([]Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Claim(nil), r.claims[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out, nil
}

// Claim draws the claimant's share from the pot.
func (r *MemoryRepository) Claim(ctx context.Context, id, claimantID string, now time.Time) (Distribution, Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[id]
	if !ok {
		return Distribution{}, Claim{}, ErrNotFound
	}
	if err := claimableError(d, now); err != nil {
		return d, Claim{}, err
	}
	for _, c := range r.claims[id] {
		if c.ClaimantID == claimantID {
			return d, Claim{}, ErrAlreadyClaimed
		}
	}

	share, err := splitAmount(d.Policy, d.TotalAmount, d.PacketCount, d.Remaining, d.PacketCount-d.ClaimedCount)
	if err != nil {
		return Distribution{}, Claim{}, err
	}

	to := ledger.AccountCode(claimantID, d.Asset)
	if err := r.ledger.EnsureAccount(ctx, to); err != nil {
		return Distribution{}, Claim{}, err
	}
	escrow := ledger.EscrowCode("dist", d.ID)
	if _, err := r.ledger.Post(ctx, escrow, to, ledger.KindDistributionClaim, d.ID+":"+claimantID, share); err != nil {
		return Distribution{}, Claim{}, err
	}

	claim := Claim{DistributionID: d.ID, ClaimantID: claimantID, Amount: share, ClaimedAt: now.UTC()}
	r.claims[id] = append(r.claims[id], claim)

	d.Remaining -= share
	d.ClaimedCount++
	if d.ClaimedCount == d.PacketCount {
		resolved := now.UTC()
		d.State = StateCompleted
		d.ResolvedAt = &resolved
	}
	r.rows[id] = d
	return d, claim, nil
}

// Cancel refunds the unclaimed remainder to the creator.
func (r *MemoryRepository) Cancel(ctx context.Context, id string, now time.Time) (Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[id]
	if !ok {
		return Distribution{}, ErrNotFound
	}
	if d.State != StateActive {
		return d, ErrNotActive
	}

	if d.Remaining > 0 {
		escrow := ledger.EscrowCode("dist", d.ID)
		to := ledger.AccountCode(d.CreatorID, d.Asset)
		if _, err := r.ledger.Post(ctx, escrow, to, ledger.KindDistributionRefund, d.ID, d.Remaining); err != nil {
			return Distribution{}, err
		}
	}

	resolved := now.UTC()
	d.State = StateCancelled
	d.Remaining = 0
	d.ResolvedAt = &resolved
	r.rows[id] = d
	return d, nil
}

// ExpireDue refunds the remainder of every active distribution past expiry.
func (r *MemoryRepository) ExpireDue(ctx context.Context, now time.Time) ([]Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := now.UTC()
	var expired []Distribution
	for id, d := range r.rows {
		if d.State != StateActive || d.ExpiresAt.After(now) {
			continue
		}
		if d.Remaining > 0 {
			escrow := ledger.EscrowCode("dist", d.ID)
			to := ledger.AccountCode(d.CreatorID, d.Asset)
			if _, err := r.ledger.Post(ctx, escrow, to, ledger.KindDistributionRefund, d.ID, d.Remaining); err != nil {
				return nil, err
			}
		}
		d.State = StateExpired
		d.Remaining = 0
		d.ResolvedAt = &resolved
		r.rows[id] = d
		expired = append(expired, d)
	}
	return expired, nil
}
