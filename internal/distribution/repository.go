package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumo-chat/lumo_pay/internal/ledger"
)

var (
	// ErrNotFound indicates the distribution does not exist.
	ErrNotFound = errors.New("distribution not found")

	// ErrAlreadyClaimed indicates the claimant already took a share.
	ErrAlreadyClaimed = errors.New("distribution already claimed by this account")

	// ErrExhausted indicates every share was already claimed.
	ErrExhausted = errors.New("distribution exhausted")

	// ErrExpired indicates the claim window elapsed.
	ErrExpired = errors.New("distribution expired")

	// ErrNotActive indicates the distribution no longer accepts the
	// requested operation.
	ErrNotActive = errors.New("distribution not active")
)

// Repository persists distributions and their claims. Claim computes the
// share inside the same serialized section that flips the row, so concurrent
// claimants can never overdraw the pot or double-claim.
type Repository interface {
	Create(ctx context.Context, d Distribution) error
	Get(ctx context.Context, id string) (Distribution, error)
	Claims(ctx context.Context, id string) ([]Claim, error)
	Claim(ctx context.Context, id, claimantID string, now time.Time) (Distribution, Claim, error)
	Cancel(ctx context.Context, id string, now time.Time) (Distribution, error)
	ExpireDue(ctx context.Context, now time.Time) ([]Distribution, error)
}

// PostgresRepository stores distributions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const distributionColumns = `id, creator_id, conversation_id, asset, total_amount, packet_count, policy, message, state, remaining_amount, claimed_count, created_at, expires_at, resolved_at`

// Create inserts the distribution row and escrows the full pot atomically.
func (r *PostgresRepository) Create(ctx context.Context, d Distribution) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	escrow := ledger.EscrowCode("dist", d.ID)
	if err := ledger.EnsureAccountInTx(ctx, tx, escrow); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO distributions
        (id, creator_id, conversation_id, asset, total_amount, packet_count, policy, message, state, remaining_amount, claimed_count, created_at, expires_at, resolved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		parseUUID(d.ID), parseUUID(d.CreatorID), d.ConversationID, d.Asset, d.TotalAmount, d.PacketCount,
		d.Policy, d.Message, d.State, d.Remaining, d.ClaimedCount,
		d.CreatedAt.UTC(), d.ExpiresAt.UTC(), d.ResolvedAt); err != nil {
		return err
	}
	from := ledger.AccountCode(d.CreatorID, d.Asset)
	if _, err := ledger.PostInTx(ctx, tx, from, escrow, ledger.KindDistributionFund, d.ID, d.TotalAmount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get fetches a distribution by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Distribution, error) {
	did, err := uuid.Parse(id)
	if err != nil {
		return Distribution{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+distributionColumns+` FROM distributions WHERE id = $1`, did)
	return scanDistribution(row)
}

// Claims lists the recorded claims, oldest first.
func (r *PostgresRepository) Claims(ctx context.Context, id string) ([]Claim, error) {
	did, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT distribution_id, claimant_id, amount, claimed_at
        FROM distribution_claims WHERE distribution_id = $1 ORDER BY claimed_at`, did)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Claim
	for rows.Next() {
		var (
			c        Claim
			distID   uuid.UUID
			claimant uuid.UUID
			at       time.Time
		)
		if err := rows.Scan(&distID, &claimant, &c.Amount, &at); err != nil {
			return nil, err
		}
		c.DistributionID = distID.String()
		c.ClaimantID = claimant.String()
		c.ClaimedAt = at.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Claim draws the claimant's share from the pot under the row lock.
func (r *PostgresRepository) Claim(ctx context.Context, id, claimantID string, now time.Time) (Distribution, Claim, error) {
	did, err := uuid.Parse(id)
	if err != nil {
		return Distribution{}, Claim{}, ErrNotFound
	}
	cid, err := uuid.Parse(claimantID)
	if err != nil {
		return Distribution{}, Claim{}, fmt.Errorf("parse claimant id: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Distribution{}, Claim{}, err
	}
	defer tx.Rollback(ctx)

	d, err := lockDistribution(ctx, tx, did)
	if err != nil {
		return Distribution{}, Claim{}, err
	}
	if err := claimableError(d, now); err != nil {
		return d, Claim{}, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM distribution_claims
        WHERE distribution_id = $1 AND claimant_id = $2)`, did, cid).Scan(&exists); err != nil {
		return Distribution{}, Claim{}, err
	}
	if exists {
		return d, Claim{}, ErrAlreadyClaimed
	}

	share, err := splitAmount(d.Policy, d.TotalAmount, d.PacketCount, d.Remaining, d.PacketCount-d.ClaimedCount)
	if err != nil {
		return Distribution{}, Claim{}, err
	}

	to := ledger.AccountCode(claimantID, d.Asset)
	if err := ledger.EnsureAccountInTx(ctx, tx, to); err != nil {
		return Distribution{}, Claim{}, err
	}
	escrow := ledger.EscrowCode("dist", d.ID)
	clientTxID := d.ID + ":" + claimantID
	if _, err := ledger.PostInTx(ctx, tx, escrow, to, ledger.KindDistributionClaim, clientTxID, share); err != nil {
		return Distribution{}, Claim{}, err
	}

	claim := Claim{DistributionID: d.ID, ClaimantID: claimantID, Amount: share, ClaimedAt: now.UTC()}
	if _, err := tx.Exec(ctx, `INSERT INTO distribution_claims (distribution_id, claimant_id, amount, claimed_at)
        VALUES ($1, $2, $3, $4)`, did, cid, claim.Amount, claim.ClaimedAt); err != nil {
		return Distribution{}, Claim{}, err
	}

	d.Remaining -= share
	d.ClaimedCount++
	if d.ClaimedCount == d.PacketCount {
		resolved := now.UTC()
		d.State = StateCompleted
		d.ResolvedAt = &resolved
	}
	if _, err := tx.Exec(ctx, `UPDATE distributions
        SET state = $2, remaining_amount = $3, claimed_count = $4, resolved_at = $5 WHERE id = $1`,
		did, d.State, d.Remaining, d.ClaimedCount, d.ResolvedAt); err != nil {
		return Distribution{}, Claim{}, err
	}
	return d, claim, tx.Commit(ctx)
}

// Cancel refunds the unclaimed remainder to the creator while the
// distribution is still active.
func (r *PostgresRepository) Cancel(ctx context.Context, id string, now time.Time) (Distribution, error) {
	did, err := uuid.Parse(id)
	if err != nil {
		return Distribution{}, ErrNotFound
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Distribution{}, err
	}
	defer tx.Rollback(ctx)

	d, err := lockDistribution(ctx, tx, did)
	if err != nil {
		return Distribution{}, err
	}
	if d.State != StateActive {
		return d, ErrNotActive
	}

	if d.Remaining > 0 {
		escrow := ledger.EscrowCode("dist", d.ID)
		to := ledger.AccountCode(d.CreatorID, d.Asset)
		if _, err := ledger.PostInTx(ctx, tx, escrow, to, ledger.KindDistributionRefund, d.ID, d.Remaining); err != nil {
			return Distribution{}, err
		}
	}

	resolved := now.UTC()
	d.State = StateCancelled
	d.Remaining = 0
	d.ResolvedAt = &resolved
	if _, err := tx.Exec(ctx, `UPDATE distributions
        SET state = $2, remaining_amount = 0, resolved_at = $3 WHERE id = $1`,
		did, d.State, resolved); err != nil {
		return Distribution{}, err
	}
	return d, tx.Commit(ctx)
}

// ExpireDue refunds the remainder of every active distribution past expiry.
func (r *PostgresRepository) ExpireDue(ctx context.Context, now time.Time) ([]Distribution, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+distributionColumns+` FROM distributions
        WHERE state = $1 AND expires_at <= $2 FOR UPDATE SKIP LOCKED`, StateActive, now.UTC())
	if err != nil {
		return nil, err
	}
	due, err := collectDistributions(rows)
	if err != nil {
		return nil, err
	}

	resolved := now.UTC()
	expired := make([]Distribution, 0, len(due))
	for _, d := range due {
		if d.Remaining > 0 {
			escrow := ledger.EscrowCode("dist", d.ID)
			to := ledger.AccountCode(d.CreatorID, d.Asset)
			if _, err := ledger.PostInTx(ctx, tx, escrow, to, ledger.KindDistributionRefund, d.ID, d.Remaining); err != nil {
				return nil, fmt.Errorf("refund distribution %s: %w", d.ID, err)
			}
		}
		d.State = StateExpired
		d.Remaining = 0
		d.ResolvedAt = &resolved
		if _, err := tx.Exec(ctx, `UPDATE distributions
            SET state = $2, remaining_amount = 0, resolved_at = $3 WHERE id = $1`,
			parseUUID(d.ID), d.State, resolved); err != nil {
			return nil, err
		}
		expired = append(expired, d)
	}
	return expired, tx.Commit(ctx)
}

func lockDistribution(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Distribution, error) {
	row := tx.QueryRow(ctx, `SELECT `+distributionColumns+` FROM distributions WHERE id = $1 FOR UPDATE`, id)
	return scanDistribution(row)
}

// claimableError maps a non-claimable distribution to its sentinel.
func claimableError(d Distribution, now time.Time) error {
	switch d.State {
	case StateActive:
		if now.After(d.ExpiresAt) {
			return ErrExpired
		}
		if d.ClaimedCount >= d.PacketCount {
			return ErrExhausted
		}
		return nil
	case StateCompleted:
		return ErrExhausted
	case StateExpired:
		return ErrExpired
	default:
		return ErrNotActive
	}
}

func scanDistribution(row pgx.Row) (Distribution, error) {
	var (
		d       Distribution
		id      uuid.UUID
		creator uuid.UUID
		created time.Time
		expires time.Time
	)
	if err := row.Scan(&id, &creator, &d.ConversationID, &d.Asset, &d.TotalAmount, &d.PacketCount,
		&d.Policy, &d.Message, &d.State, &d.Remaining, &d.ClaimedCount, &created, &expires, &d.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Distribution{}, ErrNotFound
		}
		return Distribution{}, err
	}
	d.ID = id.String()
	d.CreatorID = creator.String()
	d.CreatedAt = created.UTC()
	d.ExpiresAt = expires.UTC()
	return d, nil
}

func collectDistributions(rows pgx.Rows) ([]Distribution, error) {
	defer rows.Close()
	var out []Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func parseUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}
