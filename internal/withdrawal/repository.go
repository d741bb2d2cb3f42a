package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the withdrawal does not exist.
var ErrNotFound = errors.New("withdrawal not found")

// Repository persists withdrawal requests. TotalSince feeds the rolling
// spending caps: it sums every request that still holds or spent a debit,
// so Rejected and Failed rows do not count against the caps.
type Repository interface {
	Create(ctx context.Context, w Withdrawal) error
	Get(ctx context.Context, id string) (Withdrawal, error)
	Update(ctx context.Context, w Withdrawal) error
	TotalSince(ctx context.Context, accountID string, since time.Time) (int64, error)
}

// PostgresRepository stores withdrawals in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a withdrawal row.
func (r *PostgresRepository) Create(ctx context.Context, w Withdrawal) error {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("parse withdrawal id: %w", err)
	}
	accountID, err := uuid.Parse(w.AccountID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO withdrawals
        (id, account_id, asset, destination, amount, tier, state, tx_ref, retry_count, failure_reason, created_at, updated_at, confirmed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, accountID, w.Asset, w.Destination, w.Amount, w.Tier, w.State,
		w.TxRef, w.RetryCount, w.FailureReason, w.CreatedAt.UTC(), w.UpdatedAt.UTC(), w.ConfirmedAt)
	return err
}

// Get fetches a withdrawal by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Withdrawal, error) {
	wid, err := uuid.Parse(id)
	if err != nil {
		return Withdrawal{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, account_id, asset, destination, amount, tier, state, tx_ref, retry_count, failure_reason, created_at, updated_at, confirmed_at
        FROM withdrawals WHERE id = $1`, wid)
	return scanWithdrawal(row)
}

// Update rewrites the mutable columns of a withdrawal row.
func (r *PostgresRepository) Update(ctx context.Context, w Withdrawal) error {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("parse withdrawal id: %w", err)
	}
	tag, err := r.db.Exec(ctx, `UPDATE withdrawals
        SET state = $2, tx_ref = $3, retry_count = $4, failure_reason = $5, updated_at = $6, confirmed_at = $7
        WHERE id = $1`,
		id, w.State, w.TxRef, w.RetryCount, w.FailureReason, w.UpdatedAt.UTC(), w.ConfirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TotalSince sums withdrawal amounts counting against the account's rolling
// caps from the given instant onward.
func (r *PostgresRepository) TotalSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	aid, err := uuid.Parse(accountID)
	if err != nil {
		return 0, fmt.Errorf("parse account id: %w", err)
	}
	var total int64
	err = r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawals
        WHERE account_id = $1 AND created_at >= $2 AND state NOT IN ($3, $4)`,
		aid, since.UTC(), StateRejected, StateFailed).Scan(&total)
	return total, err
}

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var (
		w         Withdrawal
		id        uuid.UUID
		accountID uuid.UUID
		txRef     *string
		reason    *string
		created   time.Time
		updated   time.Time
	)
	if err := row.Scan(&id, &accountID, &w.Asset, &w.Destination, &w.Amount, &w.Tier, &w.State,
		&txRef, &w.RetryCount, &reason, &created, &updated, &w.ConfirmedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Withdrawal{}, ErrNotFound
		}
		return Withdrawal{}, err
	}
	w.ID = id.String()
	w.AccountID = accountID.String()
	if txRef != nil {
		w.TxRef = *txRef
	}
	if reason != nil {
		w.FailureReason = *reason
	}
	w.CreatedAt = created.UTC()
	w.UpdatedAt = updated.UTC()
	return w, nil
}
