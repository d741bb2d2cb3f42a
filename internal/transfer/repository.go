package transfer

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
	// ErrNotFound indicates the transfer does not exist.
	ErrNotFound = errors.New("transfer not found")

	// ErrAlreadyClaimed indicates the transfer was already claimed.
	ErrAlreadyClaimed = errors.New("transfer already claimed")

	// ErrAlreadyCancelled indicates the sender already cancelled the transfer.
	ErrAlreadyCancelled = errors.New("transfer already cancelled")

	// ErrExpired indicates the claim window elapsed.
	ErrExpired = errors.New("transfer expired")
)

// Repository persists transfers. Every method that moves the state machine
// also moves the escrowed funds inside the same transaction, with the row
// lock as the serialization point.
type Repository interface {
	Create(ctx context.Context, t Transfer) error
	Get(ctx context.Context, id string) (Transfer, error)
	Claim(ctx context.Context, id, claimantID string, now time.Time) (Transfer, error)
	Cancel(ctx context.Context, id string, now time.Time) (Transfer, error)
	ExpireDue(ctx context.Context, now time.Time) ([]Transfer, error)
}

// PostgresRepository stores transfers in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transferColumns = `id, sender_id, recipient_id, claimant_id, conversation_id, asset, amount, message, state, created_at, expires_at, resolved_at`

// Create inserts the transfer row and escrows the sender's funds atomically.
func (r *PostgresRepository) Create(ctx context.Context, t Transfer) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	escrow := ledger.EscrowCode("transfer", t.ID)
	if err := ledger.EnsureAccountInTx(ctx, tx, escrow); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO transfers
        (id, sender_id, recipient_id, claimant_id, conversation_id, asset, amount, message, state, created_at, expires_at, resolved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		mustUUID(t.ID), mustUUID(t.SenderID), nullUUID(t.RecipientID), nullUUID(t.ClaimantID),
		t.ConversationID, t.Asset, t.Amount, t.Message, t.State,
		t.CreatedAt.UTC(), t.ExpiresAt.UTC(), t.ResolvedAt); err != nil {
		return err
	}
	from := ledger.AccountCode(t.SenderID, t.Asset)
	if _, err := ledger.PostInTx(ctx, tx, from, escrow, ledger.KindTransferEscrow, t.ID, t.Amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get fetches a transfer by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Transfer, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transfer{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, tid)
	return scanTransfer(row)
}

// Claim moves escrowed funds to the claimant and flips the row to Claimed,
// all in one transaction under the row lock.
func (r *PostgresRepository) Claim(ctx context.Context, id, claimantID string, now time.Time) (Transfer, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transfer{}, ErrNotFound
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Transfer{}, err
	}
	defer tx.Rollback(ctx)

	t, err := lockTransfer(ctx, tx, tid)
	if err != nil {
		return Transfer{}, err
	}
	if err := pendingOrTerminalError(t); err != nil {
		return t, err
	}
	if now.After(t.ExpiresAt) {
		return t, ErrExpired
	}

	to := ledger.AccountCode(claimantID, t.Asset)
	if err := ledger.EnsureAccountInTx(ctx, tx, to); err != nil {
		return Transfer{}, err
	}
	escrow := ledger.EscrowCode("transfer", t.ID)
	if _, err := ledger.PostInTx(ctx, tx, escrow, to, ledger.KindTransferClaim, t.ID, t.Amount); err != nil {
		return Transfer{}, err
	}

	resolved := now.UTC()
	t.State = StateClaimed
	t.ClaimantID = claimantID
	t.ResolvedAt = &resolved
	if _, err := tx.Exec(ctx, `UPDATE transfers SET state = $2, claimant_id = $3, resolved_at = $4 WHERE id = $1`,
		tid, t.State, mustUUID(claimantID), resolved); err != nil {
		return Transfer{}, err
	}
	return t, tx.Commit(ctx)
}

// Cancel returns escrowed funds to the sender and flips the row to Cancelled.
func (r *PostgresRepository) Cancel(ctx context.Context, id string, now time.Time) (Transfer, error) {
	tid, err := uuid.Parse(id)
	if err != nil {
		return Transfer{}, ErrNotFound
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Transfer{}, err
	}
	defer tx.Rollback(ctx)

	t, err := lockTransfer(ctx, tx, tid)
	if err != nil {
		return Transfer{}, err
	}
	if err := pendingOrTerminalError(t); err != nil {
		return t, err
	}

	escrow := ledger.EscrowCode("transfer", t.ID)
	to := ledger.AccountCode(t.SenderID, t.Asset)
	if _, err := ledger.PostInTx(ctx, tx, escrow, to, ledger.KindTransferCancel, t.ID, t.Amount); err != nil {
		return Transfer{}, err
	}

	resolved := now.UTC()
	t.State = StateCancelled
	t.ResolvedAt = &resolved
	if _, err := tx.Exec(ctx, `UPDATE transfers SET state = $2, resolved_at = $3 WHERE id = $1`,
		tid, t.State, resolved); err != nil {
		return Transfer{}, err
	}
	return t, tx.Commit(ctx)
}

// ExpireDue refunds every pending transfer past its expiry. Rows locked by a
// concurrent worker are skipped; they are either being resolved or will be
// picked up by the next sweep.
func (r *PostgresRepository) ExpireDue(ctx context.Context, now time.Time) ([]Transfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+transferColumns+` FROM transfers
        WHERE state = $1 AND expires_at <= $2 FOR UPDATE SKIP LOCKED`, StatePending, now.UTC())
	if err != nil {
		return nil, err
	}
	due, err := collectTransfers(rows)
	if err != nil {
		return nil, err
	}

	resolved := now.UTC()
	expired := make([]Transfer, 0, len(due))
	for _, t := range due {
		escrow := ledger.EscrowCode("transfer", t.ID)
		to := ledger.AccountCode(t.SenderID, t.Asset)
		if _, err := ledger.PostInTx(ctx, tx, escrow, to, ledger.KindTransferRefund, t.ID, t.Amount); err != nil {
			return nil, fmt.Errorf("refund transfer %s: %w", t.ID, err)
		}
		t.State = StateExpiredRefunded
		t.ResolvedAt = &resolved
		if _, err := tx.Exec(ctx, `UPDATE transfers SET state = $2, resolved_at = $3 WHERE id = $1`,
			mustUUID(t.ID), t.State, resolved); err != nil {
			return nil, err
		}
		expired = append(expired, t)
	}
	return expired, tx.Commit(ctx)
}

func lockTransfer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Transfer, error) {
	row := tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id)
	return scanTransfer(row)
}

// pendingOrTerminalError maps a non-pending state to its sentinel.
func pendingOrTerminalError(t Transfer) error {
	switch t.State {
	case StatePending:
		return nil
	case StateClaimed:
		return ErrAlreadyClaimed
	case StateCancelled:
		return ErrAlreadyCancelled
	default:
		return ErrExpired
	}
}

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t         Transfer
		id        uuid.UUID
		sender    uuid.UUID
		recipient *uuid.UUID
		claimant  *uuid.UUID
		created   time.Time
		expires   time.Time
	)
	if err := row.Scan(&id, &sender, &recipient, &claimant, &t.ConversationID, &t.Asset,
		&t.Amount, &t.Message, &t.State, &created, &expires, &t.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	t.ID = id.String()
	t.SenderID = sender.String()
	if recipient != nil {
		t.RecipientID = recipient.String()
	}
	if claimant != nil {
		t.ClaimantID = claimant.String()
	}
	t.CreatedAt = created.UTC()
	t.ExpiresAt = expires.UTC()
	return t, nil
}

func collectTransfers(rows pgx.Rows) ([]Transfer, error) {
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func mustUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func nullUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
