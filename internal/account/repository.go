package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the custodial account does not exist.
var ErrNotFound = errors.New("account not found")

// Repository persists custodial account metadata.
type Repository interface {
	Create(ctx context.Context, account Account) error
	Get(ctx context.Context, id string) (Account, error)
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an account record.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	accountID, err := uuid.Parse(account.ID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	ownerID, err := uuid.Parse(account.OwnerID)
	if err != nil {
		return fmt.Errorf("parse owner id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO custodial_accounts (id, owner_id, address, status, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		accountID, ownerID, account.Address, account.Status, account.CreatedAt.UTC())
	return err
}

// Get fetches account metadata by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, fmt.Errorf("parse account id: %w", err)
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, address, status, created_at
        FROM custodial_accounts WHERE id = $1`, accountID)

	var (
		a       Account
		idVal   uuid.UUID
		ownerID uuid.UUID
		created time.Time
	)
	if err := row.Scan(&idVal, &ownerID, &a.Address, &a.Status, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.ID = idVal.String()
	a.OwnerID = ownerID.String()
	a.CreatedAt = created.UTC()
	return a, nil
}
