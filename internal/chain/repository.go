package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KeyRepository persists sealed key material.
type KeyRepository interface {
	Save(ctx context.Context, record KeyRecord) error
	Get(ctx context.Context, accountID string) (KeyRecord, error)
}

// PostgresKeyRepository stores key records in PostgreSQL.
type PostgresKeyRepository struct {
	db *pgxpool.Pool
}

// NewPostgresKeyRepository builds a repository backed by PostgreSQL.
func NewPostgresKeyRepository(db *pgxpool.Pool) *PostgresKeyRepository {
	return &PostgresKeyRepository{db: db}
}

// Save inserts the sealed key record for an account.
func (r *PostgresKeyRepository) Save(ctx context.Context, record KeyRecord) error {
	accountID, err := uuid.Parse(record.AccountID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO account_keys (account_id, public_key, sealed_private_key, seal_nonce, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		accountID, record.PublicKey, record.SealedKey, record.SealNonce, record.CreatedAt.UTC())
	return err
}

// Get fetches the sealed key record for an account.
func (r *PostgresKeyRepository) Get(ctx context.Context, accountID string) (KeyRecord, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("parse account id: %w", err)
	}
	row := r.db.QueryRow(ctx, `SELECT public_key, sealed_private_key, seal_nonce, created_at
        FROM account_keys WHERE account_id = $1`, id)

	record := KeyRecord{AccountID: accountID}
	if err := row.Scan(&record.PublicKey, &record.SealedKey, &record.SealNonce, &record.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KeyRecord{}, ErrNoKey
		}
		return KeyRecord{}, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}
