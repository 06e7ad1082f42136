package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pkgerrors "drip/pkg/errors"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Account, error)
	StoreProviderKey(ctx context.Context, id, encryptedKey string) error
	SetProviderKeyValid(ctx context.Context, id string, valid bool) error
	AddEmailsSent(ctx context.Context, id string, n int64) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, name, api_key, COALESCE(provider_api_key_encrypted, ''), provider_key_valid, emails_sent, created_at, updated_at`

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)
	return r.scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByAPIKey(ctx context.Context, apiKey string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE api_key = $1`, accountColumns)
	return r.scanAccount(r.db.QueryRowContext(ctx, query, apiKey))
}

func (r *PostgresRepository) StoreProviderKey(ctx context.Context, id, encryptedKey string) error {
	query := `
		UPDATE accounts
		SET provider_api_key_encrypted = $1, provider_key_valid = TRUE, updated_at = now()
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, encryptedKey, id)
	if err != nil {
		return fmt.Errorf("failed to store provider key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", "account not found")
	}
	return nil
}

func (r *PostgresRepository) SetProviderKeyValid(ctx context.Context, id string, valid bool) error {
	query := `UPDATE accounts SET provider_key_valid = $1, updated_at = now() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, valid, id); err != nil {
		return fmt.Errorf("failed to update provider key validity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddEmailsSent(ctx context.Context, id string, n int64) error {
	query := `UPDATE accounts SET emails_sent = emails_sent + $1, updated_at = now() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, n, id); err != nil {
		return fmt.Errorf("failed to update usage counter: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Name, &a.APIKey, &a.ProviderAPIKeyEncrypted,
		&a.ProviderKeyValid, &a.EmailsSent, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}
