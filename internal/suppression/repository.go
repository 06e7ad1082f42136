package suppression

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts a suppression; replaying the same (account, email,
	// journey) key is a no-op so webhook retries never produce duplicate
	// rows.
	Create(ctx context.Context, s *Suppression) error
	// IsSuppressed reports whether a non-expired journey-scoped or global
	// suppression exists for the contact.
	IsSuppressed(ctx context.Context, accountID, contactEmail, journeyID string) (bool, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = time.Now()

	var journeyID sql.NullString
	if s.JourneyID != "" {
		journeyID = sql.NullString{String: s.JourneyID, Valid: true}
	}

	query := `
		INSERT INTO suppressions (id, account_id, contact_email, journey_id, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.AccountID, s.ContactEmail, journeyID, string(s.Reason), s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create suppression: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsSuppressed(ctx context.Context, accountID, contactEmail, journeyID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE account_id = $1
			  AND contact_email = $2
			  AND (journey_id IS NULL OR journey_id = $3)
			  AND (expires_at IS NULL OR expires_at > now())
		)
	`

	var suppressed bool
	if err := r.db.QueryRowContext(ctx, query, accountID, contactEmail, journeyID).Scan(&suppressed); err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return suppressed, nil
}
