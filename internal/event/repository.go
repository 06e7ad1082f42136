package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Append(ctx context.Context, e *Event) error
	// HasConversion backs the scheduler's stop-on-convert check.
	HasConversion(ctx context.Context, enrollmentID string) (bool, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	if e.Metadata == nil {
		metadata = []byte("{}")
	}

	var enrollmentID, journeyID sql.NullString
	if e.EnrollmentID != "" {
		enrollmentID = sql.NullString{String: e.EnrollmentID, Valid: true}
	}
	if e.JourneyID != "" {
		journeyID = sql.NullString{String: e.JourneyID, Valid: true}
	}

	query := `
		INSERT INTO events (id, account_id, enrollment_id, journey_id, contact_email, event_type, stage, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.AccountID, enrollmentID, journeyID, e.ContactEmail,
		string(e.EventType), e.Stage, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasConversion(ctx context.Context, enrollmentID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE enrollment_id = $1 AND event_type = $2
		)
	`

	var converted bool
	if err := r.db.QueryRowContext(ctx, query, enrollmentID, string(TypeConversion)).Scan(&converted); err != nil {
		return false, fmt.Errorf("failed to check conversion: %w", err)
	}
	return converted, nil
}
