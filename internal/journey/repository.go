package journey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "drip/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, j *Journey) error
	GetByID(ctx context.Context, accountID, id string) (*Journey, error)
	List(ctx context.Context, accountID string) ([]Journey, error)
	// Update persists the mutable fields and bumps version atomically.
	Update(ctx context.Context, j *Journey) error
	IncrementStat(ctx context.Context, id, stat string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, j *Journey) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now
	j.Version = 1
	j.IsActive = true

	stages, err := json.Marshal(j.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}
	stats, err := json.Marshal(j.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		INSERT INTO journeys (id, account_id, name, goal, audience, stages, version, is_active, default_reply_to, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		j.ID, j.AccountID, j.Name, j.Goal, j.Audience,
		stages, j.Version, j.IsActive, j.DefaultReplyTo, stats,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err)
		}
		return fmt.Errorf("failed to create journey: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, accountID, id string) (*Journey, error) {
	query := `
		SELECT id, account_id, name, goal, audience, stages, version, is_active, default_reply_to, stats, created_at, updated_at
		FROM journeys
		WHERE id = $1 AND account_id = $2
	`

	return r.scanJourney(r.db.QueryRowContext(ctx, query, id, accountID))
}

func (r *PostgresRepository) List(ctx context.Context, accountID string) ([]Journey, error) {
	query := `
		SELECT id, account_id, name, goal, audience, stages, version, is_active, default_reply_to, stats, created_at, updated_at
		FROM journeys
		WHERE account_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}
	defer rows.Close()

	var journeys []Journey
	for rows.Next() {
		var j Journey
		var stages, stats []byte
		if err := rows.Scan(
			&j.ID, &j.AccountID, &j.Name, &j.Goal, &j.Audience,
			&stages, &j.Version, &j.IsActive, &j.DefaultReplyTo, &stats,
			&j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}
		if err := json.Unmarshal(stages, &j.Stages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stages for journey %s: %w", j.ID, err)
		}
		if err := json.Unmarshal(stats, &j.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats for journey %s: %w", j.ID, err)
		}
		journeys = append(journeys, j)
	}

	return journeys, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, j *Journey) error {
	j.UpdatedAt = time.Now()

	stages, err := json.Marshal(j.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}

	query := `
		UPDATE journeys
		SET name = $1, stages = $2, is_active = $3, default_reply_to = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND account_id = $7
		RETURNING version
	`

	err = r.db.QueryRowContext(ctx, query,
		j.Name, stages, j.IsActive, j.DefaultReplyTo, j.UpdatedAt,
		j.ID, j.AccountID,
	).Scan(&j.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return pkgerrors.ErrNotFound.WithDetail("message", "journey not found")
	}
	if err != nil {
		return fmt.Errorf("failed to update journey: %w", err)
	}

	return nil
}

func (r *PostgresRepository) IncrementStat(ctx context.Context, id, stat string) error {
	switch stat {
	case StatEnrolled, StatCompleted, StatConverted, StatBounced, StatComplained:
	default:
		return fmt.Errorf("unknown journey stat %q", stat)
	}

	query := fmt.Sprintf(`
		UPDATE journeys
		SET stats = jsonb_set(stats, '{%s}', (COALESCE(stats->>'%s', '0')::bigint + 1)::text::jsonb)
		WHERE id = $1
	`, stat, stat)

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment journey stat %s: %w", stat, err)
	}
	return nil
}

func (r *PostgresRepository) scanJourney(row *sql.Row) (*Journey, error) {
	var j Journey
	var stages, stats []byte

	err := row.Scan(
		&j.ID, &j.AccountID, &j.Name, &j.Goal, &j.Audience,
		&stages, &j.Version, &j.IsActive, &j.DefaultReplyTo, &stats,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "journey not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journey: %w", err)
	}

	if err := json.Unmarshal(stages, &j.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages for journey %s: %w", j.ID, err)
	}
	if err := json.Unmarshal(stats, &j.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats for journey %s: %w", j.ID, err)
	}

	return &j, nil
}
