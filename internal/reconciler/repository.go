package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// InsertDeduped persists the event and reports whether it was new.
	// A replayed provider event id leaves the table untouched and
	// returns false.
	InsertDeduped(ctx context.Context, e *WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	// ListUnprocessed returns stuck events oldest first for the sweeper.
	ListUnprocessed(ctx context.Context, limit int) ([]WebhookEvent, error)
	CountUnprocessed(ctx context.Context) (int64, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertDeduped(ctx context.Context, e *WebhookEvent) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()

	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO webhook_events (id, account_id, provider_event_id, event_type, contact_email,
			provider_message_id, enrollment_id, payload, processed, retry_count, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, 0, '', $9)
		ON CONFLICT (provider_event_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.AccountID, e.ProviderEventID, e.EventType, e.ContactEmail,
		e.ProviderMessageID, e.EnrollmentID, payload, e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *PostgresRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `UPDATE webhook_events SET processed = TRUE, processed_at = now(), last_error = '' WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `UPDATE webhook_events SET retry_count = retry_count + 1, last_error = $1 WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, lastError, id); err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListUnprocessed(ctx context.Context, limit int) ([]WebhookEvent, error) {
	query := `
		SELECT id, account_id, provider_event_id, event_type, contact_email,
			provider_message_id, enrollment_id, payload, processed, processed_at,
			retry_count, last_error, created_at
		FROM webhook_events
		WHERE processed = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		err := rows.Scan(
			&e.ID, &e.AccountID, &e.ProviderEventID, &e.EventType, &e.ContactEmail,
			&e.ProviderMessageID, &e.EnrollmentID, &e.Payload, &e.Processed, &e.ProcessedAt,
			&e.RetryCount, &e.LastError, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *PostgresRepository) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_events WHERE processed = FALSE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed webhook events: %w", err)
	}
	return count, nil
}
