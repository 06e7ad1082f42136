package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "drip/pkg/errors"
)

type Repository interface {
	// Exists is the per-stage idempotence backstop checked before every
	// send.
	Exists(ctx context.Context, enrollmentID string, stage int) (bool, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*Message, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status DeliveryStatus, bounceType BounceType, deliveredAt *time.Time) error
	MarkSent(ctx context.Context, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Exists(ctx context.Context, enrollmentID string, stage int) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM messages WHERE enrollment_id = $1 AND stage = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, enrollmentID, stage).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*Message, error) {
	query := `
		SELECT id, account_id, enrollment_id, journey_id, stage, subject, body,
		       status, delivery_status, provider_message_id, bounce_type,
		       sent_at, delivered_at, created_at
		FROM messages
		WHERE provider_message_id = $1
	`

	var m Message
	var deliveredAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, providerMessageID).Scan(
		&m.ID, &m.AccountID, &m.EnrollmentID, &m.JourneyID, &m.Stage,
		&m.Subject, &m.Body, &m.Status, &m.DeliveryStatus,
		&m.ProviderMessageID, &m.BounceType, &m.SentAt, &deliveredAt, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "no message for provider id")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}

	return &m, nil
}

func (r *PostgresRepository) UpdateDeliveryStatus(ctx context.Context, id string, status DeliveryStatus, bounceType BounceType, deliveredAt *time.Time) error {
	query := `
		UPDATE messages
		SET delivery_status = $1,
		    bounce_type = CASE WHEN $2 <> '' THEN $2 ELSE bounce_type END,
		    delivered_at = COALESCE($3, delivered_at)
		WHERE id = $4
	`

	res, err := r.db.ExecContext(ctx, query, string(status), string(bounceType), deliveredAt, id)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", "message not found")
	}
	return nil
}

func (r *PostgresRepository) MarkSent(ctx context.Context, id string) error {
	query := `UPDATE messages SET status = $1, delivery_status = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, string(StatusSent), string(DeliverySent), id); err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}
