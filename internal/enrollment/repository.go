package enrollment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"drip/internal/message"
	pkgerrors "drip/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, e *Enrollment) error
	GetByID(ctx context.Context, id string) (*Enrollment, error)
	GetByNaturalKey(ctx context.Context, accountID, journeyID, contactEmail string) (*Enrollment, error)
	// FindDue returns active enrollments whose next_run_at has passed,
	// oldest first, capped at limit.
	FindDue(ctx context.Context, nowMillis int64, limit int) ([]Enrollment, error)
	// MarkStatus moves an active enrollment to a terminal status. Rows
	// already in a terminal status are left untouched.
	MarkStatus(ctx context.Context, id string, status Status, lastError string) error
	// Reschedule pushes next_run_at without changing status.
	Reschedule(ctx context.Context, id string, nextRunAt int64) error
	// RecordSendAndAdvance inserts the message row and advances the
	// enrollment in one transaction so a send is never recorded without
	// its state advance. The advance only applies while the row still
	// points at msg.Stage, so a run holding a stale snapshot cannot push
	// the enrollment past a stage it never evaluated.
	RecordSendAndAdvance(ctx context.Context, msg *message.Message, newStatus Status, nextRunAt int64) error
	// SuppressActiveForContact flips every active enrollment for the
	// contact to suppressed. Empty journeyID means all journeys;
	// excludeID skips the enrollment that triggered the cascade.
	SuppressActiveForContact(ctx context.Context, accountID, contactEmail, journeyID, excludeID string) (int64, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const enrollmentColumns = `id, account_id, journey_id, journey_version, stages_snapshot, contact_email,
	contact_data, status, current_stage, next_run_at, enrolled_at, test_mode,
	retry_count, last_error, reply_to, tags, custom_headers`

func (r *PostgresRepository) Create(ctx context.Context, e *Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.EnrolledAt = time.Now()

	snapshot, err := json.Marshal(e.StagesSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal stages snapshot: %w", err)
	}
	contactData, err := marshalMap(e.ContactData)
	if err != nil {
		return fmt.Errorf("failed to marshal contact data: %w", err)
	}
	tags, err := marshalStringMap(e.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	headers, err := marshalStringMap(e.CustomHeaders)
	if err != nil {
		return fmt.Errorf("failed to marshal custom headers: %w", err)
	}

	query := `
		INSERT INTO enrollments (id, account_id, journey_id, journey_version, stages_snapshot,
			contact_email, contact_data, status, current_stage, next_run_at, enrolled_at,
			test_mode, retry_count, last_error, reply_to, tags, custom_headers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.AccountID, e.JourneyID, e.JourneyVersion, snapshot,
		e.ContactEmail, contactData, string(e.Status), e.CurrentStage, e.NextRunAt, e.EnrolledAt,
		e.TestMode, e.RetryCount, e.LastError, e.ReplyTo, tags, headers,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return pkgerrors.ErrConflict.WithCause(err)
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	return scanEnrollment(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByNaturalKey(ctx context.Context, accountID, journeyID, contactEmail string) (*Enrollment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM enrollments
		WHERE account_id = $1 AND journey_id = $2 AND contact_email = $3
	`, enrollmentColumns)
	return scanEnrollment(r.db.QueryRowContext(ctx, query, accountID, journeyID, contactEmail))
}

func (r *PostgresRepository) FindDue(ctx context.Context, nowMillis int64, limit int) ([]Enrollment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM enrollments
		WHERE status = $1 AND next_run_at <= $2
		ORDER BY next_run_at ASC
		LIMIT $3
	`, enrollmentColumns)

	rows, err := r.db.QueryContext(ctx, query, string(StatusActive), nowMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []Enrollment
	for rows.Next() {
		e, err := scanEnrollmentRows(rows)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *e)
	}

	return enrollments, rows.Err()
}

func (r *PostgresRepository) MarkStatus(ctx context.Context, id string, status Status, lastError string) error {
	query := `
		UPDATE enrollments
		SET status = $1,
		    last_error = CASE WHEN $2 <> '' THEN $2 ELSE last_error END
		WHERE id = $3 AND status = $4
	`

	if _, err := r.db.ExecContext(ctx, query, string(status), lastError, id, string(StatusActive)); err != nil {
		return fmt.Errorf("failed to mark enrollment %s: %w", status, err)
	}
	return nil
}

func (r *PostgresRepository) Reschedule(ctx context.Context, id string, nextRunAt int64) error {
	query := `UPDATE enrollments SET next_run_at = $1 WHERE id = $2 AND status = $3`

	if _, err := r.db.ExecContext(ctx, query, nextRunAt, id, string(StatusActive)); err != nil {
		return fmt.Errorf("failed to reschedule enrollment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordSendAndAdvance(ctx context.Context, msg *message.Message, newStatus Status, nextRunAt int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now()
	msg.SentAt = now
	msg.CreatedAt = now

	insertMsg := `
		INSERT INTO messages (id, account_id, enrollment_id, journey_id, stage, subject, body,
			status, delivery_status, provider_message_id, bounce_type, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, insertMsg,
		msg.ID, msg.AccountID, msg.EnrollmentID, msg.JourneyID, msg.Stage,
		msg.Subject, msg.Body, string(msg.Status), string(msg.DeliveryStatus),
		msg.ProviderMessageID, string(msg.BounceType), msg.SentAt, msg.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// A prior run already recorded this stage.
			return pkgerrors.ErrConflict.WithCause(err)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	advance := `
		UPDATE enrollments
		SET status = $1, current_stage = current_stage + 1, next_run_at = $2
		WHERE id = $3 AND status = $4 AND current_stage = $5
	`

	res, err := tx.ExecContext(ctx, advance, string(newStatus), nextRunAt, msg.EnrollmentID, string(StatusActive), msg.Stage)
	if err != nil {
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("enrollment %s no longer active at stage %d", msg.EnrollmentID, msg.Stage)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit send record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SuppressActiveForContact(ctx context.Context, accountID, contactEmail, journeyID, excludeID string) (int64, error) {
	query := `
		UPDATE enrollments
		SET status = $1
		WHERE account_id = $2
		  AND contact_email = $3
		  AND status = $4
		  AND ($5 = '' OR journey_id = $5::uuid)
		  AND ($6 = '' OR id <> $6::uuid)
	`

	res, err := r.db.ExecContext(ctx, query,
		string(StatusSuppressed), accountID, contactEmail, string(StatusActive), journeyID, excludeID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to suppress enrollments: %w", err)
	}
	return res.RowsAffected()
}

func marshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnrollment(row *sql.Row) (*Enrollment, error) {
	e, err := scanFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "enrollment not found")
	}
	return e, err
}

func scanEnrollmentRows(rows *sql.Rows) (*Enrollment, error) {
	return scanFrom(rows)
}

func scanFrom(s rowScanner) (*Enrollment, error) {
	var e Enrollment
	var snapshot, contactData, tags, headers []byte

	err := s.Scan(
		&e.ID, &e.AccountID, &e.JourneyID, &e.JourneyVersion, &snapshot, &e.ContactEmail,
		&contactData, &e.Status, &e.CurrentStage, &e.NextRunAt, &e.EnrolledAt, &e.TestMode,
		&e.RetryCount, &e.LastError, &e.ReplyTo, &tags, &headers,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	// A missing snapshot is handled by the scheduler, not here: the row
	// must still load so it can be marked failed.
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &e.StagesSnapshot); err != nil {
			e.StagesSnapshot = nil
		}
	}
	if len(contactData) > 0 {
		if err := json.Unmarshal(contactData, &e.ContactData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contact data: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &e.CustomHeaders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom headers: %w", err)
		}
	}

	return &e, nil
}
