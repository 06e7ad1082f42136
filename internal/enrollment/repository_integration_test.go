//go:build integration

package enrollment

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"

	"drip/internal/journey"
	"drip/internal/message"
	"drip/pkg/bootstrap"

	pkgerrors "drip/pkg/errors"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase("test_db"),
		postgresmodule.WithUsername("test_user"),
		postgresmodule.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	conn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, bootstrap.RunMigrations(db))
	return db
}

func seedAccountAndJourney(t *testing.T, db *sql.DB) (string, string) {
	t.Helper()
	accountID := uuid.New().String()
	journeyID := uuid.New().String()

	_, err := db.Exec(
		`INSERT INTO accounts (id, name, api_key) VALUES ($1, 'Test Co', $2)`,
		accountID, uuid.New().String())
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO journeys (id, account_id, name, stages) VALUES ($1, $2, 'Onboarding',
			'[{"day":0,"subject":"Hi","body":"{{unsubscribe_url}}"},{"day":3,"subject":"More","body":"{{unsubscribe_url}}"}]')`,
		journeyID, accountID)
	require.NoError(t, err)

	return accountID, journeyID
}

func testEnrollment(accountID, journeyID, email string) *Enrollment {
	return &Enrollment{
		AccountID:      accountID,
		JourneyID:      journeyID,
		JourneyVersion: 1,
		StagesSnapshot: []journey.Stage{
			{Day: 0, Subject: "Hi", Body: "{{unsubscribe_url}}"},
			{Day: 3, Subject: "More", Body: "{{unsubscribe_url}}"},
		},
		ContactEmail: email,
		Status:       StatusActive,
		NextRunAt:    time.Now().UnixMilli(),
	}
}

func TestRepositoryNaturalKeyConflict(t *testing.T) {
	db := setupPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID, journeyID := seedAccountAndJourney(t, db)

	e := testEnrollment(accountID, journeyID, "ada@lovelace.dev")
	require.NoError(t, repo.Create(ctx, e))

	dup := testEnrollment(accountID, journeyID, "ada@lovelace.dev")
	err := repo.Create(ctx, dup)
	assert.True(t, pkgerrors.IsConflict(err))

	found, err := repo.GetByNaturalKey(ctx, accountID, journeyID, "ada@lovelace.dev")
	require.NoError(t, err)
	assert.Equal(t, e.ID, found.ID)
	assert.Len(t, found.StagesSnapshot, 2)
}

func TestRepositoryFindDueOrdering(t *testing.T) {
	db := setupPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID, journeyID := seedAccountAndJourney(t, db)
	now := time.Now().UnixMilli()

	later := testEnrollment(accountID, journeyID, "later@lovelace.dev")
	later.NextRunAt = now - 1000
	require.NoError(t, repo.Create(ctx, later))

	earlier := testEnrollment(accountID, journeyID, "earlier@lovelace.dev")
	earlier.NextRunAt = now - 5000
	require.NoError(t, repo.Create(ctx, earlier))

	future := testEnrollment(accountID, journeyID, "future@lovelace.dev")
	future.NextRunAt = now + 60_000
	require.NoError(t, repo.Create(ctx, future))

	due, err := repo.FindDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "earlier@lovelace.dev", due[0].ContactEmail)
	assert.Equal(t, "later@lovelace.dev", due[1].ContactEmail)
}

func TestRepositoryTerminalStatusIsFinal(t *testing.T) {
	db := setupPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID, journeyID := seedAccountAndJourney(t, db)

	e := testEnrollment(accountID, journeyID, "ada@lovelace.dev")
	require.NoError(t, repo.Create(ctx, e))

	require.NoError(t, repo.MarkStatus(ctx, e.ID, StatusConverted, ""))

	// A later transition attempt must not overwrite the terminal state.
	require.NoError(t, repo.MarkStatus(ctx, e.ID, StatusFailed, "should not land"))

	stored, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConverted, stored.Status)
	assert.Empty(t, stored.LastError)
}

func TestRepositoryRecordSendAndAdvance(t *testing.T) {
	db := setupPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID, journeyID := seedAccountAndJourney(t, db)

	e := testEnrollment(accountID, journeyID, "ada@lovelace.dev")
	require.NoError(t, repo.Create(ctx, e))

	nextRun := time.Now().Add(72 * time.Hour).UnixMilli()
	msg := &message.Message{
		AccountID:         accountID,
		EnrollmentID:      e.ID,
		JourneyID:         journeyID,
		Stage:             0,
		Subject:           "Hi",
		Body:              "body",
		Status:            message.StatusSent,
		DeliveryStatus:    message.DeliverySent,
		ProviderMessageID: "prov-1",
	}
	require.NoError(t, repo.RecordSendAndAdvance(ctx, msg, StatusActive, nextRun))

	stored, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStage)
	assert.Equal(t, nextRun, stored.NextRunAt)

	// Same stage again: the unique message constraint blocks a double
	// send and the enrollment stays where it was.
	again := *msg
	again.ID = ""
	err = repo.RecordSendAndAdvance(ctx, &again, StatusActive, nextRun)
	assert.True(t, pkgerrors.IsConflict(err))

	stored, err = repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStage)

	// A writer holding a stale row cannot advance past a stage the
	// enrollment no longer points at.
	stale := *msg
	stale.ID = ""
	stale.Stage = 3
	stale.ProviderMessageID = "prov-stale"
	err = repo.RecordSendAndAdvance(ctx, &stale, StatusActive, nextRun)
	require.Error(t, err)
	assert.False(t, pkgerrors.IsConflict(err))

	stored, err = repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStage)
}

func TestRepositorySuppressActiveForContact(t *testing.T) {
	db := setupPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID, journeyID := seedAccountAndJourney(t, db)

	otherJourneyID := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO journeys (id, account_id, name, stages) VALUES ($1, $2, 'Other',
			'[{"day":0,"subject":"x","body":"{{unsubscribe_url}}"}]')`,
		otherJourneyID, accountID)
	require.NoError(t, err)

	inJourney := testEnrollment(accountID, journeyID, "ada@lovelace.dev")
	require.NoError(t, repo.Create(ctx, inJourney))
	inOther := testEnrollment(accountID, otherJourneyID, "ada@lovelace.dev")
	require.NoError(t, repo.Create(ctx, inOther))

	// Journey-scoped: only the matching journey stops.
	n, err := repo.SuppressActiveForContact(ctx, accountID, "ada@lovelace.dev", journeyID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := repo.GetByID(ctx, inOther.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)

	// Global: everything else stops too.
	n, err = repo.SuppressActiveForContact(ctx, accountID, "ada@lovelace.dev", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err = repo.GetByID(ctx, inOther.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuppressed, stored.Status)
}
