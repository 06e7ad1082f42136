package enrollment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drip/internal/event"
	"drip/internal/journey"
	"drip/internal/logger"
	"drip/internal/message"
	"drip/internal/suppression"

	pkgerrors "drip/pkg/errors"
)

type fakeEnrollmentRepo struct {
	byID       map[string]*Enrollment
	byNatural  map[string]*Enrollment
	statuses   map[string]Status
	lastErrors map[string]string
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{
		byID:       make(map[string]*Enrollment),
		byNatural:  make(map[string]*Enrollment),
		statuses:   make(map[string]Status),
		lastErrors: make(map[string]string),
	}
}

func naturalKey(accountID, journeyID, email string) string {
	return accountID + "|" + journeyID + "|" + email
}

func (f *fakeEnrollmentRepo) Create(_ context.Context, e *Enrollment) error {
	key := naturalKey(e.AccountID, e.JourneyID, e.ContactEmail)
	if _, exists := f.byNatural[key]; exists {
		return pkgerrors.ErrConflict
	}
	if e.ID == "" {
		e.ID = "enr-" + key
	}
	copied := *e
	f.byID[e.ID] = &copied
	f.byNatural[key] = &copied
	return nil
}

func (f *fakeEnrollmentRepo) GetByID(_ context.Context, id string) (*Enrollment, error) {
	if e, ok := f.byID[id]; ok {
		out := *e
		return &out, nil
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeEnrollmentRepo) GetByNaturalKey(_ context.Context, accountID, journeyID, email string) (*Enrollment, error) {
	if e, ok := f.byNatural[naturalKey(accountID, journeyID, email)]; ok {
		out := *e
		return &out, nil
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeEnrollmentRepo) FindDue(_ context.Context, _ int64, _ int) ([]Enrollment, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) MarkStatus(_ context.Context, id string, status Status, lastError string) error {
	e, ok := f.byID[id]
	if !ok || e.Status != StatusActive {
		return nil
	}
	e.Status = status
	e.LastError = lastError
	f.statuses[id] = status
	f.lastErrors[id] = lastError
	return nil
}

func (f *fakeEnrollmentRepo) Reschedule(_ context.Context, id string, nextRunAt int64) error {
	if e, ok := f.byID[id]; ok && e.Status == StatusActive {
		e.NextRunAt = nextRunAt
	}
	return nil
}

func (f *fakeEnrollmentRepo) RecordSendAndAdvance(_ context.Context, msg *message.Message, newStatus Status, nextRunAt int64) error {
	if e, ok := f.byID[msg.EnrollmentID]; ok && e.Status == StatusActive && e.CurrentStage == msg.Stage {
		e.CurrentStage++
		e.Status = newStatus
		e.NextRunAt = nextRunAt
	}
	return nil
}

func (f *fakeEnrollmentRepo) SuppressActiveForContact(_ context.Context, accountID, email, journeyID, excludeID string) (int64, error) {
	var n int64
	for _, e := range f.byID {
		if e.AccountID != accountID || e.ContactEmail != email || e.Status != StatusActive {
			continue
		}
		if journeyID != "" && e.JourneyID != journeyID {
			continue
		}
		if excludeID != "" && e.ID == excludeID {
			continue
		}
		e.Status = StatusSuppressed
		n++
	}
	return n, nil
}

type fakeJourneyRepo struct {
	journeys map[string]*journey.Journey
	stats    map[string]map[string]int
}

func newFakeJourneyRepo(js ...*journey.Journey) *fakeJourneyRepo {
	f := &fakeJourneyRepo{
		journeys: make(map[string]*journey.Journey),
		stats:    make(map[string]map[string]int),
	}
	for _, j := range js {
		f.journeys[j.ID] = j
	}
	return f
}

func (f *fakeJourneyRepo) Create(_ context.Context, j *journey.Journey) error {
	f.journeys[j.ID] = j
	return nil
}

func (f *fakeJourneyRepo) GetByID(_ context.Context, accountID, id string) (*journey.Journey, error) {
	if j, ok := f.journeys[id]; ok && j.AccountID == accountID {
		return j, nil
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeJourneyRepo) List(_ context.Context, _ string) ([]journey.Journey, error) {
	return nil, nil
}

func (f *fakeJourneyRepo) Update(_ context.Context, j *journey.Journey) error {
	f.journeys[j.ID] = j
	return nil
}

func (f *fakeJourneyRepo) IncrementStat(_ context.Context, id, stat string) error {
	if f.stats[id] == nil {
		f.stats[id] = make(map[string]int)
	}
	f.stats[id][stat]++
	return nil
}

type fakeSuppressionRepo struct {
	created    []suppression.Suppression
	suppressed map[string]bool
}

func newFakeSuppressionRepo() *fakeSuppressionRepo {
	return &fakeSuppressionRepo{suppressed: make(map[string]bool)}
}

func (f *fakeSuppressionRepo) Create(_ context.Context, s *suppression.Suppression) error {
	f.created = append(f.created, *s)
	f.suppressed[s.ContactEmail] = true
	return nil
}

func (f *fakeSuppressionRepo) IsSuppressed(_ context.Context, _, email, _ string) (bool, error) {
	return f.suppressed[email], nil
}

type fakeEventRepo struct {
	events      []event.Event
	conversions map[string]bool
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{conversions: make(map[string]bool)}
}

func (f *fakeEventRepo) Append(_ context.Context, e *event.Event) error {
	f.events = append(f.events, *e)
	if e.EventType == event.TypeConversion {
		f.conversions[e.EnrollmentID] = true
	}
	return nil
}

func (f *fakeEventRepo) HasConversion(_ context.Context, enrollmentID string) (bool, error) {
	return f.conversions[enrollmentID], nil
}

type fakeIdemCache struct {
	entries map[string]string
}

func newFakeIdemCache() *fakeIdemCache {
	return &fakeIdemCache{entries: make(map[string]string)}
}

func (f *fakeIdemCache) Lookup(_ context.Context, accountID, key string) (string, bool, error) {
	id, ok := f.entries[accountID+":"+key]
	return id, ok, nil
}

func (f *fakeIdemCache) Store(_ context.Context, accountID, key, enrollmentID string) error {
	f.entries[accountID+":"+key] = enrollmentID
	return nil
}

const (
	testAccountID = "acct-1"
	testJourneyID = "jrn-1"
)

func testJourney() *journey.Journey {
	return &journey.Journey{
		ID:        testJourneyID,
		AccountID: testAccountID,
		Name:      "Onboarding",
		Version:   3,
		IsActive:  true,
		Stages: []journey.Stage{
			{Day: 0, Subject: "Welcome", Body: "hi {{unsubscribe_url}}"},
			{Day: 3, Subject: "Tips", Body: "more {{unsubscribe_url}}"},
		},
	}
}

func newTestService(t *testing.T) (*Service, *fakeEnrollmentRepo, *fakeJourneyRepo, *fakeSuppressionRepo, *fakeEventRepo, *fakeIdemCache) {
	t.Helper()
	enrRepo := newFakeEnrollmentRepo()
	jrnRepo := newFakeJourneyRepo(testJourney())
	supRepo := newFakeSuppressionRepo()
	evtRepo := newFakeEventRepo()
	cache := newFakeIdemCache()
	svc := NewService(enrRepo, jrnRepo, supRepo, evtRepo, cache, logger.NopLogger())
	return svc, enrRepo, jrnRepo, supRepo, evtRepo, cache
}

func TestCreateEnrollment(t *testing.T) {
	svc, _, jrnRepo, _, _, _ := newTestService(t)

	result, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "ada@lovelace.dev",
		ContactData:  map[string]interface{}{"first_name": "Ada"},
	}, "")
	require.NoError(t, err)

	assert.False(t, result.Existing)
	assert.Equal(t, StatusActive, result.Enrollment.Status)
	assert.Equal(t, 0, result.Enrollment.CurrentStage)
	assert.Equal(t, 3, result.Enrollment.JourneyVersion)
	assert.Len(t, result.Enrollment.StagesSnapshot, 2)
	assert.NotZero(t, result.Enrollment.NextRunAt)
	assert.Equal(t, 1, jrnRepo.stats[testJourneyID][journey.StatEnrolled])
}

func TestCreateEnrollmentIdempotencyKey(t *testing.T) {
	svc, _, jrnRepo, _, _, _ := newTestService(t)

	req := &CreateEnrollmentRequest{JourneyID: testJourneyID, ContactEmail: "ada@lovelace.dev"}

	first, err := svc.Create(context.Background(), testAccountID, req, "key-123")
	require.NoError(t, err)
	require.False(t, first.Existing)

	second, err := svc.Create(context.Background(), testAccountID, req, "key-123")
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Enrollment.ID, second.Enrollment.ID)

	// The replay must not double count.
	assert.Equal(t, 1, jrnRepo.stats[testJourneyID][journey.StatEnrolled])
}

func TestCreateEnrollmentNaturalKeyDedupe(t *testing.T) {
	svc, _, jrnRepo, _, _, _ := newTestService(t)

	req := &CreateEnrollmentRequest{JourneyID: testJourneyID, ContactEmail: "ada@lovelace.dev"}

	first, err := svc.Create(context.Background(), testAccountID, req, "key-a")
	require.NoError(t, err)

	// Different idempotency key, same contact and journey.
	second, err := svc.Create(context.Background(), testAccountID, req, "key-b")
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Enrollment.ID, second.Enrollment.ID)
	assert.Equal(t, 1, jrnRepo.stats[testJourneyID][journey.StatEnrolled])
}

func TestCreateEnrollmentSuppressedContact(t *testing.T) {
	svc, _, _, supRepo, _, _ := newTestService(t)
	supRepo.suppressed["bounced@lovelace.dev"] = true

	_, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "bounced@lovelace.dev",
	}, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrContactSuppressed.Code))
}

func TestCreateEnrollmentInvalidEmail(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "ada@example.com",
	}, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrInvalidEmail.Code))
}

func TestCreateEnrollmentUnknownJourney(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    "jrn-missing",
		ContactEmail: "ada@lovelace.dev",
	}, "")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestCreateEnrollmentReplyToFallback(t *testing.T) {
	svc, _, jrnRepo, _, _, _ := newTestService(t)
	jrnRepo.journeys[testJourneyID].DefaultReplyTo = "founders@drip.dev"

	result, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "ada@lovelace.dev",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "founders@drip.dev", result.Enrollment.ReplyTo)

	result2, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "grace@hopper.dev",
		ReplyTo:      "support@drip.dev",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "support@drip.dev", result2.Enrollment.ReplyTo)
}

func TestUnsubscribe(t *testing.T) {
	svc, enrRepo, _, supRepo, evtRepo, _ := newTestService(t)

	result, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "ada@lovelace.dev",
	}, "")
	require.NoError(t, err)
	id := result.Enrollment.ID

	require.NoError(t, svc.Unsubscribe(context.Background(), id))

	stored, err := enrRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, stored.Status)

	require.Len(t, supRepo.created, 1)
	assert.Equal(t, suppression.ReasonUnsubscribe, supRepo.created[0].Reason)
	assert.Equal(t, testJourneyID, supRepo.created[0].JourneyID)

	require.Len(t, evtRepo.events, 1)
	assert.Equal(t, event.TypeUnsubscribe, evtRepo.events[0].EventType)

	// Repeat calls stay safe and do not flip the terminal status.
	require.NoError(t, svc.Unsubscribe(context.Background(), id))
	stored, err = enrRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, stored.Status)
}

func TestRecordEvent(t *testing.T) {
	svc, _, jrnRepo, _, evtRepo, _ := newTestService(t)

	result, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "ada@lovelace.dev",
	}, "")
	require.NoError(t, err)

	ev, err := svc.RecordEvent(context.Background(), testAccountID, &event.RecordEventRequest{
		EnrollmentID: result.Enrollment.ID,
		EventType:    event.TypeConversion,
		Metadata:     map[string]interface{}{"plan": "pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, event.TypeConversion, ev.EventType)
	assert.Equal(t, "ada@lovelace.dev", ev.ContactEmail)

	converted, err := evtRepo.HasConversion(context.Background(), result.Enrollment.ID)
	require.NoError(t, err)
	assert.True(t, converted)
	assert.Equal(t, 1, jrnRepo.stats[testJourneyID][journey.StatConverted])
}

func TestRecordEventInvalidType(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)

	_, err := svc.RecordEvent(context.Background(), testAccountID, &event.RecordEventRequest{
		EnrollmentID: "enr-x",
		EventType:    event.Type("bogus"),
	})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestGetEnforcesAccountScope(t *testing.T) {
	svc, _, _, _, _, _ := newTestService(t)

	result, err := svc.Create(context.Background(), testAccountID, &CreateEnrollmentRequest{
		JourneyID:    testJourneyID,
		ContactEmail: "ada@lovelace.dev",
	}, "")
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "acct-other", result.Enrollment.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}
