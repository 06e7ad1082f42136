package enrollment

import (
	"context"
	"errors"
	"time"

	"drip/internal/event"
	"drip/internal/journey"
	"drip/internal/logger"
	"drip/internal/suppression"
	"drip/pkg/logging"
	"drip/pkg/metrics"

	pkgerrors "drip/pkg/errors"
)

// Service owns enrollment lifecycle outside the scheduler: idempotent
// creation, lookup and unsubscribe.
type Service struct {
	repo         Repository
	journeys     journey.Repository
	suppressions suppression.Repository
	events       event.Repository
	idemCache    IdempotencyCache
	log          logger.Logger
}

func NewService(
	repo Repository,
	journeys journey.Repository,
	suppressions suppression.Repository,
	events event.Repository,
	idemCache IdempotencyCache,
	log logger.Logger,
) *Service {
	return &Service{
		repo:         repo,
		journeys:     journeys,
		suppressions: suppressions,
		events:       events,
		idemCache:    idemCache,
		log:          log,
	}
}

// Create enrolls a contact into a journey. The same idempotency key, or the
// same (journey, contact) pair, always resolves to the first enrollment
// created; Existing tells the caller which case they hit.
func (s *Service) Create(ctx context.Context, accountID string, req *CreateEnrollmentRequest, idemKey string) (*CreateEnrollmentResult, error) {
	ctx = logging.WithAccountID(ctx, accountID)

	if err := ValidateEmail(req.ContactEmail); err != nil {
		metrics.EnrollmentsCreatedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if idemKey != "" {
		id, found, err := s.idemCache.Lookup(ctx, accountID, idemKey)
		if err != nil {
			// Cache trouble must not block enrollment; the natural key
			// still guarantees uniqueness.
			s.log.WarnwCtx(ctx, "idempotency cache lookup failed", "error", err)
		} else if found {
			existing, err := s.repo.GetByID(ctx, id)
			if err == nil {
				metrics.EnrollmentsCreatedTotal.WithLabelValues("idempotent_replay").Inc()
				return &CreateEnrollmentResult{Enrollment: existing, Existing: true}, nil
			}
			s.log.WarnwCtx(ctx, "idempotency cache pointed at missing enrollment",
				"enrollment_id", id, "error", err)
		}
	}

	j, err := s.journeys.GetByID(ctx, accountID, req.JourneyID)
	if err != nil {
		return nil, err
	}

	suppressed, err := s.suppressions.IsSuppressed(ctx, accountID, req.ContactEmail, req.JourneyID)
	if err != nil {
		return nil, err
	}
	if suppressed {
		metrics.EnrollmentsCreatedTotal.WithLabelValues("suppressed").Inc()
		return nil, pkgerrors.ErrContactSuppressed.WithDetail("contact_email", req.ContactEmail)
	}

	if existing, err := s.repo.GetByNaturalKey(ctx, accountID, req.JourneyID, req.ContactEmail); err == nil {
		s.rememberKey(ctx, accountID, idemKey, existing.ID)
		metrics.EnrollmentsCreatedTotal.WithLabelValues("existing").Inc()
		return &CreateEnrollmentResult{Enrollment: existing, Existing: true}, nil
	} else if !pkgerrors.IsNotFound(err) {
		return nil, err
	}

	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = j.DefaultReplyTo
	}

	e := &Enrollment{
		AccountID:      accountID,
		JourneyID:      j.ID,
		JourneyVersion: j.Version,
		StagesSnapshot: j.Stages,
		ContactEmail:   req.ContactEmail,
		ContactData:    req.ContactData,
		Status:         StatusActive,
		CurrentStage:   0,
		NextRunAt:      time.Now().UnixMilli(),
		TestMode:       req.TestMode,
		ReplyTo:        replyTo,
		Tags:           req.Tags,
		CustomHeaders:  req.CustomHeaders,
	}

	if err := s.repo.Create(ctx, e); err != nil {
		// Lost a race on the natural key; the winner is our answer.
		var appErr *pkgerrors.Error
		if errors.As(err, &appErr) && appErr.Code == pkgerrors.ErrConflict.Code {
			existing, gerr := s.repo.GetByNaturalKey(ctx, accountID, req.JourneyID, req.ContactEmail)
			if gerr != nil {
				return nil, gerr
			}
			s.rememberKey(ctx, accountID, idemKey, existing.ID)
			metrics.EnrollmentsCreatedTotal.WithLabelValues("existing").Inc()
			return &CreateEnrollmentResult{Enrollment: existing, Existing: true}, nil
		}
		return nil, err
	}

	s.rememberKey(ctx, accountID, idemKey, e.ID)

	if err := s.journeys.IncrementStat(ctx, j.ID, journey.StatEnrolled); err != nil {
		s.log.WarnwCtx(ctx, "failed to bump journey enrolled stat",
			"journey_id", j.ID, "error", err)
	}

	metrics.EnrollmentsCreatedTotal.WithLabelValues("created").Inc()
	s.log.InfowCtx(ctx, "enrollment created",
		"enrollment_id", e.ID,
		"journey_id", j.ID,
		"test_mode", e.TestMode)

	return &CreateEnrollmentResult{Enrollment: e, Existing: false}, nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (*Enrollment, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.AccountID != accountID {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "enrollment not found")
	}
	return e, nil
}

// Unsubscribe removes the contact from the enrollment's journey and
// records a journey-scoped suppression so re-enrollment is blocked. It is
// safe to call repeatedly.
func (s *Service) Unsubscribe(ctx context.Context, enrollmentID string) error {
	e, err := s.repo.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}
	ctx = logging.WithEnrollmentID(logging.WithAccountID(ctx, e.AccountID), e.ID)

	if e.Status == StatusActive {
		if err := s.repo.MarkStatus(ctx, e.ID, StatusRemoved, ""); err != nil {
			return err
		}
		metrics.EnrollmentTransitionsTotal.WithLabelValues(string(StatusRemoved)).Inc()
	}

	err = s.suppressions.Create(ctx, &suppression.Suppression{
		AccountID:    e.AccountID,
		ContactEmail: e.ContactEmail,
		JourneyID:    e.JourneyID,
		Reason:       suppression.ReasonUnsubscribe,
	})
	if err != nil {
		return err
	}
	metrics.SuppressionsCreatedTotal.WithLabelValues(string(suppression.ReasonUnsubscribe), "journey").Inc()

	stage := e.CurrentStage
	err = s.events.Append(ctx, &event.Event{
		AccountID:    e.AccountID,
		EnrollmentID: e.ID,
		JourneyID:    e.JourneyID,
		ContactEmail: e.ContactEmail,
		EventType:    event.TypeUnsubscribe,
		Stage:        &stage,
	})
	if err != nil {
		s.log.WarnwCtx(ctx, "failed to record unsubscribe event", "error", err)
	}

	s.log.InfowCtx(ctx, "contact unsubscribed", "journey_id", e.JourneyID)
	return nil
}

// RecordEvent appends a contact event. Conversions are picked up by the
// scheduler on the enrollment's next due run.
func (s *Service) RecordEvent(ctx context.Context, accountID string, req *event.RecordEventRequest) (*event.Event, error) {
	if !req.EventType.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("event_type", string(req.EventType))
	}

	e, err := s.Get(ctx, accountID, req.EnrollmentID)
	if err != nil {
		return nil, err
	}

	stage := e.CurrentStage
	ev := &event.Event{
		AccountID:    accountID,
		EnrollmentID: e.ID,
		JourneyID:    e.JourneyID,
		ContactEmail: e.ContactEmail,
		EventType:    req.EventType,
		Stage:        &stage,
		Metadata:     req.Metadata,
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return nil, err
	}

	if req.EventType == event.TypeConversion {
		if err := s.journeys.IncrementStat(ctx, e.JourneyID, journey.StatConverted); err != nil {
			s.log.WarnwCtx(ctx, "failed to bump journey converted stat",
				"journey_id", e.JourneyID, "error", err)
		}
	}

	return ev, nil
}

func (s *Service) rememberKey(ctx context.Context, accountID, idemKey, enrollmentID string) {
	if idemKey == "" {
		return
	}
	if err := s.idemCache.Store(ctx, accountID, idemKey, enrollmentID); err != nil {
		s.log.WarnwCtx(ctx, "failed to store idempotency key", "error", err)
	}
}
