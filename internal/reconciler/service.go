package reconciler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"drip/internal/broker"
	"drip/internal/enrollment"
	"drip/internal/event"
	"drip/internal/journey"
	"drip/internal/logger"
	"drip/internal/message"
	"drip/internal/suppression"
	"drip/pkg/logging"
	"drip/pkg/metrics"

	pkgerrors "drip/pkg/errors"
)

// Service reconciles provider delivery events against local state:
// message delivery status, suppressions and engagement events.
type Service struct {
	repo         Repository
	messages     message.Repository
	enrollments  enrollment.Repository
	suppressions suppression.Repository
	events       event.Repository
	journeys     journey.Repository
	producer     broker.Producer
	log          logger.Logger
}

func NewService(
	repo Repository,
	messages message.Repository,
	enrollments enrollment.Repository,
	suppressions suppression.Repository,
	events event.Repository,
	journeys journey.Repository,
	producer broker.Producer,
	log logger.Logger,
) *Service {
	return &Service{
		repo:         repo,
		messages:     messages,
		enrollments:  enrollments,
		suppressions: suppressions,
		events:       events,
		journeys:     journeys,
		producer:     producer,
		log:          log,
	}
}

// Process handles one verified webhook delivery. Unknown messages and
// replayed events are acknowledged without side effects; a side-effect
// failure leaves the persisted event unprocessed for the sweeper.
func (s *Service) Process(ctx context.Context, raw []byte) error {
	start := time.Now()

	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		metrics.ObserveWebhook("malformed", time.Since(start), "rejected")
		return pkgerrors.ErrWebhookProcessing.WithCause(err)
	}
	if payload.Type == "" || payload.Data.EmailID == "" {
		metrics.ObserveWebhook("malformed", time.Since(start), "rejected")
		return pkgerrors.ErrWebhookProcessing.WithDetail("message", "missing type or email_id")
	}

	// The provider message id is the only join point back to our state.
	msg, err := s.messages.GetByProviderMessageID(ctx, payload.Data.EmailID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			// Mail not sent by this system; acknowledge so the provider
			// stops retrying.
			s.log.DebugwCtx(ctx, "webhook for unknown message, ignoring",
				"event_type", payload.Type, "email_id", payload.Data.EmailID)
			metrics.ObserveWebhook(payload.Type, time.Since(start), "unknown_message")
			return nil
		}
		metrics.ObserveWebhook(payload.Type, time.Since(start), "error")
		return err
	}

	ctx = logging.WithEnrollmentID(logging.WithAccountID(ctx, msg.AccountID), msg.EnrollmentID)

	record := &WebhookEvent{
		AccountID:         msg.AccountID,
		ProviderEventID:   payload.EventID(),
		EventType:         payload.Type,
		ContactEmail:      payload.ContactEmail(),
		ProviderMessageID: payload.Data.EmailID,
		EnrollmentID:      msg.EnrollmentID,
		Payload:           raw,
	}

	fresh, err := s.repo.InsertDeduped(ctx, record)
	if err != nil {
		metrics.ObserveWebhook(payload.Type, time.Since(start), "error")
		return err
	}
	if !fresh {
		s.log.DebugwCtx(ctx, "duplicate webhook event, ignoring", "provider_event_id", record.ProviderEventID)
		metrics.ObserveWebhook(payload.Type, time.Since(start), "duplicate")
		return nil
	}

	if err := s.apply(ctx, &payload, msg); err != nil {
		if ferr := s.repo.MarkFailed(ctx, record.ID, err.Error()); ferr != nil {
			s.log.ErrorwCtx(ctx, "failed to record webhook failure", "error", ferr)
		}
		metrics.ObserveWebhook(payload.Type, time.Since(start), "error")
		return err
	}

	if err := s.repo.MarkProcessed(ctx, record.ID); err != nil {
		metrics.ObserveWebhook(payload.Type, time.Since(start), "error")
		return err
	}

	s.publish(ctx, &payload, msg)
	metrics.ObserveWebhook(payload.Type, time.Since(start), "processed")
	return nil
}

// Reprocess retries a stuck persisted event on behalf of the sweeper.
func (s *Service) Reprocess(ctx context.Context, record *WebhookEvent) error {
	var payload WebhookPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		// Unparseable rows can never succeed; park them as processed.
		s.log.ErrorwCtx(ctx, "corrupt webhook payload, dropping", "webhook_event_id", record.ID, "error", err)
		return s.repo.MarkProcessed(ctx, record.ID)
	}

	msg, err := s.messages.GetByProviderMessageID(ctx, payload.Data.EmailID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return s.repo.MarkProcessed(ctx, record.ID)
		}
		return err
	}

	if err := s.apply(ctx, &payload, msg); err != nil {
		if ferr := s.repo.MarkFailed(ctx, record.ID, err.Error()); ferr != nil {
			s.log.ErrorwCtx(ctx, "failed to record webhook failure", "error", ferr)
		}
		return err
	}

	if err := s.repo.MarkProcessed(ctx, record.ID); err != nil {
		return err
	}
	s.publish(ctx, &payload, msg)
	return nil
}

func (s *Service) apply(ctx context.Context, payload *WebhookPayload, msg *message.Message) error {
	switch payload.Type {
	case EventEmailSent:
		// Provider confirmation: status and delivery_status both move to sent.
		return s.messages.MarkSent(ctx, msg.ID)

	case EventEmailDelivered:
		now := time.Now()
		return s.messages.UpdateDeliveryStatus(ctx, msg.ID, message.DeliveryDelivered, "", &now)

	case EventEmailDelayed:
		return s.messages.UpdateDeliveryStatus(ctx, msg.ID, message.DeliveryDelayed, "", nil)

	case EventEmailBounced:
		return s.applyBounce(ctx, payload, msg)

	case EventEmailComplained:
		return s.applyComplaint(ctx, payload, msg)

	case EventEmailOpened:
		return s.recordEngagement(ctx, event.TypeOpen, payload, msg, nil)

	case EventEmailClicked:
		var meta map[string]interface{}
		if payload.Data.Click != nil {
			meta = map[string]interface{}{"link": payload.Data.Click.Link}
		}
		return s.recordEngagement(ctx, event.TypeClick, payload, msg, meta)

	default:
		// Unrecognized types are stored for audit but need no action.
		s.log.DebugwCtx(ctx, "webhook event type has no handler", "event_type", payload.Type)
		return nil
	}
}

// applyBounce marks the message bounced. Hard bounces additionally
// suppress the contact for the journey and stop its in-flight enrollments.
func (s *Service) applyBounce(ctx context.Context, payload *WebhookPayload, msg *message.Message) error {
	bounceType := message.BounceSoft
	if payload.Data.Bounce != nil && payload.Data.Bounce.Type == "hard" {
		bounceType = message.BounceHard
	}

	if err := s.messages.UpdateDeliveryStatus(ctx, msg.ID, message.DeliveryBounced, bounceType, nil); err != nil {
		return err
	}

	if bounceType != message.BounceHard {
		// Soft bounces are transient; the provider retries on its own.
		return nil
	}

	contactEmail := s.contactFor(ctx, payload, msg)

	err := s.suppressions.Create(ctx, &suppression.Suppression{
		AccountID:    msg.AccountID,
		ContactEmail: contactEmail,
		JourneyID:    msg.JourneyID,
		Reason:       suppression.ReasonHardBounce,
	})
	if err != nil {
		return err
	}
	metrics.SuppressionsCreatedTotal.WithLabelValues(string(suppression.ReasonHardBounce), "journey").Inc()

	// The bounced enrollment itself is excluded; the suppression row stops
	// it on its next due run.
	stopped, err := s.enrollments.SuppressActiveForContact(ctx, msg.AccountID, contactEmail, msg.JourneyID, msg.EnrollmentID)
	if err != nil {
		return err
	}
	if stopped > 0 {
		metrics.EnrollmentTransitionsTotal.WithLabelValues(string(enrollment.StatusSuppressed)).Add(float64(stopped))
	}

	if err := s.journeys.IncrementStat(ctx, msg.JourneyID, journey.StatBounced); err != nil {
		s.log.WarnwCtx(ctx, "failed to bump bounced stat", "journey_id", msg.JourneyID, "error", err)
	}

	s.log.InfowCtx(ctx, "hard bounce reconciled",
		"journey_id", msg.JourneyID, "enrollments_stopped", stopped)
	return nil
}

// applyComplaint suppresses the contact globally for the account and
// stops every active enrollment, regardless of journey.
func (s *Service) applyComplaint(ctx context.Context, payload *WebhookPayload, msg *message.Message) error {
	if err := s.messages.UpdateDeliveryStatus(ctx, msg.ID, message.DeliveryComplained, "", nil); err != nil {
		return err
	}

	contactEmail := s.contactFor(ctx, payload, msg)

	err := s.suppressions.Create(ctx, &suppression.Suppression{
		AccountID:    msg.AccountID,
		ContactEmail: contactEmail,
		Reason:       suppression.ReasonComplaint,
	})
	if err != nil {
		return err
	}
	metrics.SuppressionsCreatedTotal.WithLabelValues(string(suppression.ReasonComplaint), "global").Inc()

	stopped, err := s.enrollments.SuppressActiveForContact(ctx, msg.AccountID, contactEmail, "", "")
	if err != nil {
		return err
	}
	if stopped > 0 {
		metrics.EnrollmentTransitionsTotal.WithLabelValues(string(enrollment.StatusSuppressed)).Add(float64(stopped))
	}

	if err := s.journeys.IncrementStat(ctx, msg.JourneyID, journey.StatComplained); err != nil {
		s.log.WarnwCtx(ctx, "failed to bump complained stat", "journey_id", msg.JourneyID, "error", err)
	}

	s.log.InfowCtx(ctx, "spam complaint reconciled",
		"journey_id", msg.JourneyID, "enrollments_stopped", stopped)
	return nil
}

func (s *Service) recordEngagement(ctx context.Context, t event.Type, payload *WebhookPayload, msg *message.Message, meta map[string]interface{}) error {
	stage := msg.Stage
	if v, ok := payload.Data.Headers["X-Stage"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			stage = n
		}
	}

	return s.events.Append(ctx, &event.Event{
		AccountID:    msg.AccountID,
		EnrollmentID: msg.EnrollmentID,
		JourneyID:    msg.JourneyID,
		ContactEmail: s.contactFor(ctx, payload, msg),
		EventType:    t,
		Stage:        &stage,
		Metadata:     meta,
	})
}

func (s *Service) contactFor(ctx context.Context, payload *WebhookPayload, msg *message.Message) string {
	if email := payload.ContactEmail(); email != "" {
		return email
	}
	// Fall back to the enrollment when the provider omits recipients.
	if e, err := s.enrollments.GetByID(ctx, msg.EnrollmentID); err == nil {
		return e.ContactEmail
	}
	return ""
}

func (s *Service) publish(ctx context.Context, payload *WebhookPayload, msg *message.Message) {
	if s.producer == nil {
		return
	}
	err := s.producer.PublishDeliveryEvent(ctx, &broker.DeliveryEvent{
		EventType:         payload.Type,
		AccountID:         msg.AccountID,
		EnrollmentID:      msg.EnrollmentID,
		JourneyID:         msg.JourneyID,
		ContactEmail:      s.contactFor(ctx, payload, msg),
		ProviderMessageID: payload.Data.EmailID,
		OccurredAt:        time.Now(),
	})
	if err != nil {
		s.log.WarnwCtx(ctx, "failed to publish delivery event", "error", err)
	}
}
