package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"drip/internal/account"
	"drip/internal/config"
	"drip/internal/enrollment"
	"drip/internal/event"
	"drip/internal/gateway"
	"drip/internal/journey"
	"drip/internal/logger"
	"drip/internal/message"
	"drip/internal/suppression"
	"drip/internal/template"
	"drip/pkg/logging"
	"drip/pkg/metrics"

	pkgerrors "drip/pkg/errors"
)

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// Processor walks one account's due enrollments through the per-stage
// checks, renders what survives and submits one provider batch.
type Processor struct {
	enrollments  enrollment.Repository
	journeys     journey.Repository
	messages     message.Repository
	suppressions suppression.Repository
	events       event.Repository
	accounts     account.Repository
	credentials  *account.CredentialResolver
	gateway      gateway.Client
	window       SendWindow
	fromAddress  string
	unsubBaseURL string
	log          logger.Logger
	now          func() time.Time
}

func NewProcessor(
	enrollments enrollment.Repository,
	journeys journey.Repository,
	messages message.Repository,
	suppressions suppression.Repository,
	events event.Repository,
	accounts account.Repository,
	credentials *account.CredentialResolver,
	gw gateway.Client,
	cfg config.SchedulerConfig,
	log logger.Logger,
) *Processor {
	return &Processor{
		enrollments:  enrollments,
		journeys:     journeys,
		messages:     messages,
		suppressions: suppressions,
		events:       events,
		accounts:     accounts,
		credentials:  credentials,
		gateway:      gw,
		window:       NewSendWindow(cfg.SendWindow),
		fromAddress:  cfg.FromAddress,
		unsubBaseURL: cfg.UnsubscribeBaseURL,
		log:          log,
		now:          time.Now,
	}
}

// pending is an enrollment that cleared every pre-send check and is ready
// to go into the provider batch.
type pending struct {
	enr     enrollment.Enrollment
	stage   journey.Stage
	subject string
	body    string
	final   bool
	journey *journey.Journey
}

// ProcessAccount runs the full cycle for one account's slice of due
// enrollments. Errors on individual enrollments are absorbed so one bad
// row never stalls the rest.
func (p *Processor) ProcessAccount(ctx context.Context, accountID string, due []enrollment.Enrollment) {
	ctx = logging.WithAccountID(ctx, accountID)

	acct, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		p.log.ErrorwCtx(ctx, "failed to load account for due enrollments", "error", err)
		return
	}

	journeyCache := make(map[string]*journey.Journey)
	var batch []pending

	for i := range due {
		item, ok := p.prepare(ctx, &due[i], journeyCache)
		if ok {
			batch = append(batch, *item)
		}
	}
	if len(batch) == 0 {
		return
	}

	credential, err := p.credentials.Resolve(ctx, acct, "")
	if err != nil {
		// No usable key means nothing can be sent this run; the rows stay
		// due and are retried next tick.
		p.log.WarnwCtx(ctx, "no provider credential for account, deferring sends",
			"count", len(batch), "error", err)
		return
	}

	p.sendBatch(ctx, acct, credential, batch)
}

// prepare runs the ordered pre-send checks for one enrollment. The order
// matters: a converted contact must never be marked suppressed, and a
// paused journey must not burn the stage dedupe.
func (p *Processor) prepare(ctx context.Context, e *enrollment.Enrollment, journeys map[string]*journey.Journey) (*pending, bool) {
	ctx = logging.WithEnrollmentID(ctx, e.ID)
	now := p.now()
	nowMs := now.UnixMilli()

	converted, err := p.events.HasConversion(ctx, e.ID)
	if err != nil {
		p.log.ErrorwCtx(ctx, "conversion check failed", "error", err)
		return nil, false
	}
	if converted {
		p.transition(ctx, e, enrollment.StatusConverted, "")
		if err := p.journeys.IncrementStat(ctx, e.JourneyID, journey.StatConverted); err != nil {
			p.log.WarnwCtx(ctx, "failed to bump converted stat", "error", err)
		}
		return nil, false
	}

	suppressed, err := p.suppressions.IsSuppressed(ctx, e.AccountID, e.ContactEmail, e.JourneyID)
	if err != nil {
		p.log.ErrorwCtx(ctx, "suppression check failed", "error", err)
		return nil, false
	}
	if suppressed {
		p.transition(ctx, e, enrollment.StatusSuppressed, "")
		return nil, false
	}

	if len(e.StagesSnapshot) == 0 {
		p.transition(ctx, e, enrollment.StatusFailed, "stages snapshot missing or unreadable")
		return nil, false
	}
	if e.CurrentStage >= len(e.StagesSnapshot) {
		p.complete(ctx, e)
		return nil, false
	}

	j, ok := journeys[e.JourneyID]
	if !ok {
		j, err = p.journeys.GetByID(ctx, e.AccountID, e.JourneyID)
		if err != nil {
			p.log.ErrorwCtx(ctx, "failed to load journey", "journey_id", e.JourneyID, "error", err)
			return nil, false
		}
		journeys[e.JourneyID] = j
	}
	if !j.IsActive {
		// Paused journey: check again in an hour.
		if err := p.enrollments.Reschedule(ctx, e.ID, nowMs+int64(time.Hour/time.Millisecond)); err != nil {
			p.log.ErrorwCtx(ctx, "failed to reschedule for paused journey", "error", err)
		}
		return nil, false
	}

	if !e.TestMode && !p.window.Contains(now) {
		next := p.window.NextOpen(now)
		if err := p.enrollments.Reschedule(ctx, e.ID, next.UnixMilli()); err != nil {
			p.log.ErrorwCtx(ctx, "failed to reschedule outside send window", "error", err)
		}
		return nil, false
	}

	exists, err := p.messages.Exists(ctx, e.ID, e.CurrentStage)
	if err != nil {
		p.log.ErrorwCtx(ctx, "message dedupe check failed", "error", err)
		return nil, false
	}
	if exists {
		// Another run already sent and advanced this stage; our row is a
		// stale snapshot. Leave the enrollment alone and let the next due
		// query pick up its real state.
		p.log.DebugwCtx(ctx, "stage already sent, skipping", "stage", e.CurrentStage)
		return nil, false
	}

	stage := e.StagesSnapshot[e.CurrentStage]
	renderCtx := p.renderContext(e, j)

	subject, err := template.Render(stage.Subject, renderCtx)
	if err != nil {
		p.transition(ctx, e, enrollment.StatusFailed, renderError(err))
		return nil, false
	}
	body, err := template.Render(stage.Body, renderCtx)
	if err != nil {
		p.transition(ctx, e, enrollment.StatusFailed, renderError(err))
		return nil, false
	}

	_, _, final := p.advanceTarget(e, nowMs)
	return &pending{enr: *e, stage: stage, subject: subject, body: body, final: final, journey: j}, true
}

func (p *Processor) sendBatch(ctx context.Context, acct *account.Account, credential string, batch []pending) {
	emails := make([]gateway.BatchEmail, len(batch))
	for i, item := range batch {
		emails[i] = gateway.BatchEmail{
			From:    p.fromAddress,
			To:      []string{item.enr.ContactEmail},
			Subject: item.subject,
			HTML:    item.body,
			ReplyTo: item.enr.ReplyTo,
			Headers: p.messageHeaders(&item.enr),
			Tags:    item.enr.Tags,
		}
	}

	// The key is derived from the batch's (enrollment, stage) members, so
	// resubmitting the same set reuses it and the provider dedupes the
	// send. The messages unique index remains the authoritative guard.
	idemKey := batchIdemKey(batch)

	results, err := p.gateway.SendBatch(ctx, credential, idemKey, emails)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.ErrProviderKey.Code) {
			if serr := p.accounts.SetProviderKeyValid(ctx, acct.ID, false); serr != nil {
				p.log.ErrorwCtx(ctx, "failed to flag provider key invalid", "error", serr)
			}
		}
		p.log.ErrorwCtx(ctx, "batch send failed", "count", len(batch), "error", err)
		for i := range batch {
			p.transition(ctx, &batch[i].enr, enrollment.StatusFailed, sendError(err))
		}
		return
	}

	sent := int64(0)
	for i, res := range results {
		item := &batch[i]
		ictx := logging.WithEnrollmentID(ctx, item.enr.ID)

		if !res.OK {
			p.transition(ictx, &item.enr, enrollment.StatusFailed, "provider rejected email: "+res.Error)
			metrics.MessagesSentTotal.WithLabelValues("failed").Inc()
			continue
		}

		newStatus, nextRunAt, _ := p.advanceTarget(&item.enr, p.now().UnixMilli())

		msgStatus := message.StatusSent
		if item.enr.TestMode {
			msgStatus = message.StatusTest
		}
		msg := &message.Message{
			AccountID:         item.enr.AccountID,
			EnrollmentID:      item.enr.ID,
			JourneyID:         item.enr.JourneyID,
			Stage:             item.enr.CurrentStage,
			Subject:           item.subject,
			Body:              item.body,
			Status:            msgStatus,
			DeliveryStatus:    message.DeliverySent,
			ProviderMessageID: res.ProviderMessageID,
		}

		if err := p.enrollments.RecordSendAndAdvance(ictx, msg, newStatus, nextRunAt); err != nil {
			p.log.ErrorwCtx(ictx, "failed to record send", "error", err)
			continue
		}
		sent++
		metrics.MessagesSentTotal.WithLabelValues(string(msgStatus)).Inc()
		metrics.EnrollmentTransitionsTotal.WithLabelValues(string(newStatus)).Inc()

		if item.final {
			if err := p.journeys.IncrementStat(ictx, item.enr.JourneyID, journey.StatCompleted); err != nil {
				p.log.WarnwCtx(ictx, "failed to bump completed stat", "error", err)
			}
		}

		p.log.InfowCtx(ictx, "message sent",
			"journey_id", item.enr.JourneyID,
			"stage", item.enr.CurrentStage,
			"provider_message_id", res.ProviderMessageID,
			"test_mode", item.enr.TestMode)
	}

	if sent > 0 {
		if err := p.accounts.AddEmailsSent(ctx, acct.ID, sent); err != nil {
			p.log.WarnwCtx(ctx, "failed to bump account send counter", "error", err)
		}
	}
}

// advanceTarget computes where the enrollment lands after its current
// stage is sent: either the next stage, delayed by the day-offset gap, or
// completed when this stage was the last.
func (p *Processor) advanceTarget(e *enrollment.Enrollment, nowMs int64) (enrollment.Status, int64, bool) {
	next := e.CurrentStage + 1
	if next >= len(e.StagesSnapshot) {
		return enrollment.StatusCompleted, nowMs, true
	}
	delayDays := e.StagesSnapshot[next].Day - e.StagesSnapshot[e.CurrentStage].Day
	if delayDays < 0 {
		delayDays = 0
	}
	return enrollment.StatusActive, nowMs + int64(delayDays)*millisPerDay, false
}

func (p *Processor) renderContext(e *enrollment.Enrollment, j *journey.Journey) template.Context {
	ctx := template.Context{}
	for k, v := range e.ContactData {
		ctx[k] = v
	}
	ctx["email"] = e.ContactEmail
	ctx["enrollment_id"] = e.ID
	ctx["journey_name"] = j.Name
	ctx["unsubscribe_url"] = fmt.Sprintf("%s/unsubscribe/%s", p.unsubBaseURL, e.ID)
	return ctx
}

func (p *Processor) messageHeaders(e *enrollment.Enrollment) map[string]string {
	headers := map[string]string{
		"X-Enrollment-ID": e.ID,
		"X-Journey-ID":    e.JourneyID,
		"X-Stage":         fmt.Sprintf("%d", e.CurrentStage),
	}
	for k, v := range e.CustomHeaders {
		headers[k] = v
	}
	return headers
}

func (p *Processor) transition(ctx context.Context, e *enrollment.Enrollment, to enrollment.Status, lastError string) {
	if err := p.enrollments.MarkStatus(ctx, e.ID, to, lastError); err != nil {
		p.log.ErrorwCtx(ctx, "failed to transition enrollment", "to_status", string(to), "error", err)
		return
	}
	metrics.EnrollmentTransitionsTotal.WithLabelValues(string(to)).Inc()
	p.log.InfowCtx(ctx, "enrollment transitioned", "to_status", string(to), "last_error", lastError)
}

func (p *Processor) complete(ctx context.Context, e *enrollment.Enrollment) {
	p.transition(ctx, e, enrollment.StatusCompleted, "")
	if err := p.journeys.IncrementStat(ctx, e.JourneyID, journey.StatCompleted); err != nil {
		p.log.WarnwCtx(ctx, "failed to bump completed stat", "error", err)
	}
}

func batchIdemKey(batch []pending) string {
	if len(batch) == 1 {
		return fmt.Sprintf("send:%s:%d", batch[0].enr.ID, batch[0].enr.CurrentStage)
	}
	h := sha256.New()
	for i := range batch {
		fmt.Fprintf(h, "%s:%d\n", batch[i].enr.ID, batch[i].enr.CurrentStage)
	}
	return "batch:" + hex.EncodeToString(h.Sum(nil))
}

func renderError(err error) string {
	return "template render failed: " + err.Error()
}

func sendError(err error) string {
	return "batch send failed: " + err.Error()
}
