package reconciler

import (
	"time"
)

// Provider webhook event types.
const (
	EventEmailSent       = "email.sent"
	EventEmailDelivered  = "email.delivered"
	EventEmailBounced    = "email.bounced"
	EventEmailComplained = "email.complained"
	EventEmailDelayed    = "email.delivery_delayed"
	EventEmailOpened     = "email.opened"
	EventEmailClicked    = "email.clicked"
)

// WebhookPayload is the provider's delivery event envelope.
type WebhookPayload struct {
	Type      string      `json:"type"`
	CreatedAt string      `json:"created_at"`
	Data      PayloadData `json:"data"`
}

type PayloadData struct {
	EmailID string            `json:"email_id"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Bounce  *BounceInfo       `json:"bounce,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Click   *ClickInfo        `json:"click,omitempty"`
}

type BounceInfo struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type ClickInfo struct {
	Link string `json:"link"`
}

// EventID builds the provider-unique identifier used for replay dedupe.
// Providers retry webhooks with the same type and email id, so the pair
// is stable across redeliveries.
func (p *WebhookPayload) EventID() string {
	return p.Type + ":" + p.Data.EmailID
}

// ContactEmail returns the first recipient, the only one journey sends use.
func (p *WebhookPayload) ContactEmail() string {
	if len(p.Data.To) == 0 {
		return ""
	}
	return p.Data.To[0]
}

// WebhookEvent is the persisted form of a received provider event. Rows
// stay processed=false until every side effect has been applied, so the
// sweeper can retry them.
type WebhookEvent struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"account_id"`
	ProviderEventID   string     `json:"provider_event_id"`
	EventType         string     `json:"event_type"`
	ContactEmail      string     `json:"contact_email"`
	ProviderMessageID string     `json:"provider_message_id"`
	EnrollmentID      string     `json:"enrollment_id"`
	Payload           []byte     `json:"-"`
	Processed         bool       `json:"processed"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	RetryCount        int        `json:"retry_count"`
	LastError         string     `json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
