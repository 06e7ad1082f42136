package message

import (
	"time"
)

type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
	StatusTest   Status = "test"
)

type DeliveryStatus string

const (
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
	DeliveryDelayed    DeliveryStatus = "delayed"
)

type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// Message is one send attempt for one (enrollment, stage) pair. At most
// one row may ever exist per pair; the unique constraint backs the
// scheduler's dedupe check.
type Message struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"account_id"`
	EnrollmentID      string         `json:"enrollment_id"`
	JourneyID         string         `json:"journey_id"`
	Stage             int            `json:"stage"`
	Subject           string         `json:"subject"`
	Body              string         `json:"body"`
	Status            Status         `json:"status"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	BounceType        BounceType     `json:"bounce_type,omitempty"`
	SentAt            time.Time      `json:"sent_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
