package event

import (
	"time"
)

type Type string

const (
	TypeConversion  Type = "conversion"
	TypeUnsubscribe Type = "unsubscribe"
	TypeOpen        Type = "open"
	TypeClick       Type = "click"
	TypeCustom      Type = "custom"
)

func (t Type) Valid() bool {
	switch t {
	case TypeConversion, TypeUnsubscribe, TypeOpen, TypeClick, TypeCustom:
		return true
	}
	return false
}

// Event is a contact-level occurrence. Conversions stop future sends;
// opens and clicks are engagement signals only.
type Event struct {
	ID           string                 `json:"id"`
	AccountID    string                 `json:"account_id"`
	EnrollmentID string                 `json:"enrollment_id,omitempty"`
	JourneyID    string                 `json:"journey_id,omitempty"`
	ContactEmail string                 `json:"contact_email"`
	EventType    Type                   `json:"event_type"`
	Stage        *int                   `json:"stage,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type RecordEventRequest struct {
	EnrollmentID string                 `json:"enrollment_id" binding:"required"`
	EventType    Type                   `json:"event_type" binding:"required"`
	Metadata     map[string]interface{} `json:"metadata"`
}
