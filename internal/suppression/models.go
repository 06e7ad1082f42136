package suppression

import (
	"time"
)

type Reason string

const (
	ReasonHardBounce  Reason = "hard_bounce"
	ReasonComplaint   Reason = "spam_complaint"
	ReasonUnsubscribe Reason = "unsubscribe"
	ReasonManual      Reason = "manual"
)

// Suppression blocks further sends to a contact. An empty JourneyID means
// the block is global for the account; a non-expired row blocks both new
// enrollments and scheduled sends.
type Suppression struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	ContactEmail string     `json:"contact_email"`
	JourneyID    string     `json:"journey_id,omitempty"`
	Reason       Reason     `json:"reason"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Global reports whether this suppression applies across all journeys.
func (s *Suppression) Global() bool {
	return s.JourneyID == ""
}
