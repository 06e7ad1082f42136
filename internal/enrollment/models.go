package enrollment

import (
	"time"

	"drip/internal/journey"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusConverted  Status = "converted"
	StatusRemoved    Status = "removed"
	StatusFailed     Status = "failed"
	StatusSuppressed Status = "suppressed"
)

// Terminal statuses are final; no transition ever leaves them.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Enrollment is one contact's run through one journey. StagesSnapshot is
// copied from the journey at enrollment time and is immune to later
// journey edits. NextRunAt is epoch milliseconds.
type Enrollment struct {
	ID             string                 `json:"id"`
	AccountID      string                 `json:"account_id"`
	JourneyID      string                 `json:"journey_id"`
	JourneyVersion int                    `json:"journey_version"`
	StagesSnapshot []journey.Stage        `json:"stages_snapshot"`
	ContactEmail   string                 `json:"contact_email"`
	ContactData    map[string]interface{} `json:"contact_data,omitempty"`
	Status         Status                 `json:"status"`
	CurrentStage   int                    `json:"current_stage"`
	NextRunAt      int64                  `json:"next_run_at"`
	EnrolledAt     time.Time              `json:"enrolled_at"`
	TestMode       bool                   `json:"test_mode"`
	RetryCount     int                    `json:"retry_count"`
	LastError      string                 `json:"last_error,omitempty"`
	ReplyTo        string                 `json:"reply_to,omitempty"`
	Tags           map[string]string      `json:"tags,omitempty"`
	CustomHeaders  map[string]string      `json:"custom_headers,omitempty"`
}

type CreateEnrollmentRequest struct {
	JourneyID     string                 `json:"journey_id" binding:"required"`
	ContactEmail  string                 `json:"contact_email" binding:"required"`
	ContactData   map[string]interface{} `json:"contact_data"`
	TestMode      bool                   `json:"test_mode"`
	ReplyTo       string                 `json:"reply_to"`
	Tags          map[string]string      `json:"tags"`
	CustomHeaders map[string]string      `json:"custom_headers"`
}

type CreateEnrollmentResult struct {
	Enrollment *Enrollment `json:"enrollment"`
	Existing   bool        `json:"existing"`
}
