package journey

import (
	"time"
)

// Stage is one journey step: a day offset from enrollment plus subject and
// body templates.
type Stage struct {
	Day     int    `json:"day"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Stats are denormalized journey counters maintained by the enrollment
// service, the scheduler and the reconciler.
type Stats struct {
	TotalEnrolled   int64 `json:"total_enrolled"`
	TotalCompleted  int64 `json:"total_completed"`
	TotalConverted  int64 `json:"total_converted"`
	TotalBounced    int64 `json:"total_bounced"`
	TotalComplained int64 `json:"total_complained"`
}

// Journey is an ordered sequence of email stages. It is mutated in place
// and carries a monotonically incrementing version; enrollments snapshot
// the stage list at enrollment time and are immune to later edits.
type Journey struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Name           string    `json:"name"`
	Goal           string    `json:"goal,omitempty"`
	Audience       string    `json:"audience,omitempty"`
	Stages         []Stage   `json:"stages"`
	Version        int       `json:"version"`
	IsActive       bool      `json:"is_active"`
	DefaultReplyTo string    `json:"default_reply_to,omitempty"`
	Stats          Stats     `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type CreateJourneyRequest struct {
	Name           string  `json:"name" binding:"required"`
	Goal           string  `json:"goal"`
	Audience       string  `json:"audience"`
	Stages         []Stage `json:"stages" binding:"required"`
	DefaultReplyTo string  `json:"default_reply_to"`
}

type UpdateJourneyRequest struct {
	Name           *string `json:"name"`
	Stages         []Stage `json:"stages"`
	IsActive       *bool   `json:"is_active"`
	DefaultReplyTo *string `json:"default_reply_to"`
}

// Stat fields the repository can increment atomically.
const (
	StatEnrolled   = "total_enrolled"
	StatCompleted  = "total_completed"
	StatConverted  = "total_converted"
	StatBounced    = "total_bounced"
	StatComplained = "total_complained"
)
