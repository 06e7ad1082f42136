package scheduler

import (
	"time"

	"drip/internal/config"
)

// SendWindow restricts real sends to working hours in UTC. Test-mode
// enrollments bypass it entirely.
type SendWindow struct {
	startHour int
	endHour   int
}

func NewSendWindow(cfg config.SendWindowConfig) SendWindow {
	return SendWindow{startHour: cfg.StartHour, endHour: cfg.EndHour}
}

// Contains reports whether t falls inside the window.
func (w SendWindow) Contains(t time.Time) bool {
	hour := t.UTC().Hour()
	return hour >= w.startHour && hour < w.endHour
}

// NextOpen returns the next window start at or after t. Inside the window
// it returns t unchanged.
func (w SendWindow) NextOpen(t time.Time) time.Time {
	t = t.UTC()
	if w.Contains(t) {
		return t
	}
	next := time.Date(t.Year(), t.Month(), t.Day(), w.startHour, 0, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
