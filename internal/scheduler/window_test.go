package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"drip/internal/config"
)

func businessHours() SendWindow {
	return NewSendWindow(config.SendWindowConfig{StartHour: 9, EndHour: 17})
}

func TestSendWindowContains(t *testing.T) {
	w := businessHours()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"start of window", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), true},
		{"middle of window", time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC), true},
		{"last minute inside", time.Date(2026, 3, 2, 16, 59, 0, 0, time.UTC), true},
		{"end hour excluded", time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), false},
		{"early morning", time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), false},
		{"midnight", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.at))
		})
	}
}

func TestSendWindowNextOpen(t *testing.T) {
	w := businessHours()

	t.Run("inside window returns input", func(t *testing.T) {
		at := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
		assert.Equal(t, at, w.NextOpen(at))
	})

	t.Run("before window opens same day", func(t *testing.T) {
		at := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), w.NextOpen(at))
	})

	t.Run("after window opens next day", func(t *testing.T) {
		at := time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), w.NextOpen(at))
	})

	t.Run("exactly at close opens next day", func(t *testing.T) {
		at := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), w.NextOpen(at))
	})
}
