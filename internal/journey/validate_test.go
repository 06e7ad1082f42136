package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "drip/pkg/errors"
)

func validStage(day int) Stage {
	return Stage{
		Day:     day,
		Subject: "Welcome {{first_name}}",
		Body:    "<p>Hi {{first_name}}</p><a href=\"{{unsubscribe_url}}\">Unsubscribe</a>",
	}
}

func TestValidateStages(t *testing.T) {
	tests := []struct {
		name      string
		stages    []Stage
		wantError bool
	}{
		{
			name:   "single valid stage",
			stages: []Stage{validStage(0)},
		},
		{
			name:   "multiple ascending stages",
			stages: []Stage{validStage(0), validStage(3), validStage(7)},
		},
		{
			name:      "no stages",
			stages:    nil,
			wantError: true,
		},
		{
			name:      "negative day offset",
			stages:    []Stage{validStage(-1)},
			wantError: true,
		},
		{
			name:      "duplicate day offsets",
			stages:    []Stage{validStage(2), validStage(2)},
			wantError: true,
		},
		{
			name:      "descending day offsets",
			stages:    []Stage{validStage(5), validStage(3)},
			wantError: true,
		},
		{
			name: "missing unsubscribe placeholder",
			stages: []Stage{{
				Day:     0,
				Subject: "Hello",
				Body:    "<p>No way out</p>",
			}},
			wantError: true,
		},
		{
			name: "malformed subject template",
			stages: []Stage{{
				Day:     0,
				Subject: "{{#if broken}}never closed",
				Body:    "<p>{{unsubscribe_url}}</p>",
			}},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStages(tt.stages)
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, pkgerrors.HasCode(err, pkgerrors.ErrInvalidTemplates.Code))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStagesCollectsAllErrors(t *testing.T) {
	stages := []Stage{
		{Day: -1, Subject: "ok", Body: "no placeholder"},
		{Day: -1, Subject: "ok", Body: "{{unsubscribe_url}}"},
	}

	err := ValidateStages(stages)
	require.Error(t, err)

	var appErr *pkgerrors.Error
	require.ErrorAs(t, err, &appErr)
	errs, ok := appErr.Details["errors"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(errs), 3)
}
