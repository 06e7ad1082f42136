package journey

import (
	"fmt"
	"strings"

	"drip/internal/template"
	pkgerrors "drip/pkg/errors"
)

const unsubscribePlaceholder = "{{unsubscribe_url}}"

// ValidateStages enforces the journey invariants: at least one stage,
// strictly ascending day offsets, parseable templates, and an unsubscribe
// placeholder in every body. Enforced on create and update so the
// scheduler can trust any stages_snapshot it reads.
func ValidateStages(stages []Stage) error {
	var errs []string

	if len(stages) == 0 {
		errs = append(errs, "journey must have at least one stage")
	}

	for i, stage := range stages {
		if err := template.Validate(stage.Subject); err != nil {
			errs = append(errs, fmt.Sprintf("stage %d subject has errors", i))
		}
		if err := template.Validate(stage.Body); err != nil {
			errs = append(errs, fmt.Sprintf("stage %d body has errors", i))
		}

		if !strings.Contains(stage.Body, unsubscribePlaceholder) {
			errs = append(errs, fmt.Sprintf("stage %d missing %s", i, unsubscribePlaceholder))
		}

		if stage.Day < 0 {
			errs = append(errs, fmt.Sprintf("stage %d has negative day offset", i))
		}

		if i > 0 && stage.Day <= stages[i-1].Day {
			errs = append(errs, fmt.Sprintf("stage %d day offset must be greater than stage %d", i, i-1))
		}
	}

	if len(errs) > 0 {
		return pkgerrors.ErrInvalidTemplates.WithDetail("errors", errs)
	}

	return nil
}
