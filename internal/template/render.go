// Package template renders journey stage templates with handlebars
// semantics: interpolated values are HTML-escaped unless the triple-brace
// form is used, and missing keys render as empty strings.
package template

import (
	"strings"
	"time"

	"github.com/aymerick/raymond"

	pkgerrors "drip/pkg/errors"
)

func init() {
	raymond.RegisterHelper("default", func(value interface{}, defaultValue string) string {
		if value == nil {
			return defaultValue
		}
		if s, ok := value.(string); ok && s == "" {
			return defaultValue
		}
		return raymond.Str(value)
	})

	raymond.RegisterHelper("uppercase", func(value string) string {
		return strings.ToUpper(value)
	})

	raymond.RegisterHelper("date_format", func(value interface{}) string {
		ms := toMillis(value)
		if ms == 0 {
			return ""
		}
		return time.UnixMilli(ms).UTC().Format("January 2, 2006")
	})
}

// Contact data arrives as decoded JSON, so timestamps may be int64, int
// or float64 depending on the path they took.
func toMillis(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Context carries contact data plus the system fields injected for every
// render (email, unsubscribe_url, enrollment_id, journey_name).
type Context map[string]interface{}

func Render(source string, ctx Context) (string, error) {
	out, err := raymond.Render(source, map[string]interface{}(ctx))
	if err != nil {
		preview := source
		if len(preview) > 100 {
			preview = preview[:100]
		}
		return "", pkgerrors.ErrRenderFailed.
			WithCause(err).
			WithDetail("template_preview", preview)
	}
	return out, nil
}

// Validate checks that a template parses without rendering it.
func Validate(source string) error {
	if _, err := raymond.Parse(source); err != nil {
		return pkgerrors.ErrInvalidTemplates.WithCause(err)
	}
	return nil
}
