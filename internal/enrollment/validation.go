package enrollment

import (
	"regexp"
	"strings"

	pkgerrors "drip/pkg/errors"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Domains the delivery provider rejects outright. Enrollments for these
// addresses fail fast rather than burning a scheduler cycle.
var blockedDomains = map[string]bool{
	"example.com": true,
	"example.org": true,
	"example.net": true,
	"test.com":    true,
	"localhost":   true,
	"invalid":     true,
}

var blockedSuffixes = []string{".local", ".invalid", ".test"}

// ValidateEmail rejects malformed addresses and reserved domains.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return pkgerrors.ErrInvalidEmail.WithDetail("email", email)
	}

	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])
	if blockedDomains[domain] {
		return pkgerrors.ErrInvalidEmail.
			WithDetail("email", email).
			WithDetail("message", "domain is not deliverable")
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return pkgerrors.ErrInvalidEmail.
				WithDetail("email", email).
				WithDetail("message", "domain is not deliverable")
		}
	}

	return nil
}
