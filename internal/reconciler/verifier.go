package reconciler

import (
	"net/http"

	svix "github.com/svix/svix-webhooks/go"

	pkgerrors "drip/pkg/errors"
)

// Verifier authenticates incoming provider webhooks against the shared
// signing secret.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

type SvixVerifier struct {
	wh *svix.Webhook
}

func NewVerifier(signingSecret string) (*SvixVerifier, error) {
	wh, err := svix.NewWebhook(signingSecret)
	if err != nil {
		return nil, pkgerrors.ErrWebhookVerification.WithCause(err)
	}
	return &SvixVerifier{wh: wh}, nil
}

func (v *SvixVerifier) Verify(payload []byte, headers http.Header) error {
	if err := v.wh.Verify(payload, headers); err != nil {
		return pkgerrors.ErrWebhookVerification.WithCause(err)
	}
	return nil
}
