package reconciler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drip/internal/logger"

	pkgerrors "drip/pkg/errors"
)

type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) Verify(_ []byte, _ http.Header) error {
	return f.err
}

func newWebhookRouter(t *testing.T, verifier Verifier) (*gin.Engine, *reconcilerFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newReconcilerFixture(t)
	handler := NewHandler(f.service, verifier, logger.NopLogger())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, f
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	router, f := newWebhookRouter(t, &fakeVerifier{err: pkgerrors.ErrWebhookVerification})

	body := payloadJSON(t, EventEmailDelivered, PayloadData{EmailID: "prov-123"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.webhooks.events, "unverified payloads must not be persisted")
}

func TestReceiveAcksVerifiedPayload(t *testing.T) {
	router, f := newWebhookRouter(t, &fakeVerifier{})

	body := payloadJSON(t, EventEmailDelivered, PayloadData{EmailID: "prov-123", To: []string{"ada@lovelace.dev"}})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.webhooks.events, 1)
}

func TestReceiveAcksProcessingFailure(t *testing.T) {
	router, _ := newWebhookRouter(t, &fakeVerifier{})

	// Unknown provider message: processing is a no-op but the provider
	// still gets a 200 so it stops retrying.
	body := payloadJSON(t, EventEmailDelivered, PayloadData{EmailID: "prov-unknown"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
