package account

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drip/internal/constants"
	"drip/internal/gateway"
	"drip/internal/logger"
	"drip/pkg/crypto"

	pkgerrors "drip/pkg/errors"
)

type fakeAccountRepo struct {
	storedKey string
	keyValid  *bool
}

func (f *fakeAccountRepo) GetByID(_ context.Context, _ string) (*Account, error) {
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeAccountRepo) GetByAPIKey(_ context.Context, _ string) (*Account, error) {
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeAccountRepo) StoreProviderKey(_ context.Context, _, encryptedKey string) error {
	f.storedKey = encryptedKey
	return nil
}

func (f *fakeAccountRepo) SetProviderKeyValid(_ context.Context, _ string, valid bool) error {
	f.keyValid = &valid
	return nil
}

func (f *fakeAccountRepo) AddEmailsSent(_ context.Context, _ string, _ int64) error {
	return nil
}

type fakeVerifyGateway struct {
	verified []string
	err      error
}

func (f *fakeVerifyGateway) VerifyKey(_ context.Context, credential string) error {
	f.verified = append(f.verified, credential)
	return f.err
}

func (f *fakeVerifyGateway) SendBatch(_ context.Context, _ string, _ string, _ []gateway.BatchEmail) ([]gateway.Result, error) {
	return nil, nil
}

func testCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	cipher, err := crypto.NewCipher(hex.EncodeToString(bytes.Repeat([]byte{0x2a}, 32)))
	require.NoError(t, err)
	return cipher
}

func newAccountRouter(t *testing.T, acct *Account, gw gateway.Client) (*gin.Engine, *fakeAccountRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := &fakeAccountRepo{}
	resolver := NewCredentialResolver(testCipher(t), "")
	handler := NewHandler(repo, resolver, gw, logger.NopLogger())

	router := gin.New()
	group := router.Group("/v1", func(c *gin.Context) {
		c.Set(ContextKey, acct)
	})
	handler.RegisterRoutes(group)
	return router, repo
}

func TestStoreProviderKeyVerifiesBeforeStoring(t *testing.T) {
	gw := &fakeVerifyGateway{}
	router, repo := newAccountRouter(t, &Account{ID: "acct-1"}, gw)

	body := []byte(`{"provider_api_key": "re_live_abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/account/provider-key", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"re_live_abc123"}, gw.verified)
	assert.NotEmpty(t, repo.storedKey)
	assert.NotContains(t, repo.storedKey, "re_live_abc123", "keys must be stored encrypted")
	require.NotNil(t, repo.keyValid)
	assert.True(t, *repo.keyValid)
}

func TestStoreProviderKeyRejectsInvalidKey(t *testing.T) {
	gw := &fakeVerifyGateway{err: pkgerrors.ErrProviderKey}
	router, repo := newAccountRouter(t, &Account{ID: "acct-1"}, gw)

	body := []byte(`{"provider_api_key": "re_bad"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/account/provider-key", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, repo.storedKey, "rejected keys must not be stored")
}

func TestValidateProviderKeyHonorsHeaderOverride(t *testing.T) {
	cipher := testCipher(t)
	stored, err := cipher.Encrypt("re_stored")
	require.NoError(t, err)

	gw := &fakeVerifyGateway{}
	router, repo := newAccountRouter(t, &Account{ID: "acct-1", ProviderAPIKeyEncrypted: stored}, gw)

	req := httptest.NewRequest(http.MethodPost, "/v1/account/provider-key/validate", nil)
	req.Header.Set(constants.HeaderProviderKey, "re_override")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"re_override"}, gw.verified, "header key must take precedence over the stored one")
	assert.Nil(t, repo.keyValid, "an override result must not touch the stored key's flag")
}

func TestValidateProviderKeyChecksStoredKey(t *testing.T) {
	cipher := testCipher(t)
	stored, err := cipher.Encrypt("re_stored")
	require.NoError(t, err)

	gw := &fakeVerifyGateway{err: pkgerrors.ErrProviderKey}
	router, repo := newAccountRouter(t, &Account{ID: "acct-1", ProviderAPIKeyEncrypted: stored}, gw)

	req := httptest.NewRequest(http.MethodPost, "/v1/account/provider-key/validate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, []string{"re_stored"}, gw.verified)
	require.NotNil(t, repo.keyValid)
	assert.False(t, *repo.keyValid)
}
