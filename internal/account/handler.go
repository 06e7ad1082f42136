package account

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drip/internal/constants"
	"drip/internal/gateway"
	"drip/internal/logger"
	"drip/pkg/crypto"
	"drip/pkg/errors"
)

type Handler struct {
	repo        Repository
	credentials *CredentialResolver
	gateway     gateway.Client
	logger      logger.Logger
}

func NewHandler(repo Repository, credentials *CredentialResolver, gw gateway.Client, log logger.Logger) *Handler {
	return &Handler{repo: repo, credentials: credentials, gateway: gw, logger: log}
}

func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	accounts := group.Group("/account")
	{
		accounts.GET("", h.Get)
		accounts.POST("/provider-key", h.StoreProviderKey)
		accounts.POST("/provider-key/validate", h.ValidateProviderKey)
	}
}

func (h *Handler) Get(c *gin.Context) {
	acct := FromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"id":                 acct.ID,
		"name":               acct.Name,
		"provider_key_set":   acct.ProviderAPIKeyEncrypted != "",
		"provider_key_valid": acct.ProviderKeyValid,
		"emails_sent":        acct.EmailsSent,
	})
}

// StoreProviderKey proves the submitted key against the provider, then
// encrypts and saves it.
func (h *Handler) StoreProviderKey(c *gin.Context) {
	acct := FromContext(c)
	ctx := c.Request.Context()

	var req StoreProviderKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.gateway.VerifyKey(ctx, req.ProviderAPIKey); err != nil {
		h.logger.WarnwCtx(ctx, "provider rejected submitted key",
			"key", crypto.RedactKey(req.ProviderAPIKey), "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	encrypted, err := h.credentials.Encrypt(req.ProviderAPIKey)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "failed to encrypt provider key", "error", err)
		c.JSON(http.StatusInternalServerError, errors.ToErrorResponse(errors.ErrInternal))
		return
	}

	if err := h.repo.StoreProviderKey(ctx, acct.ID, encrypted); err != nil {
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	if err := h.repo.SetProviderKeyValid(ctx, acct.ID, true); err != nil {
		h.logger.WarnwCtx(ctx, "failed to reset provider key validity", "error", err)
	}

	h.logger.InfowCtx(ctx, "provider key stored", "key", crypto.RedactKey(req.ProviderAPIKey))
	c.JSON(http.StatusOK, gin.H{"stored": true})
}

// ValidateProviderKey checks the credential the account would currently
// send with. An X-Provider-Key header takes precedence over the stored
// key; validation results only touch the stored key's validity flag.
func (h *Handler) ValidateProviderKey(c *gin.Context) {
	acct := FromContext(c)
	ctx := c.Request.Context()
	override := c.GetHeader(constants.HeaderProviderKey)

	credential, err := h.credentials.Resolve(ctx, acct, override)
	if err != nil {
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	if err := h.gateway.VerifyKey(ctx, credential); err != nil {
		if override == "" && errors.HasCode(err, errors.ErrProviderKey.Code) {
			if serr := h.repo.SetProviderKeyValid(ctx, acct.ID, false); serr != nil {
				h.logger.WarnwCtx(ctx, "failed to flag provider key invalid", "error", serr)
			}
		}
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}

	if override == "" {
		if serr := h.repo.SetProviderKeyValid(ctx, acct.ID, true); serr != nil {
			h.logger.WarnwCtx(ctx, "failed to reset provider key validity", "error", serr)
		}
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
