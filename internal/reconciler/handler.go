package reconciler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"drip/internal/logger"
	"drip/pkg/errors"
)

type Handler struct {
	service  *Service
	verifier Verifier
	logger   logger.Logger
}

func NewHandler(service *Service, verifier Verifier, log logger.Logger) *Handler {
	return &Handler{service: service, verifier: verifier, logger: log}
}

// RegisterRoutes mounts the webhook endpoint. It is unauthenticated; the
// svix signature is the only credential the provider presents.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST("/webhooks/provider", h.Receive)
}

// Receive verifies and processes one provider webhook delivery. After a
// valid signature the response is always 200: a processing failure is
// retried by the sweeper, not by the provider.
func (h *Handler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.verifier.Verify(payload, c.Request.Header); err != nil {
		h.logger.WarnwCtx(c.Request.Context(), "webhook signature verification failed", "error", err)
		c.JSON(http.StatusUnauthorized, errors.ToErrorResponse(errors.ErrWebhookVerification))
		return
	}

	if err := h.service.Process(c.Request.Context(), payload); err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "webhook processing failed", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
