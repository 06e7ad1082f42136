package enrollment

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drip/internal/account"
	"drip/internal/constants"
	"drip/internal/event"
	"drip/internal/logger"
	"drip/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	enrollments := group.Group("/enrollments")
	{
		enrollments.POST("", h.Create)
		enrollments.GET("/:id", h.Get)
	}
	group.POST("/events", h.RecordEvent)
}

// RegisterPublicRoutes mounts the endpoints reachable without an API key.
// Unsubscribe links land here straight from recipients' inboxes.
func (h *Handler) RegisterPublicRoutes(router gin.IRouter) {
	router.GET("/unsubscribe/:enrollment_id", h.Unsubscribe)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) Create(c *gin.Context) {
	acct := account.FromContext(c)

	var req CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	idemKey := c.GetHeader(constants.HeaderIdemKey)

	result, err := h.service.Create(c.Request.Context(), acct.ID, &req, idemKey)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *Handler) Get(c *gin.Context) {
	acct := account.FromContext(c)

	e, err := h.service.Get(c.Request.Context(), acct.ID, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) RecordEvent(c *gin.Context) {
	acct := account.FromContext(c)

	var req event.RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ev, err := h.service.RecordEvent(c.Request.Context(), acct.ID, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	err := h.service.Unsubscribe(c.Request.Context(), c.Param("enrollment_id"))
	if err != nil {
		if errors.IsNotFound(err) {
			c.String(http.StatusNotFound, "Enrollment not found.")
			return
		}
		h.handleError(c, err)
		return
	}
	c.String(http.StatusOK, "You have been unsubscribed.")
}
