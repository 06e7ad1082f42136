package journey

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"drip/internal/account"
	"drip/internal/logger"
	"drip/pkg/errors"
)

type Handler struct {
	service Service
	logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	journeys := group.Group("/journeys")
	{
		journeys.GET("", h.List)
		journeys.POST("", h.Create)
		journeys.GET("/:id", h.Get)
		journeys.PUT("/:id", h.Update)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) List(c *gin.Context) {
	acct := account.FromContext(c)

	journeys, err := h.service.List(c.Request.Context(), acct.ID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, journeys)
}

func (h *Handler) Create(c *gin.Context) {
	acct := account.FromContext(c)

	var req CreateJourneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	j, err := h.service.Create(c.Request.Context(), acct.ID, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, j)
}

func (h *Handler) Get(c *gin.Context) {
	acct := account.FromContext(c)

	j, err := h.service.Get(c.Request.Context(), acct.ID, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *Handler) Update(c *gin.Context) {
	acct := account.FromContext(c)

	var req UpdateJourneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	j, err := h.service.Update(c.Request.Context(), acct.ID, c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, j)
}
