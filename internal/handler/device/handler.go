package device

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/handler"
	deviceService "github.com/jwalitptl/pilltrack-api/internal/service/device"
)

type Handler struct {
	service deviceService.DeviceService
}

func NewHandler(service deviceService.DeviceService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/devices/register", h.Register)
}

type registerRequest struct {
	InstallationID *uuid.UUID `json:"installation_id"`
}

type registerResponse struct {
	InstallationID uuid.UUID `json:"installation_id"`
	Token          string    `json:"token"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	installationID, token, err := h.service.Register(c.Request.Context(), req.InstallationID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(registerResponse{
		InstallationID: installationID,
		Token:          token,
	}))
}
