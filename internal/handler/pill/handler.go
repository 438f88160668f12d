package pill

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/pilltrack-api/internal/handler"
	"github.com/jwalitptl/pilltrack-api/internal/middleware"
	"github.com/jwalitptl/pilltrack-api/internal/model"
	pillService "github.com/jwalitptl/pilltrack-api/internal/service/pill"
)

type Handler struct {
	service pillService.TrackerService
}

func NewHandler(service pillService.TrackerService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	pills := r.Group("/pills")
	{
		pills.POST("", h.CreatePill)
		pills.GET("", h.ListPills)
		pills.POST("/:id/taken", h.MarkTaken)
		pills.DELETE("/:id/taken", h.MarkUntaken)
		pills.DELETE("/:id", h.DeletePill)
	}
}

func (h *Handler) CreatePill(c *gin.Context) {
	var req model.CreatePillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	pill, err := h.service.AddPill(c.Request.Context(), middleware.InstallationID(c), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(pill))
}

func (h *Handler) ListPills(c *gin.Context) {
	pills, err := h.service.ListPills(c.Request.Context(), middleware.InstallationID(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(pills))
}

func (h *Handler) MarkTaken(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid pill ID"))
		return
	}

	pill, err := h.service.MarkTaken(c.Request.Context(), middleware.InstallationID(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(pill))
}

func (h *Handler) MarkUntaken(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid pill ID"))
		return
	}

	pill, err := h.service.MarkUntaken(c.Request.Context(), middleware.InstallationID(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(pill))
}

func (h *Handler) DeletePill(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid pill ID"))
		return
	}

	if err := h.service.DeletePill(c.Request.Context(), middleware.InstallationID(c), id); err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}
