package history

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/pilltrack-api/internal/handler"
	"github.com/jwalitptl/pilltrack-api/internal/middleware"
	historyService "github.com/jwalitptl/pilltrack-api/internal/service/history"
)

// Default window when the caller gives no range.
const defaultWindow = 30 * 24 * time.Hour

type Handler struct {
	service historyService.HistoryService
}

func NewHandler(service historyService.HistoryService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/history", h.ListHistory)
}

func (h *Handler) ListHistory(c *gin.Context) {
	now := time.Now()
	from := now.Add(-defaultWindow)
	to := now

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid 'from' timestamp"))
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid 'to' timestamp"))
			return
		}
		to = parsed
	}
	if !to.After(from) {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("'to' must be after 'from'"))
		return
	}

	entries, err := h.service.List(c.Request.Context(), middleware.InstallationID(c), from, to)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}
