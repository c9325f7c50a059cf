package audit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/protolab/protolab/internal/platform/auth"
	"github.com/protolab/protolab/pkg/pagination"
)

type Handler struct {
	sink *Sink
}

func NewHandler(sink *Sink) *Handler {
	return &Handler{sink: sink}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/audit-logs", h.ListLogs)
}

func (h *Handler) ListLogs(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{
		Action: c.QueryParam("action"),
		User:   c.QueryParam("user"),
		Query:  c.QueryParam("q"),
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		params.Since = &t
	}
	items, total, err := h.sink.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*LogEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
