package patient

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/protolab/protolab/internal/platform/auth"
	"github.com/protolab/protolab/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleUser))
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/due", h.DueList)
	read.GET("/patients/:id", h.GetPatient)
	read.GET("/patients/:id/timeline", h.Timeline)
	read.GET("/dashboard", h.Dashboard)

	// Day-to-day lab work is open to every user.
	work := api.Group("", auth.RequireRole(auth.RoleUser))
	work.POST("/patients", h.CreatePatient)
	work.PUT("/patients/:id", h.UpdatePatient)
	work.POST("/patients/:id/actions", h.RecordAction)
	work.POST("/patients/:id/status", h.ChangeStatus)
	work.PUT("/patients/:id/processes", h.SaveProcess)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/patients/:id", h.DeletePatient)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateProtocolNo), errors.Is(err, ErrSuspendedPatient), errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidPatient), errors.Is(err, ErrEmptyAction), errors.Is(err, ErrActionBeforeAdmission),
		errors.Is(err, ErrPrematureAction), errors.Is(err, ErrUnknownBillingCode), errors.Is(err, ErrUnknownProtocol):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

// today reads an optional ?date= override, defaulting to the current day.
func (h *Handler) today(c echo.Context) (time.Time, error) {
	if v := c.QueryParam("date"); v != "" {
		t, err := ParseDate(v)
		if err != nil {
			return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return t, nil
	}
	return DayStart(h.now()), nil
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreatePatient(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{
		Query:            c.QueryParam("q"),
		ProtocolID:       c.QueryParam("protocol"),
		RequestingDoctor: c.QueryParam("doctor"),
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return httpError(err)
		}
		params.Status = st
	}
	items, total, err := h.svc.ListPatients(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SaveProcess(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.SaveProcess(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RecordAction(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.RecordAction(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.ChangeStatus(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Timeline(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	phases, err := h.svc.Timeline(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, phases)
}

func (h *Handler) DueList(c echo.Context) error {
	today, err := h.today(c)
	if err != nil {
		return err
	}
	due, err := h.svc.DueList(c.Request().Context(), today)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Window(due, pg), len(due), pg.Limit, pg.Offset))
}

func (h *Handler) Dashboard(c echo.Context) error {
	today, err := h.today(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), today)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}
