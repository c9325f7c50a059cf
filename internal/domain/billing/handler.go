package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/protolab/protolab/internal/platform/auth"
	"github.com/protolab/protolab/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleUser))
	read.GET("/entries", h.ListRecentEntries)
	read.GET("/entries/:id", h.GetEntry)
	read.POST("/entries/analyze", h.AnalyzeNote)
	read.DELETE("/entries/:id", h.DeleteEntry)
	read.GET("/patients/:id/entries", h.ListPatientEntries)
	read.GET("/tenders", h.ListTenders)
	read.GET("/tenders/:id", h.GetTender)
	read.GET("/tenders/:id/invoices", h.ListInvoices)
	read.GET("/tenders/:id/quota-report", h.QuotaReport)
	read.GET("/invoices/:id", h.GetInvoice)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/tenders", h.CreateTender)
	write.PUT("/tenders/:id", h.UpdateTender)
	write.DELETE("/tenders/:id", h.DeleteTender)
	write.POST("/tenders/:id/invoices", h.AddInvoice)
	write.DELETE("/invoices/:id", h.DeleteInvoice)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrTenderNotFound), errors.Is(err, ErrInvoiceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidEntry), errors.Is(err, ErrInvalidTender), errors.Is(err, ErrInvalidInvoice):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Entries --

func (h *Handler) ListRecentEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRecentEntries(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPatientEntries(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientEntries(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteEntry(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type analyzeRequest struct {
	Note string `json:"note"`
}

func (h *Handler) AnalyzeNote(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.AnalyzeNote(c.Request().Context(), req.Note)
	if err != nil {
		return httpError(err)
	}
	if res.SuggestedCodes == nil {
		res.SuggestedCodes = []string{}
	}
	return c.JSON(http.StatusOK, res)
}

// -- Tenders --

func (h *Handler) ListTenders(c echo.Context) error {
	items, err := h.svc.ListTenders(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Tender{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetTender(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTender(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CreateTender(c echo.Context) error {
	var t Tender
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTender(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) UpdateTender(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t Tender
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.UpdateTender(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTender(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTender(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) QuotaReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.QuotaReport(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Invoices --

func (h *Handler) ListInvoices(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListInvoices(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Invoice{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) AddInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var inv Invoice
	if err := c.Bind(&inv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv.TenderID = id
	tender, err := h.svc.AddInvoice(c.Request().Context(), &inv)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"invoice": inv, "tender": tender})
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	tender, err := h.svc.DeleteInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tender)
}
