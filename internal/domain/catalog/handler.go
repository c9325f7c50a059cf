package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/protolab/protolab/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleUser))
	read.GET("/billing-codes", h.ListBillingCodes)
	read.GET("/billing-codes/:code", h.GetBillingCode)
	read.GET("/protocols", h.ListProtocols)
	read.GET("/protocols/:id", h.GetProtocol)
	read.GET("/doctors", h.ListDoctors)

	// Catalog edits are settings-level operations.
	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/billing-codes", h.SaveBillingCode)
	write.PUT("/billing-codes/:code", h.SaveBillingCode)
	write.DELETE("/billing-codes/:code", h.DeleteBillingCode)
	write.POST("/protocols", h.CreateProtocol)
	write.PUT("/protocols/:id", h.UpdateProtocol)
	write.DELETE("/protocols/:id", h.DeleteProtocol)
	write.POST("/protocols/:id/steps", h.AddProtocolStep)
	write.DELETE("/protocols/:id/steps/:number", h.RemoveProtocolStep)
	write.POST("/doctors", h.AddDoctor)
	write.DELETE("/doctors/:name", h.DeleteDoctor)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrBillingCodeNotFound), errors.Is(err, ErrProtocolNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrProtocolExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidBillingCode), errors.Is(err, ErrInvalidProtocol),
		errors.Is(err, ErrUnknownBillingCode), errors.Is(err, ErrInvalidDoctor):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Billing Codes --

func (h *Handler) ListBillingCodes(c echo.Context) error {
	codes, err := h.svc.ListBillingCodes(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if codes == nil {
		codes = []*BillingCode{}
	}
	return c.JSON(http.StatusOK, codes)
}

func (h *Handler) GetBillingCode(c echo.Context) error {
	code, err := h.svc.GetBillingCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) SaveBillingCode(c echo.Context) error {
	var code BillingCode
	if err := c.Bind(&code); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p := c.Param("code"); p != "" {
		code.Code = p
	}
	if err := h.svc.SaveBillingCode(c.Request().Context(), &code); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) DeleteBillingCode(c echo.Context) error {
	if err := h.svc.DeleteBillingCode(c.Request().Context(), c.Param("code")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Protocols --

func (h *Handler) ListProtocols(c echo.Context) error {
	protocols, err := h.svc.ListProtocols(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if protocols == nil {
		protocols = []*Protocol{}
	}
	return c.JSON(http.StatusOK, protocols)
}

func (h *Handler) GetProtocol(c echo.Context) error {
	p, err := h.svc.GetProtocol(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateProtocol(c echo.Context) error {
	var p Protocol
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateProtocol(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateProtocol(c echo.Context) error {
	var p Protocol
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = c.Param("id")
	if err := h.svc.UpdateProtocol(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProtocol(c echo.Context) error {
	if err := h.svc.DeleteProtocol(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddProtocolStep(c echo.Context) error {
	var step ProtocolStep
	if err := c.Bind(&step); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.AddProtocolStep(c.Request().Context(), c.Param("id"), step)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RemoveProtocolStep(c echo.Context) error {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid step number")
	}
	p, err := h.svc.RemoveProtocolStep(c.Request().Context(), c.Param("id"), n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	doctors, err := h.svc.ListDoctors(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if doctors == nil {
		doctors = []*Doctor{}
	}
	return c.JSON(http.StatusOK, doctors)
}

func (h *Handler) AddDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddDoctor(c.Request().Context(), d.Name); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	if err := h.svc.DeleteDoctor(c.Request().Context(), c.Param("name")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
