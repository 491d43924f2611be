package followup

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nidaan/triage/internal/platform/auth"
	"github.com/nidaan/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse, auth.RoleFrontDesk))
	read.GET("/followups", h.List)
	read.GET("/followups/pending", h.ListPending)
	read.GET("/followups/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse))
	write.POST("/followups/:id/responses", h.RecordResponse)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), auth.ClinicOf(c), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Plan{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPending(c echo.Context) error {
	items, err := h.svc.Pending(c.Request().Context(), auth.ClinicOf(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pending": items, "total": len(items)})
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return planError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type responseRequest struct {
	Response string `json:"response"`
}

func (h *Handler) RecordResponse(c echo.Context) error {
	var req responseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, a, err := h.svc.RecordResponse(c.Request().Context(), c.Param("id"), req.Response)
	if err != nil {
		return planError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"plan":     p,
		"analysis": a,
	})
}

func planError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyResponse):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPlanClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
