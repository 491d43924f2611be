package intake

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
	g := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse, auth.RoleFrontDesk))
	g.GET("/cases", h.ListCases)
	g.GET("/cases/:id", h.GetCase)
	g.GET("/cases/:id/runs", h.ListCaseRuns)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
	g.GET("/agents/status", h.AgentStatus)
	g.POST("/cases", h.CreateCase)
	g.POST("/cases/:id/cancel", h.CancelCase)
	g.POST("/analyze", h.Analyze)
}

func (h *Handler) CreateCase(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cs, run, err := h.svc.Submit(c.Request().Context(), auth.ClinicOf(c), req)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"case":     cs,
		"workflow": run,
	})
}

func (h *Handler) GetCase(c echo.Context) error {
	cs, err := h.svc.GetCase(c.Request().Context(), auth.ClinicOf(c), c.Param("id"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCases(c.Request().Context(), auth.ClinicOf(c), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return toHTTP(err)
	}
	if items == nil {
		items = []*Case{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CancelCase(c echo.Context) error {
	cs, err := h.svc.Cancel(c.Request().Context(), auth.ClinicOf(c), c.Param("id"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCaseRuns(c echo.Context) error {
	runs, err := h.svc.CaseRuns(c.Request().Context(), auth.ClinicOf(c), c.Param("id"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflows": runs})
}

func (h *Handler) ListRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRuns(c.Request().Context(), auth.ClinicOf(c), pg.Limit, pg.Offset)
	if err != nil {
		return toHTTP(err)
	}
	if items == nil {
		items = []*WorkflowRun{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.svc.GetRun(c.Request().Context(), auth.ClinicOf(c), c.Param("id"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) AgentStatus(c echo.Context) error {
	st, err := h.svc.AgentStatus(c.Request().Context(), auth.ClinicOf(c))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Analyze(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Analyze(req)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func toHTTP(err error) error {
	var inputErr *InputError
	var extErr *ExternalServiceError
	switch {
	case errors.As(err, &inputErr):
		return echo.NewHTTPError(http.StatusBadRequest, inputErr.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &extErr):
		return echo.NewHTTPError(http.StatusServiceUnavailable, extErr.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
