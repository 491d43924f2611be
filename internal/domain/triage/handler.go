package triage

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nidaan/triage/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse, auth.RoleFrontDesk))
	read.GET("/triage/queue", h.GetQueue)
	read.GET("/triage/levels", h.ListLevels)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse))
	write.POST("/triage/queue/:case_id/seen", h.MarkSeen)
}

func (h *Handler) GetQueue(c echo.Context) error {
	st, err := h.svc.Status(c.Request().Context(), auth.ClinicOf(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListLevels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"levels": Levels})
}

func (h *Handler) MarkSeen(c echo.Context) error {
	caseID := c.Param("case_id")
	if caseID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "case_id is required")
	}
	if err := h.svc.MarkSeen(c.Request().Context(), caseID); err != nil {
		if errors.Is(err, ErrNotQueued) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
