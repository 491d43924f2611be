package scheduling

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
	read.GET("/schedule/:date", h.GetDay)
	read.GET("/staff", h.ListStaff)
}

func (h *Handler) GetDay(c echo.Context) error {
	day, err := h.svc.Day(c.Request().Context(), c.Param("date"))
	if err != nil {
		if errors.Is(err, ErrInvalidDate) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, day)
}

func (h *Handler) ListStaff(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"staff": h.svc.Roster()})
}
