package notification

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler exposes notification operations over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates a Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers the notification routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/notifications", h.HandleSend)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

type sendRequest struct {
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Priority  string            `json:"priority"`
	SendAt    *time.Time        `json:"send_at"`
	Metadata  map[string]string `json:"metadata"`
}

// HandleSend sends a notification now, or schedules it when send_at is in
// the future.
func (h *Handler) HandleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ch, err := ParseChannel(req.Channel)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n := &Notification{
		Channel:   ch,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
		Priority:  req.Priority,
		Metadata:  req.Metadata,
	}

	ctx := c.Request().Context()
	if req.SendAt != nil && req.SendAt.After(time.Now()) {
		n.SendAt = *req.SendAt
		if err := h.manager.Schedule(ctx, n); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusAccepted, n)
	}
	if err := h.manager.Send(ctx, n); err != nil && n.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// A delivery failure is reported through the notification's status.
	return c.JSON(http.StatusCreated, n)
}

// HandleGet returns one notification.
func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleList lists notifications for ?recipient=.
func (h *Handler) HandleList(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient query parameter is required")
	}
	return c.JSON(http.StatusOK, h.manager.ListByRecipient(c.Request().Context(), recipient, 100))
}

// HandleRetry re-sends a failed notification.
func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	err := h.manager.Retry(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	n, _ := h.manager.Get(c.Request().Context(), id)
	if err != nil && n != nil && n.Status != StatusFailed {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleStats returns counts by status.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}
