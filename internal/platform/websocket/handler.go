package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var pongFrame = []byte(`{"type":"pong"}`)

// ClinicResolver returns the clinic id the caller is authorised for, or ""
// when the request carries no clinic claim. Callers without a claim cannot
// subscribe.
type ClinicResolver func(c echo.Context) string

// Handler upgrades HTTP requests and attaches the connection to the hub.
type Handler struct {
	hub      *Hub
	clinicOf ClinicResolver
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a handler bound to hub. allowedOrigins empty allows any
// origin.
func NewHandler(hub *Hub, clinicOf ClinicResolver, allowedOrigins []string, logger zerolog.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:      hub,
		clinicOf: clinicOf,
		logger:   logger.With().Str("component", "ws").Logger(),
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

// RegisterRoutes registers the subscription endpoint.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws/:clinic", h.HandleConnect)
}

// HandleConnect subscribes the connection to the clinic group in the path.
func (h *Handler) HandleConnect(c echo.Context) error {
	clinic := c.Param("clinic")
	if clinic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic is required")
	}
	if h.clinicOf != nil {
		claimed := h.clinicOf(c)
		if claimed == "" {
			return echo.NewHTTPError(http.StatusForbidden, "clinic claim required")
		}
		if claimed != clinic {
			return echo.NewHTTPError(http.StatusForbidden, "clinic id mismatch")
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.New().String(), clinic)
	h.hub.Subscribe(client)
	h.logger.Info().Str("clinic", clinic).Str("client", client.ID).Msg("subscriber connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unsubscribe(client)
		ws.Close()
		h.logger.Info().Str("clinic", client.Group).Str("client", client.ID).Msg("subscriber disconnected")
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if string(message) == "ping" {
			client.trySend(pongFrame)
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
