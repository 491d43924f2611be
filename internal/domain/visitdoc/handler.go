package visitdoc

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nidaan/triage/internal/platform/auth"
	"github.com/nidaan/triage/internal/platform/blobstore"
	"github.com/nidaan/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse))
	read.GET("/visits", h.List)
	read.GET("/visits/:id", h.Get)
	read.GET("/visits/:id/status", h.Status)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
	write.POST("/visits", h.Create)
	write.POST("/visits/:id/audio", h.UploadAudio)
	write.POST("/visits/:id/process", h.Process)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.CreateVisit(c.Request().Context(), auth.ClinicOf(c), req)
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), auth.ClinicOf(c), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Visit{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	v, err := h.svc.Get(c.Request().Context(), auth.ClinicOf(c), c.Param("id"))
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Status(c echo.Context) error {
	st, err := h.svc.Status(c.Request().Context(), auth.ClinicOf(c), c.Param("id"))
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// UploadAudio accepts a multipart "audio" file or a raw request body.
func (h *Handler) UploadAudio(c echo.Context) error {
	var (
		name, contentType string
		body              io.Reader
	)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("audio")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot read audio file")
		}
		defer f.Close()
		name, contentType, body = fh.Filename, fh.Header.Get(echo.HeaderContentType), f
	} else {
		name = c.QueryParam("file_name")
		if name == "" {
			name = "recording"
		}
		contentType, body = c.Request().Header.Get(echo.HeaderContentType), c.Request().Body
	}

	v, err := h.svc.AttachAudio(c.Request().Context(), auth.ClinicOf(c), c.Param("id"), name, contentType, body)
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusAccepted, v.View())
}

type processRequest struct {
	AudioRef string `json:"audio_ref"`
}

func (h *Handler) Process(c echo.Context) error {
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.StartProcessing(c.Request().Context(), auth.ClinicOf(c), c.Param("id"), req.AudioRef)
	if err != nil {
		return visitError(err)
	}
	return c.JSON(http.StatusAccepted, v.View())
}

func visitError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPatientRequired), errors.Is(err, ErrNoAudio),
		errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrEmptyContent):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrVisitFinished), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
