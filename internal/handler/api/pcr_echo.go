package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"PCRPull/internal/domain/models"
	"PCRPull/internal/usecase"
	xhttp "PCRPull/pkg/http"
	"PCRPull/pkg/http/middleware"
	xlogger "PCRPull/pkg/logger"
	xutil "PCRPull/pkg/util"
)

// PCREchoHandler exposes snapshot collection and windowed PCR queries over HTTP.
type PCREchoHandler struct {
	logger  *xlogger.Logger
	svc     *usecase.SnapshotService
	limiter *middleware.Limiter
}

// HandlerOption customizes a PCREchoHandler.
type HandlerOption func(*PCREchoHandler)

// WithWriteLimiter rate limits the mutating routes per client IP.
func WithWriteLimiter(l *middleware.Limiter) HandlerOption {
	return func(h *PCREchoHandler) { h.limiter = l }
}

func NewPCREchoHandler(logger *xlogger.Logger, svc *usecase.SnapshotService, opts ...HandlerOption) *PCREchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &PCREchoHandler{logger: logger, svc: svc}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *PCREchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/pcr")
	g.GET("/historical", h.Historical)
	g.GET("/latest", h.Latest)
	g.GET("/stats", h.Stats)

	var write []echo.MiddlewareFunc
	if h.limiter != nil {
		write = append(write, middleware.RateLimit(h.limiter))
	}
	g.POST("/snapshots", h.Append, write...)
	g.DELETE("/snapshots", h.Clear, write...)
}

// Historical answers GET /api/pcr/historical?symbol=NIFTY&windows=5,15,30.
func (h *PCREchoHandler) Historical(c echo.Context) error {
	req := &models.HistoricalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	windows, err := xutil.ParseIntList(req.Windows)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.ValidationFailed("windows", "windows must be a comma separated list of minutes").WithError(err))
	}

	report, err := h.svc.Historical(c.Request().Context(), req.Symbol, windows)
	if err != nil {
		return h.fail(c, "historical pcr", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, report)
}

func (h *PCREchoHandler) Latest(c echo.Context) error {
	req := &models.LatestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.svc.Latest(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "latest pcr", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *PCREchoHandler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, "snapshot stats", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *PCREchoHandler) Append(c echo.Context) error {
	req := &models.AppendRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, err := h.svc.Record(c.Request().Context(), models.SnapshotInput{Symbol: req.Symbol, PCR: req.PCR})
	if err != nil {
		return h.fail(c, "append snapshot", err)
	}
	return xhttp.CreatedResponse(c, snap)
}

// Clear answers DELETE /api/pcr/snapshots; without ?symbol= it wipes the whole history.
func (h *PCREchoHandler) Clear(c echo.Context) error {
	req := &models.ClearRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.svc.Clear(c.Request().Context(), strings.TrimSpace(req.Symbol)); err != nil {
		return h.fail(c, "clear snapshots", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *PCREchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return xhttp.ValidationFailed(verr.Field, verr.Message).WithError(err)
	case errors.Is(err, models.ErrNoData):
		return xhttp.NotFoundErrorf("no PCR data collected for symbol").WithError(err)
	case errors.Is(err, models.ErrPersistence):
		return xhttp.InternalError("snapshot history could not be saved").WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}
