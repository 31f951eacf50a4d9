package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/service/metrics"
	"PriceCast/internal/service/ratelimit"
	"PriceCast/internal/usecase"
	xhttp "PriceCast/pkg/http"
	xlogger "PriceCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// ForecastAPI is the use case surface behind the HTTP endpoints.
type ForecastAPI interface {
	Forecast(ctx context.Context, cmd usecase.ForecastCommand) (*usecase.ForecastOutcome, error)
	Instruments() []models.InstrumentInfo
	Reload(ctx context.Context, instrument string) ([]string, error)
	History(ctx context.Context, instrument string, limit int) ([]models.ForecastEvent, error)
	Health(ctx context.Context) error
}

// ForecastEchoHandler serves the forecast API.
type ForecastEchoHandler struct {
	logger         *xlogger.Logger
	svc            ForecastAPI
	defaultHorizon int
	adminToken     string
	limiter        *ratelimit.Limiter
}

func NewForecastEchoHandler(logger *xlogger.Logger, svc ForecastAPI, defaultHorizon int, adminToken string) *ForecastEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ForecastEchoHandler{logger: logger, svc: svc, defaultHorizon: defaultHorizon, adminToken: adminToken}
}

// WithRateLimit limits forecast requests per client IP.
func (h *ForecastEchoHandler) WithRateLimit(l *ratelimit.Limiter) *ForecastEchoHandler {
	h.limiter = l
	return h
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	metrics.Register()

	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.POST("/forecast", h.Forecast, h.rateLimit)
	g.GET("/instruments", h.Instruments)
	g.GET("/forecasts/history", h.History)
	g.POST("/admin/reload", h.Reload)
}

func (h *ForecastEchoHandler) Forecast(c echo.Context) error {
	start := time.Now()
	defer observe("forecast", start)

	req := &models.ForecastHTTPRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		countError("forecast", "ERR_BAD_REQUEST")
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Horizon == nil {
		horizon := h.defaultHorizon
		req.Horizon = &horizon
	}

	out, err := h.svc.Forecast(c.Request().Context(), usecase.ForecastCommand{
		Instrument:      req.Instrument,
		AssetID:         req.AssetID,
		Principal:       req.Principal,
		TargetReturnPct: req.TargetReturnPct,
		Horizon:         *req.Horizon,
	})
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	return xhttp.SuccessResponse(c, out.Response())
}

func (h *ForecastEchoHandler) Instruments(c echo.Context) error {
	defer observe("instruments", time.Now())
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, h.svc.Instruments())
}

func (h *ForecastEchoHandler) History(c echo.Context) error {
	defer observe("history", time.Now())

	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		countError("history", "ERR_BAD_REQUEST")
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("limit must be in [1, %d]", maxHistoryLimit).WithParam("max", maxHistoryLimit))
	}
	events, err := h.svc.History(c.Request().Context(), c.QueryParam("instrument"), limit)
	if err != nil {
		return h.fail(c, "history", err)
	}
	return xhttp.ListResponse(c, events, int64(len(events)))
}

func (h *ForecastEchoHandler) Reload(c echo.Context) error {
	defer observe("reload", time.Now())
	if !h.authorized(c) {
		countError("reload", "ERR_UNAUTHORIZED")
		return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("admin token required"))
	}

	req := &models.ReloadHTTPRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		countError("reload", "ERR_BAD_REQUEST")
		return xhttp.BadRequestResponse(c, verr)
	}
	reloaded, err := h.svc.Reload(c.Request().Context(), req.Instrument)
	if err != nil {
		return h.fail(c, "reload", err)
	}
	return xhttp.SuccessResponse(c, models.ReloadHTTPResponse{Reloaded: reloaded})
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Health(ctx); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.ServiceUnavailableResponse(c, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *ForecastEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil {
			return next(c)
		}
		ip := c.RealIP()
		if h.limiter.Allow(ip) {
			return next(c)
		}
		wait := h.limiter.RetryAfter(ip)
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		countError("forecast", "ERR_RATE_LIMITED")
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many forecast requests"))
	}
}

// authorized accepts any caller when no admin token is configured.
func (h *ForecastEchoHandler) authorized(c echo.Context) bool {
	if h.adminToken == "" {
		return true
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	return strings.TrimPrefix(auth, "Bearer ") == h.adminToken
}

func (h *ForecastEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := ToAppError(err)
	countError(endpoint, appErr.Code)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" usecase error", xlogger.String("code", appErr.Code), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// ToAppError maps the domain error taxonomy onto HTTP errors. The kind is
// always attached as a param.
func ToAppError(err error) *xhttp.AppError {
	kind := models.ErrorKind(err)
	var appErr *xhttp.AppError
	switch kind {
	case models.KindInvalidRequest:
		appErr = xhttp.BadRequestError(err.Error())
	case models.KindUnknownInstrument, models.KindUnknownAsset:
		appErr = xhttp.NotFoundError(err.Error())
	case models.KindInsufficientHistory:
		appErr = xhttp.UnprocessableError(err.Error()).WithCode("ERR_INSUFFICIENT_HISTORY")
	case models.KindInvalidHorizon:
		appErr = xhttp.UnprocessableError(err.Error()).WithCode("ERR_INVALID_HORIZON")
	case models.KindPredictionDiverged, models.KindInvalidForecast, models.KindInvalidPriceSeries:
		appErr = xhttp.UnprocessableError(err.Error()).WithCode("ERR_FORECAST")
	case models.KindArtifactUnavailable, models.KindStoreUnavailable:
		appErr = xhttp.ServiceUnavailableError(err.Error())
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			appErr = xhttp.ServiceUnavailableError("forecast timed out")
		} else {
			appErr = xhttp.InternalError("Something went wrong")
		}
	}
	return appErr.WithError(err).WithParam("kind", kind)
}

func observe(endpoint string, start time.Time) {
	metrics.EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func countError(endpoint, code string) {
	metrics.EndpointErrors.WithLabelValues(endpoint, code).Inc()
}
