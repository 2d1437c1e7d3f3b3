package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/service/ratelimit"
	"FinScan/internal/usecase"
	pkgcache "FinScan/pkg/cache"
	xhttp "FinScan/pkg/http"
	applogger "FinScan/pkg/logger"
)

// Handler serves the read API over the signal and candle stores. Writes
// happen only through the pipeline; every endpoint here is a query.
type Handler struct {
	signals *usecase.SignalsUseCase
	candles *usecase.CandlesUseCase
	l       *applogger.Logger

	cache  pkgcache.Service
	rl     *ratelimit.Limiter
	health func(ctx context.Context) error
}

func NewHandler(signals *usecase.SignalsUseCase, candles *usecase.CandlesUseCase, l *applogger.Logger) *Handler {
	return &Handler{signals: signals, candles: candles, l: l}
}

// SetCache enables response caching for hot queries.
func (h *Handler) SetCache(c pkgcache.Service) { h.cache = c }

// SetRateLimiter enables per-remote rate limiting.
func (h *Handler) SetRateLimiter(rl *ratelimit.Limiter) { h.rl = rl }

// SetHealthCheck wires the storage ping behind /healthz.
func (h *Handler) SetHealthCheck(fn func(ctx context.Context) error) { h.health = fn }

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api/v1")
	g.GET("/signals", h.Signals)
	g.GET("/outcomes/:signal_id", h.Outcomes)
	g.GET("/candles", h.Candles)
}

func (h *Handler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health(c.Request().Context()); err != nil {
			h.l.Error("health check failed", applogger.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Signals(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "signals") {
		return xhttp.TooManyRequestsResponse(c)
	}

	var since time.Time
	if req.Since != "" {
		t, ok := xhttp.ParseTime(req.Since)
		if !ok {
			return xhttp.BadRequestResponse(c, xhttp.BadRequestError("since must be RFC3339 or unix seconds"))
		}
		since = t
	}

	key := pkgcache.GenerateKeyWithParams("signals", req.Symbol, req.Timeframe, req.Since, req.Limit)
	if b, ok := h.cached(c.Request().Context(), key); ok {
		return xhttp.SuccessResponse(c, json.RawMessage(b))
	}

	res, err := h.signals.GetSignals(c.Request().Context(), usecase.GetSignalsParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.Timeframe(req.Timeframe),
		Since:     since,
		Limit:     req.Limit,
	})
	if err != nil {
		h.l.Error("get signals failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	view := signalsView{Count: res.Count, Signals: make([]signalView, 0, len(res.Signals))}
	for _, s := range res.Signals {
		view.Signals = append(view.Signals, toSignalView(s))
	}
	return h.respond(c, key, view, 5*time.Second)
}

func (h *Handler) Outcomes(c echo.Context) error {
	req := &models.OutcomesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "outcomes") {
		return xhttp.TooManyRequestsResponse(c)
	}

	res, err := h.signals.GetOutcomes(c.Request().Context(), req.SignalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %s not found", req.SignalID))
		}
		h.l.Error("get outcomes failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	view := outcomesView{Signal: toSignalView(res.Signal), Outcomes: make([]outcomeView, 0, len(res.Outcomes))}
	for _, o := range res.Outcomes {
		view.Outcomes = append(view.Outcomes, toOutcomeView(o))
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *Handler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "candles") {
		return xhttp.TooManyRequestsResponse(c)
	}

	var from, to time.Time
	if req.From != "" {
		t, ok := xhttp.ParseTime(req.From)
		if !ok {
			return xhttp.BadRequestResponse(c, xhttp.BadRequestError("from must be RFC3339 or unix seconds"))
		}
		from = t
	}
	if req.To != "" {
		t, ok := xhttp.ParseTime(req.To)
		if !ok {
			return xhttp.BadRequestResponse(c, xhttp.BadRequestError("to must be RFC3339 or unix seconds"))
		}
		to = t
	}

	key := pkgcache.GenerateKeyWithParams("candles", req.Symbol, req.Timeframe, req.From, req.To, req.Limit)
	if b, ok := h.cached(c.Request().Context(), key); ok {
		return xhttp.SuccessResponse(c, json.RawMessage(b))
	}

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.Timeframe(req.Timeframe),
		From:      from,
		To:        to,
		Limit:     req.Limit,
	})
	if err != nil {
		h.l.Error("get candles failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	view := candlesView{
		Symbol:    res.Symbol,
		Timeframe: res.Timeframe,
		Count:     res.Count,
		Candles:   make([]candleView, 0, len(res.Candles)),
	}
	for _, bar := range res.Candles {
		view.Candles = append(view.Candles, toCandleView(bar))
	}
	return h.respond(c, key, view, 15*time.Second)
}

// allow consumes one rate-limit token for the calling remote, keyed per
// endpoint so a hot candle poller cannot starve the signals feed.
func (h *Handler) allow(c echo.Context, endpoint string) bool {
	if h.rl == nil {
		return true
	}
	if h.rl.Allow(c.RealIP() + ":" + endpoint) {
		return true
	}
	h.l.Warn("request rate limited",
		applogger.String("remote", c.RealIP()),
		applogger.String("endpoint", endpoint),
	)
	return false
}

func (h *Handler) cached(ctx context.Context, key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	var b []byte
	err := h.cache.Get(ctx, key, &b)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			h.l.Warn("cache get failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	return b, true
}

// respond serializes the view once, feeding both the response envelope and
// the byte cache so hits and misses return identical payloads.
func (h *Handler) respond(c echo.Context, key string, view interface{}, ttl time.Duration) error {
	b, err := json.Marshal(view)
	if err != nil {
		h.l.Error("encode response failed", applogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	if h.cache != nil {
		if err := h.cache.Set(c.Request().Context(), key, b, ttl); err != nil {
			h.l.Warn("cache set failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, json.RawMessage(b))
}
