package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"market-signal-engine-go/internal/backtest"
	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/scanner"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Alerts is the scanner surface served by the API.
type Alerts interface {
	ActiveAlerts() []models.AutoAlert
	Alerts(f scanner.AlertFilter) []models.AutoAlert
	DeactivateAlert(ctx context.Context, id string) (models.AutoAlert, error)
	RequestScan(ctx context.Context, assetClass string, force bool) (scanner.ScanReport, error)
	Status(assetClass string) (scanner.Status, error)
}

// Backtester runs single and batch backtests.
type Backtester interface {
	Run(ctx context.Context, symbol string, cfg models.StrategyConfig, periodDays int) (models.BacktestResult, error)
	RunMultiSymbol(ctx context.Context, symbols []string, cfg models.StrategyConfig, periodDays int) (backtest.BatchResult, error)
}

// KeyUsage reports provider key consumption.
type KeyUsage interface {
	UsageStatistics() keypool.Stats
}

// Handler holds dependencies for the API endpoints.
type Handler struct {
	alerts   Alerts
	backtest Backtester
	keys     KeyUsage
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(alerts Alerts, bt Backtester, keys KeyUsage, logger *zap.Logger) *Handler {
	return &Handler{
		alerts:   alerts,
		backtest: bt,
		keys:     keys,
		validate: validator.New(),
		logger:   logger.Named("api"),
	}
}

// RegisterRoutes mounts the /api group on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/alerts", h.ListAlerts)
	g.POST("/alerts/:id/deactivate", h.DeactivateAlert)
	g.POST("/scan/:class", h.RequestScan)
	g.GET("/scan/:class", h.ScanStatus)
	g.POST("/backtest", h.RunBacktest)
	g.POST("/backtest/batch", h.RunBatch)
	g.GET("/keys/stats", h.KeyStats)
	g.GET("/strategies", h.Strategies)
}

// BacktestRequest is the body of POST /api/backtest.
type BacktestRequest struct {
	Symbol   string                `json:"symbol" validate:"required"`
	Strategy models.StrategyConfig `json:"strategy"`
	Days     int                   `json:"days" validate:"gt=0,lte=3650"`
}

// BatchRequest is the body of POST /api/backtest/batch.
type BatchRequest struct {
	Symbols  []string              `json:"symbols" validate:"required,min=1,dive,required"`
	Strategy models.StrategyConfig `json:"strategy"`
	Days     int                   `json:"days" validate:"gt=0,lte=3650"`
	SortBy   string                `json:"sort_by"`
	Desc     bool                  `json:"desc"`
}

func (h *Handler) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return h.validate.StructCtx(c.Request().Context(), req)
}

// ListAlerts returns active alerts by default. The status query parameter
// selects active, inactive or all; asset_class, symbol and min_priority
// narrow the result further.
func (h *Handler) ListAlerts(c echo.Context) error {
	f := scanner.AlertFilter{
		AssetClass:  c.QueryParam("asset_class"),
		Symbol:      c.QueryParam("symbol"),
		MinPriority: models.Priority(c.QueryParam("min_priority")),
	}
	switch c.QueryParam("status") {
	case "", "active":
		active := true
		f.Active = &active
	case "inactive":
		active := false
		f.Active = &active
	case "all":
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "status must be one of: active, inactive, all"})
	}

	if f.Active != nil && *f.Active && f.AssetClass == "" && f.Symbol == "" && f.MinPriority == "" {
		return c.JSON(http.StatusOK, h.alerts.ActiveAlerts())
	}
	return c.JSON(http.StatusOK, h.alerts.Alerts(f))
}

// DeactivateAlert soft-deletes one alert.
func (h *Handler) DeactivateAlert(c echo.Context) error {
	a, err := h.alerts.DeactivateAlert(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// RequestScan scans one asset class. force=true bypasses the cooldown.
func (h *Handler) RequestScan(c echo.Context) error {
	force := false
	if v := c.QueryParam("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "force must be a boolean"})
		}
		force = b
	}
	report, err := h.alerts.RequestScan(c.Request().Context(), c.Param("class"), force)
	var failed *scanner.ScanFailedError
	if errors.As(err, &failed) {
		return h.writeScanFailure(c, failed, &report)
	}
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// ScanStatus reports the scan state and cooldown of one asset class.
func (h *Handler) ScanStatus(c echo.Context) error {
	st, err := h.alerts.Status(c.Param("class"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// RunBacktest backtests one symbol.
func (h *Handler) RunBacktest(c echo.Context) error {
	var req BacktestRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	res, err := h.backtest.Run(c.Request().Context(), req.Symbol, req.Strategy, req.Days)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RunBatch backtests several symbols, returning partial results alongside
// the symbols that failed.
func (h *Handler) RunBatch(c echo.Context) error {
	var req BatchRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}
	// Reject an unknown sort field before spending provider quota.
	if req.SortBy != "" {
		if err := backtest.SortResults(nil, req.SortBy, req.Desc); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}

	batch, err := h.backtest.RunMultiSymbol(c.Request().Context(), req.Symbols, req.Strategy, req.Days)
	if err != nil {
		return h.writeError(c, err)
	}
	if req.SortBy != "" {
		_ = backtest.SortResults(batch.Results, req.SortBy, req.Desc)
	}
	return c.JSON(http.StatusOK, batch)
}

// KeyStats returns provider key usage.
func (h *Handler) KeyStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.keys.UsageStatistics())
}

// Strategies lists the backtest catalog with default parameters.
func (h *Handler) Strategies(c echo.Context) error {
	return c.JSON(http.StatusOK, backtest.Catalog())
}
