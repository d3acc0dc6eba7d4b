// Package backtest replays daily price series against catalog strategies and
// reports trade logs with performance statistics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/metrics"
	"market-signal-engine-go/internal/models"

	"go.uber.org/zap"
)

const (
	exitSignal    = "signal"
	exitEndOfData = "end_of_data"
)

// HistoryFetcher supplies the series a replay runs over.
type HistoryFetcher interface {
	FetchHistorical(ctx context.Context, symbol string, days int) (models.PriceSeries, error)
}

// SymbolFailure is one symbol that could not be backtested in a batch.
type SymbolFailure struct {
	Symbol  string `json:"symbol"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func symbolFailure(symbol string, err error) SymbolFailure {
	f := SymbolFailure{Symbol: symbol, Error: err.Error(), Message: err.Error(), Err: err}
	var all *gateway.AllProvidersFailedError
	if errors.As(err, &all) {
		f.Message = all.UserMessage()
	}
	return f
}

// BatchResult carries the successful replays of a batch and the symbols that
// failed. len(Results)+len(Failures) equals the number of symbols requested.
type BatchResult struct {
	Results  []models.BacktestResult `json:"results"`
	Failures []SymbolFailure         `json:"failures"`
}

// Engine runs backtests. It keeps no state between replays, so concurrent
// Run calls are independent.
type Engine struct {
	history        HistoryFetcher
	periodsPerYear float64
	initialEquity  float64
	logger         *zap.Logger
	metrics        *metrics.Recorder
}

// NewEngine creates an engine fetching history through h.
func NewEngine(h HistoryFetcher, cfg config.Backtest, logger *zap.Logger, m *metrics.Recorder) (*Engine, error) {
	if cfg.PositionSizing != "" && cfg.PositionSizing != "whole" {
		return nil, fmt.Errorf("unsupported position sizing %q", cfg.PositionSizing)
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 365
	}
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	return &Engine{
		history:        h,
		periodsPerYear: cfg.PeriodsPerYear,
		initialEquity:  cfg.InitialEquity,
		logger:         logger.Named("backtest"),
		metrics:        m,
	}, nil
}

// Run backtests one symbol over the last periodDays daily bars. Strategy
// configuration errors are returned before any data is fetched.
func (e *Engine) Run(ctx context.Context, symbol string, cfg models.StrategyConfig, periodDays int) (models.BacktestResult, error) {
	strategy, err := NewStrategy(cfg)
	if err != nil {
		return models.BacktestResult{}, err
	}
	if periodDays <= 0 {
		return models.BacktestResult{}, fmt.Errorf("%w: period must be positive, got %d", ErrInvalidStrategy, periodDays)
	}
	return e.run(ctx, symbol, strategy, periodDays)
}

func (e *Engine) run(ctx context.Context, symbol string, strategy Strategy, periodDays int) (models.BacktestResult, error) {
	series, err := e.history.FetchHistorical(ctx, symbol, periodDays)
	if err != nil {
		e.metrics.RecordBacktest(strategy.Name(), "failed")
		return models.BacktestResult{}, fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}
	result := e.Replay(symbol, strategy, series)
	e.metrics.RecordBacktest(strategy.Name(), "ok")
	e.logger.Debug("Backtest finished",
		zap.String("symbol", symbol),
		zap.String("strategy", strategy.Name()),
		zap.Int("bars", len(series)),
		zap.Int("trades", result.TotalTrades),
		zap.Float64("total_return_percent", result.TotalReturnPercent),
	)
	return result, nil
}

// RunMultiSymbol backtests symbols one after another so they share provider
// quota politely. A failing symbol is reported in Failures and does not stop
// the batch; an invalid strategy or a cancelled context does.
func (e *Engine) RunMultiSymbol(ctx context.Context, symbols []string, cfg models.StrategyConfig, periodDays int) (BatchResult, error) {
	batch := BatchResult{Results: []models.BacktestResult{}, Failures: []SymbolFailure{}}
	strategy, err := NewStrategy(cfg)
	if err != nil {
		return batch, err
	}
	if periodDays <= 0 {
		return batch, fmt.Errorf("%w: period must be positive, got %d", ErrInvalidStrategy, periodDays)
	}

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		result, err := e.run(ctx, symbol, strategy, periodDays)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return batch, err
			}
			e.logger.Warn("Backtest failed for symbol", zap.String("symbol", symbol), zap.Error(err))
			batch.Failures = append(batch.Failures, symbolFailure(symbol, err))
			continue
		}
		batch.Results = append(batch.Results, result)
	}
	return batch, nil
}

// Replay runs strategy over series with a single long position sized to the
// whole equity. Entries and exits fill at the close of the signalling bar.
func (e *Engine) Replay(symbol string, strategy Strategy, series models.PriceSeries) models.BacktestResult {
	result := models.BacktestResult{
		Symbol:       symbol,
		StrategyName: strategy.Name(),
		Trades:       []models.Trade{},
		FinalEquity:  e.initialEquity,
	}
	if len(series) == 0 {
		return result
	}
	result.StartDate = series[0].Timestamp
	result.EndDate = series[len(series)-1].Timestamp

	actions := strategy.Signals(series)
	curve := make([]float64, 0, len(series))

	cash := e.initialEquity
	var (
		open       bool
		entryPrice float64
		entryTime  = series[0].Timestamp
	)
	closeTrade := func(p models.PricePoint, reason string) {
		pnl := (p.Close - entryPrice) / entryPrice * float64(models.SideLong)
		cash *= 1 + pnl
		result.Trades = append(result.Trades, models.Trade{
			EntryTime:  entryTime,
			ExitTime:   p.Timestamp,
			EntryPrice: entryPrice,
			ExitPrice:  p.Close,
			Side:       models.SideLong,
			PnLPercent: pnl * 100,
			ExitReason: reason,
		})
		open = false
	}

	for i, p := range series {
		switch {
		case !open && actions[i] == Enter:
			open, entryPrice, entryTime = true, p.Close, p.Timestamp
		case open && actions[i] == Exit:
			closeTrade(p, exitSignal)
		}
		equity := cash
		if open {
			equity = cash * p.Close / entryPrice
		}
		curve = append(curve, equity)
	}
	if open {
		closeTrade(series[len(series)-1], exitEndOfData)
	}

	result.EquityCurve = curve
	result.FinalEquity = cash
	e.summarize(&result)
	return result
}

func (e *Engine) summarize(r *models.BacktestResult) {
	r.TotalTrades = len(r.Trades)
	r.TotalReturnPercent = (r.FinalEquity/e.initialEquity - 1) * 100

	if r.TotalTrades > 0 {
		wins := 0
		sum := 0.0
		r.BestTrade, r.WorstTrade = math.Inf(-1), math.Inf(1)
		for _, t := range r.Trades {
			if t.PnLPercent > 0 {
				wins++
			}
			sum += t.PnLPercent
			r.BestTrade = math.Max(r.BestTrade, t.PnLPercent)
			r.WorstTrade = math.Min(r.WorstTrade, t.PnLPercent)
		}
		r.WinRate = 100 * float64(wins) / float64(r.TotalTrades)
		r.AvgTradeReturn = sum / float64(r.TotalTrades)
	}

	r.MaxDrawdown = maxDrawdown(r.EquityCurve)
	r.SharpeRatio = sharpe(r.EquityCurve, e.periodsPerYear)
}

// maxDrawdown is the largest peak-to-trough decline of curve, in percent.
func maxDrawdown(curve []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak*100)
		}
	}
	return worst
}

// sharpe annualizes mean/stdev of per-bar returns. A flat curve yields 0.
func sharpe(curve []float64, periodsPerYear float64) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			continue
		}
		returns = append(returns, curve[i]/curve[i-1]-1)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(variance / float64(len(returns)))
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	s := mean / sd * math.Sqrt(periodsPerYear)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}
