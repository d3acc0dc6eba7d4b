package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"market-signal-engine-go/internal/backtest"
	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/database"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/metrics"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/provider"
	"market-signal-engine-go/internal/scanner"
	"market-signal-engine-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// market serves canned quotes and daily series; offline symbols fail as if
// no provider could be reached and other unknown symbols fail the way a
// rate-limited provider chain does.
type market struct {
	quotes  map[string]models.Quote
	series  map[string]models.PriceSeries
	offline map[string]bool
}

func rateLimited(symbol, op string) error {
	return &gateway.AllProvidersFailedError{
		Symbol:    symbol,
		Operation: op,
		Failures: []gateway.ProviderFailure{
			{Provider: "alphavantage", Reason: gateway.ReasonRateLimited, Err: provider.ErrRateLimited},
		},
	}
}

func unreachable(symbol, op string) error {
	return &gateway.AllProvidersFailedError{
		Symbol:    symbol,
		Operation: op,
		Failures: []gateway.ProviderFailure{
			{Provider: "binance", Reason: gateway.ReasonUnavailable, Err: provider.ErrUnavailable},
			{Provider: "coingecko", Reason: gateway.ReasonUnavailable, Err: provider.ErrUnavailable},
		},
	}
}

func (m *market) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if m.offline[symbol] {
		return models.Quote{}, unreachable(symbol, "quote")
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return models.Quote{}, rateLimited(symbol, "quote")
	}
	return q, nil
}

func (m *market) FetchHistorical(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	if m.offline[symbol] {
		return nil, unreachable(symbol, "historical")
	}
	s, ok := m.series[symbol]
	if !ok {
		return nil, rateLimited(symbol, "historical")
	}
	if len(s) > days {
		s = s[len(s)-days:]
	}
	return s, nil
}

func trending(n int) models.PriceSeries {
	out := make(models.PriceSeries, n)
	for i := range out {
		c := 100 + 2*float64(i)
		if i >= 60 {
			c = 218 - 4*float64(i-59)
		}
		out[i] = models.PricePoint{
			Timestamp: t0.AddDate(0, 0, i-n),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return out
}

type fixture struct {
	server  *APIServer
	clock   *clock.Fake
	scanner *scanner.Scanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clock.NewFake(t0)
	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)
	st := store.NewGormStore(db)

	data := &market{
		quotes: map[string]models.Quote{
			"BTC": {Symbol: "BTC", Price: 65000, ChangePercent: 12, Volume: 2e9, MarketCap: 5e11},
		},
		series: map[string]models.PriceSeries{
			"BTC": trending(90),
			"ETH": trending(90),
		},
		offline: map[string]bool{"EURUSD": true, "GBPUSD": true},
	}

	sc, err := scanner.New(config.Scanner{
		Cooldown:       5 * time.Minute,
		Interval:       15 * time.Minute,
		AlertThreshold: 0.65,
		Universe:       map[string][]string{"crypto": {"BTC"}, "stocks": {"AAPL"}, "forex": {"EURUSD", "GBPUSD"}},
	}, data, st, log, scanner.WithClock(fc), scanner.WithMetrics(rec))
	require.NoError(t, err)

	engine, err := backtest.NewEngine(data, config.Backtest{}, log, rec)
	require.NoError(t, err)

	pool, err := keypool.NewPool([]models.ProviderCredential{
		{ID: "av-1", ProviderName: "alphavantage", DailyLimit: 25},
	}, log, keypool.WithClock(fc))
	require.NoError(t, err)

	h := NewHandler(sc, engine, pool, log)
	return &fixture{server: NewAPIServer(h, 0, reg, log), clock: fc, scanner: sc}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestScanAndAlerts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scan/crypto", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report scanner.ScanReport
	decode(t, rec, &report)
	assert.Equal(t, 1, report.Created)

	rec = f.do(t, http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.AutoAlert
	decode(t, rec, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, "BTC", alerts[0].Symbol)

	rec = f.do(t, http.MethodPost, "/api/alerts/"+alerts[0].ID+"/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/alerts", "")
	decode(t, rec, &alerts)
	assert.Empty(t, alerts)

	rec = f.do(t, http.MethodGet, "/api/alerts?status=inactive&symbol=btc", "")
	decode(t, rec, &alerts)
	assert.Len(t, alerts, 1)
}

func TestScan_CooldownIs429(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/scan/crypto", "").Code)

	f.clock.Advance(2 * time.Minute)
	rec := f.do(t, http.MethodPost, "/api/scan/crypto", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, int64(3*60*1000), body.RemainingMs)

	rec = f.do(t, http.MethodGet, "/api/scan/crypto", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st scanner.Status
	decode(t, rec, &st)
	assert.Equal(t, scanner.StateCoolingDown, st.State)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/scan/crypto?force=true", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/scan/crypto?force=maybe", "").Code)
}

func TestScan_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/scan/bonds", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/alerts/nope/deactivate", "").Code)

}

func TestScan_AllSymbolsRateLimited(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scan/stocks", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "rate limited: every provider is out of quota for stocks, try again later", body.Message)
	require.NotNil(t, body.Report)
	assert.Equal(t, "stocks", body.Report.AssetClass)
	require.Len(t, body.Report.Failures, 1)
	assert.Equal(t, "AAPL", body.Report.Failures[0].Symbol)
	assert.Contains(t, body.Report.Failures[0].Message, "rate limited")

	// A failed scan leaves the cooldown unset.
	st, err := f.scanner.Status("stocks")
	require.NoError(t, err)
	assert.Nil(t, st.LastScan)
}

func TestScan_AllSymbolsUnavailable(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scan/forex", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "network unavailable: market data for forex could not be reached", body.Message)
	require.NotNil(t, body.Report)
	require.Len(t, body.Report.Failures, 2)
	for _, fail := range body.Report.Failures {
		assert.Contains(t, fail.Message, "network unavailable")
	}
}

func TestBacktest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/backtest",
		`{"symbol":"BTC","strategy":{"name":"SMA-Cross","parameters":{"fast":10,"slow":30}},"days":90}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res models.BacktestResult
	decode(t, rec, &res)
	assert.Equal(t, "SMA-Cross", res.StrategyName)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 158.0, res.Trades[0].EntryPrice)
}

func TestBacktest_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/backtest", `{"strategy":{"name":"SMA-Cross"},"days":90}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backtest", `{"symbol":"BTC","strategy":{"name":"Moon"},"days":90}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backtest",
		`{"symbol":"BTC","strategy":{"name":"SMA-Cross","parameters":{"fast":30,"slow":10}},"days":90}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backtest", `{"symbol":"DOGE","strategy":{"name":"SMA-Cross"},"days":90}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body errorResponse
	decode(t, rec, &body)
	assert.Contains(t, body.Error, "rate limited")
}

func TestBacktestBatch_PartialFailure(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/backtest/batch",
		`{"symbols":["BTC","DOGE","ETH"],"strategy":{"name":"SMA-Cross"},"days":90,"sort_by":"symbol","desc":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch backtest.BatchResult
	decode(t, rec, &batch)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "ETH", batch.Results[0].Symbol)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "DOGE", batch.Failures[0].Symbol)

	rec = f.do(t, http.MethodPost, "/api/backtest/batch",
		`{"symbols":["BTC"],"strategy":{"name":"SMA-Cross"},"days":90,"sort_by":"luck"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeysStrategiesHealthMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/keys/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats keypool.Stats
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalKeys)
	assert.Equal(t, 25, stats.AvailableRequests)

	rec = f.do(t, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var defs []backtest.Definition
	decode(t, rec, &defs)
	assert.Len(t, defs, 5)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/scan/crypto", "").Code)
	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `signals_scanner_scans_total{asset_class="crypto",outcome="completed"} 1`)
}
