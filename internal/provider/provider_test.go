package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestServer starts a server answering every request with handler and
// returns a provider config pointing at it.
func setupTestServer(t *testing.T, handler http.HandlerFunc) config.Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return config.Provider{BaseURL: server.URL, Timeout: 2 * time.Second}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestBinance_Quote(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ticker/24hr", r.URL.Path)
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			writeJSON(w, http.StatusOK, `{"symbol":"BTCUSDT","lastPrice":"65000.10","priceChange":"-650.5","priceChangePercent":"-0.99","volume":"1200","quoteVolume":"78000000","closeTime":1767225600000}`)
		})

		q, err := NewBinance(cfg, zap.NewNop()).Quote(context.Background(), "btc", "")
		require.NoError(t, err)
		assert.Equal(t, "BTC", q.Symbol)
		assert.Equal(t, 65000.10, q.Price)
		assert.Equal(t, -650.5, q.Change)
		assert.Equal(t, -0.99, q.ChangePercent)
		assert.Equal(t, 78000000.0, q.Volume)
		assert.Equal(t, "binance", q.Source)
		assert.Equal(t, time.UnixMilli(1767225600000).UTC(), q.Timestamp)
	})

	t.Run("RateLimited", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`)
		})
		cfg.Retries = 2
		_, err := NewBinance(cfg, zap.NewNop()).Quote(context.Background(), "BTC", "")
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("UnknownSymbol", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, `{}`)
		})
		_, err := NewBinance(cfg, zap.NewNop()).Quote(context.Background(), "NOPE", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ServerErrorRetried", func(t *testing.T) {
		var calls int32
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				writeJSON(w, http.StatusInternalServerError, `{"code":-1001,"msg":"Internal error"}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"lastPrice":"1","priceChange":"0","priceChangePercent":"0","quoteVolume":"5","closeTime":0}`)
		})
		cfg.Retries = 1
		b := NewBinance(cfg, zap.NewNop())
		b.rest.backoff = time.Millisecond

		q, err := b.Quote(context.Background(), "ETH", "")
		require.NoError(t, err)
		assert.Equal(t, 1.0, q.Price)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("ServerErrorExhaustsRetries", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, `{}`)
		})
		_, err := NewBinance(cfg, zap.NewNop()).Quote(context.Background(), "ETH", "")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("MalformedNumber", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"lastPrice":"abc","priceChange":"0","priceChangePercent":"0","quoteVolume":"5"}`)
		})
		_, err := NewBinance(cfg, zap.NewNop()).Quote(context.Background(), "ETH", "")
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestBinance_Historical(t *testing.T) {
	cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/klines", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, `[
			[1767225600000,"100.0","110.0","95.0","105.0","10.5",1767311999999,"0",1,"0","0","0"],
			[1767312000000,"105.0","120.0","104.0","118.0","12.0",1767398399999,"0",1,"0","0","0"]
		]`)
	})

	series, err := NewBinance(cfg, zap.NewNop()).Historical(context.Background(), "SOL", 2, "")
	require.NoError(t, err)
	require.Len(t, series, 2)
	require.NoError(t, series.Validate())
	assert.Equal(t, 105.0, series[0].Close)
	assert.Equal(t, 120.0, series[1].High)
	assert.Equal(t, 12.0, series[1].Volume)

	_, err = NewBinance(cfg, zap.NewNop()).Historical(context.Background(), "SOL", 0, "")
	assert.Error(t, err)
}

func TestCoinGecko(t *testing.T) {
	t.Run("Quote", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/coins/markets", r.URL.Path)
			assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
			writeJSON(w, http.StatusOK, `[{"id":"ethereum","symbol":"eth","current_price":3200.5,"market_cap":385000000000,"total_volume":15000000000,"price_change_24h":64.0,"price_change_percentage_24h":2.04,"last_updated":"2026-01-01T00:00:00.000Z"}]`)
		})
		q, err := NewCoinGecko(cfg, zap.NewNop()).Quote(context.Background(), "ETH", "")
		require.NoError(t, err)
		assert.Equal(t, 3200.5, q.Price)
		assert.Equal(t, 385000000000.0, q.MarketCap)
		assert.Equal(t, 2.04, q.ChangePercent)
		assert.Equal(t, "coingecko", q.Source)
	})

	t.Run("QuoteNotFound", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `[]`)
		})
		_, err := NewCoinGecko(cfg, zap.NewNop()).Quote(context.Background(), "ZZZ", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Historical", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
			writeJSON(w, http.StatusOK, `{
				"prices":[[1767225600000,100],[1767312000000,90],[1767398400000,95],[1767398400000,96]],
				"total_volumes":[[1767225600000,5],[1767312000000,6],[1767398400000,7]]
			}`)
		})
		series, err := NewCoinGecko(cfg, zap.NewNop()).Historical(context.Background(), "BTC", 3, "")
		require.NoError(t, err)
		require.Len(t, series, 3)
		require.NoError(t, series.Validate())
		assert.Equal(t, 100.0, series[1].Open)
		assert.Equal(t, 100.0, series[1].High)
		assert.Equal(t, 90.0, series[1].Low)
		assert.Equal(t, 7.0, series[2].Volume)
	})
}

func TestAlphaVantage(t *testing.T) {
	t.Run("Quote", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
			assert.Equal(t, "secret-1", r.URL.Query().Get("apikey"))
			writeJSON(w, http.StatusOK, `{"Global Quote":{"01. symbol":"AAPL","05. price":"190.1200","06. volume":"51234567","07. latest trading day":"2026-01-02","09. change":"-1.5000","10. change percent":"-0.7828%"}}`)
		})
		a := NewAlphaVantage(cfg, zap.NewNop())
		assert.True(t, a.QuotaLimited())

		q, err := a.Quote(context.Background(), "aapl", "secret-1")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", q.Symbol)
		assert.Equal(t, 190.12, q.Price)
		assert.Equal(t, -0.7828, q.ChangePercent)
		assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), q.Timestamp)
	})

	t.Run("InBodyThrottle", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`)
		})
		_, err := NewAlphaVantage(cfg, zap.NewNop()).Quote(context.Background(), "AAPL", "k")
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("EmptyQuote", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"Global Quote":{}}`)
		})
		_, err := NewAlphaVantage(cfg, zap.NewNop()).Quote(context.Background(), "XXXX", "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Historical", func(t *testing.T) {
		cfg := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
			writeJSON(w, http.StatusOK, `{"Time Series (Daily)":{
				"2026-01-05":{"1. open":"12","2. high":"13","3. low":"11","4. close":"12.5","5. volume":"300"},
				"2026-01-02":{"1. open":"10","2. high":"11","3. low":"9","4. close":"10.5","5. volume":"100"},
				"2026-01-03":{"1. open":"10.5","2. high":"12","3. low":"10","4. close":"11.5","5. volume":"200"}
			}}`)
		})
		series, err := NewAlphaVantage(cfg, zap.NewNop()).Historical(context.Background(), "IBM", 2, "k")
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, 11.5, series[0].Close)
		assert.Equal(t, 12.5, series[1].Close)
		assert.NoError(t, series.Validate())
	})
}

func TestSynthetic(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 2, 1, 15, 0, 0, 0, time.UTC))
	s := NewSynthetic(fc)

	a, err := s.Historical(context.Background(), "BTC", 90, "")
	require.NoError(t, err)
	b, err := s.Historical(context.Background(), "BTC", 90, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 90)
	assert.NoError(t, a.Validate())
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), a[89].Timestamp)

	q, err := s.Quote(context.Background(), "btc", "")
	require.NoError(t, err)
	assert.Equal(t, "BTC", q.Symbol)
	assert.Greater(t, q.Price, 0.0)

	// The series follows the injected clock.
	fc.Advance(24 * time.Hour)
	c, err := s.Historical(context.Background(), "BTC", 90, "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), c[89].Timestamp)
}

func TestNew(t *testing.T) {
	for _, name := range []string{"binance", "coingecko", "alphavantage", "synthetic"} {
		p, err := New(config.Provider{Name: name}, clock.New(), zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
		assert.Equal(t, name == "alphavantage", p.QuotaLimited())
	}
	_, err := New(config.Provider{Name: "bloomberg"}, clock.New(), zap.NewNop())
	assert.Error(t, err)

	// quota_limited turns a free adapter into a pooled one.
	p, err := New(config.Provider{Name: "binance", QuotaLimited: true}, clock.New(), zap.NewNop())
	require.NoError(t, err)
	assert.True(t, p.QuotaLimited())
}
