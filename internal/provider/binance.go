package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/models"

	"go.uber.org/zap"
)

const (
	binanceName    = "binance"
	binanceBaseURL = "https://api.binance.com/api/v3"
	binanceQuote   = "USDT"
)

// Binance reads public spot market data. It needs no API key unless the
// provider is configured quota_limited.
type Binance struct {
	rest    *restClient
	limited bool
}

var _ Provider = (*Binance)(nil)

// NewBinance creates the Binance adapter.
func NewBinance(cfg config.Provider, logger *zap.Logger) *Binance {
	base := cfg.BaseURL
	if base == "" {
		base = binanceBaseURL
	}
	return &Binance{rest: newRestClient(binanceName, base, cfg.Timeout, cfg.Retries, logger), limited: cfg.Limited()}
}

func (b *Binance) Name() string       { return binanceName }
func (b *Binance) QuotaLimited() bool { return b.limited }

// pair maps BTC to BTCUSDT; symbols already quoted are passed through.
func (b *Binance) pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.HasSuffix(s, binanceQuote) {
		return s
	}
	return s + binanceQuote
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

// Quote fetches the rolling 24h ticker.
func (b *Binance) Quote(ctx context.Context, symbol, _ string) (models.Quote, error) {
	var ticker binanceTicker
	req := b.rest.client.R().
		SetQueryParam("symbol", b.pair(symbol)).
		SetResult(&ticker)

	if _, err := b.rest.doRequest(ctx, "GET", "/ticker/24hr", req); err != nil {
		return models.Quote{}, fmt.Errorf("failed to get binance ticker for %s: %w", symbol, err)
	}
	if ticker.LastPrice == "" {
		return models.Quote{}, fmt.Errorf("%w: empty binance ticker for %s", ErrMalformed, symbol)
	}

	price, err := parseNumber("lastPrice", ticker.LastPrice)
	if err != nil {
		return models.Quote{}, err
	}
	change, err := parseNumber("priceChange", ticker.PriceChange)
	if err != nil {
		return models.Quote{}, err
	}
	pct, err := parseNumber("priceChangePercent", ticker.PriceChangePercent)
	if err != nil {
		return models.Quote{}, err
	}
	// quoteVolume is denominated in USDT, comparable across providers.
	volume, err := parseNumber("quoteVolume", ticker.QuoteVolume)
	if err != nil {
		return models.Quote{}, err
	}

	return models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Volume:        volume,
		Timestamp:     time.UnixMilli(ticker.CloseTime).UTC(),
		Source:        binanceName,
	}, nil
}

// Historical fetches daily klines, oldest first.
func (b *Binance) Historical(ctx context.Context, symbol string, days int, _ string) (models.PriceSeries, error) {
	if err := validDays(days); err != nil {
		return nil, err
	}
	var rows [][]interface{}
	req := b.rest.client.R().
		SetQueryParams(map[string]string{
			"symbol":   b.pair(symbol),
			"interval": "1d",
			"limit":    fmt.Sprintf("%d", days),
		})

	resp, err := b.rest.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get binance klines for %s: %w", symbol, err)
	}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("%w: binance klines: %v", ErrMalformed, err)
	}

	series := make(models.PriceSeries, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: kline %d has %d fields", ErrMalformed, i, len(row))
		}
		openTime, err := numberFrom("openTime", row[0])
		if err != nil {
			return nil, err
		}
		var vals [5]float64
		for j, name := range []string{"open", "high", "low", "close", "volume"} {
			if vals[j], err = numberFrom(name, row[j+1]); err != nil {
				return nil, err
			}
		}
		series = append(series, models.PricePoint{
			Timestamp: time.UnixMilli(int64(openTime)).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return series, nil
}
