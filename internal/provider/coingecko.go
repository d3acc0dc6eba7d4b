package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/models"

	"go.uber.org/zap"
)

const (
	coingeckoName    = "coingecko"
	coingeckoBaseURL = "https://api.coingecko.com/api/v3"
)

// coinIDs maps tickers to CoinGecko coin ids. Unknown tickers are tried
// lower-cased.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
}

// CoinGecko reads the free CoinGecko API, which also provides market caps.
type CoinGecko struct {
	rest    *restClient
	limited bool
}

var _ Provider = (*CoinGecko)(nil)

// NewCoinGecko creates the CoinGecko adapter.
func NewCoinGecko(cfg config.Provider, logger *zap.Logger) *CoinGecko {
	base := cfg.BaseURL
	if base == "" {
		base = coingeckoBaseURL
	}
	return &CoinGecko{rest: newRestClient(coingeckoName, base, cfg.Timeout, cfg.Retries, logger), limited: cfg.Limited()}
}

func (c *CoinGecko) Name() string       { return coingeckoName }
func (c *CoinGecko) QuotaLimited() bool { return c.limited }

func coinID(symbol string) string {
	if id, ok := coinIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

type geckoMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                float64  `json:"market_cap"`
	TotalVolume              float64  `json:"total_volume"`
	PriceChange24h           float64  `json:"price_change_24h"`
	PriceChangePercentage24h float64  `json:"price_change_percentage_24h"`
	LastUpdated              string   `json:"last_updated"`
}

// Quote fetches the coin's market entry.
func (c *CoinGecko) Quote(ctx context.Context, symbol, _ string) (models.Quote, error) {
	var markets []geckoMarket
	req := c.rest.client.R().
		SetQueryParams(map[string]string{"vs_currency": "usd", "ids": coinID(symbol)}).
		SetResult(&markets)

	if _, err := c.rest.doRequest(ctx, "GET", "/coins/markets", req); err != nil {
		return models.Quote{}, fmt.Errorf("failed to get coingecko market for %s: %w", symbol, err)
	}
	if len(markets) == 0 {
		return models.Quote{}, fmt.Errorf("%w: coingecko has no market for %s", ErrNotFound, symbol)
	}
	m := markets[0]
	if m.CurrentPrice == nil {
		return models.Quote{}, fmt.Errorf("%w: coingecko market for %s has no price", ErrMalformed, symbol)
	}

	ts, err := time.Parse(time.RFC3339, m.LastUpdated)
	if err != nil {
		ts = time.Time{}
	}
	return models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         *m.CurrentPrice,
		Change:        m.PriceChange24h,
		ChangePercent: m.PriceChangePercentage24h,
		Volume:        m.TotalVolume,
		MarketCap:     m.MarketCap,
		Timestamp:     ts.UTC(),
		Source:        coingeckoName,
	}, nil
}

type geckoChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// Historical builds daily bars from the market chart. CoinGecko returns one
// price per day, so each bar opens at the previous close and its high/low
// span open and close.
func (c *CoinGecko) Historical(ctx context.Context, symbol string, days int, _ string) (models.PriceSeries, error) {
	if err := validDays(days); err != nil {
		return nil, err
	}
	var chart geckoChart
	req := c.rest.client.R().
		SetQueryParams(map[string]string{
			"vs_currency": "usd",
			"days":        fmt.Sprintf("%d", days),
			"interval":    "daily",
		}).
		SetResult(&chart)

	path := "/coins/" + coinID(symbol) + "/market_chart"
	if _, err := c.rest.doRequest(ctx, "GET", path, req); err != nil {
		return nil, fmt.Errorf("failed to get coingecko chart for %s: %w", symbol, err)
	}
	if len(chart.Prices) == 0 {
		return nil, fmt.Errorf("%w: coingecko returned no prices for %s", ErrNotFound, symbol)
	}

	volumes := make(map[int64]float64, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		volumes[int64(v[0])] = v[1]
	}

	series := make(models.PriceSeries, 0, len(chart.Prices))
	for i, p := range chart.Prices {
		ts := time.UnixMilli(int64(p[0])).UTC()
		if i > 0 && !ts.After(series[len(series)-1].Timestamp) {
			// the trailing "now" sample can repeat the last day
			continue
		}
		closePrice := p[1]
		open := closePrice
		if len(series) > 0 {
			open = series[len(series)-1].Close
		}
		series = append(series, models.PricePoint{
			Timestamp: ts,
			Open:      open,
			High:      max(open, closePrice),
			Low:       min(open, closePrice),
			Close:     closePrice,
			Volume:    volumes[int64(p[0])],
		})
	}
	return series, nil
}
