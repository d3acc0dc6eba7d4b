package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/models"

	"go.uber.org/zap"
)

const (
	alphaVantageName    = "alphavantage"
	alphaVantageBaseURL = "https://www.alphavantage.co"
	alphaVantageDay     = "2006-01-02"
)

// AlphaVantage reads equities from Alpha Vantage. Every call consumes one
// request of the API key's daily quota.
type AlphaVantage struct {
	rest *restClient
}

var _ Provider = (*AlphaVantage)(nil)

// NewAlphaVantage creates the Alpha Vantage adapter.
func NewAlphaVantage(cfg config.Provider, logger *zap.Logger) *AlphaVantage {
	base := cfg.BaseURL
	if base == "" {
		base = alphaVantageBaseURL
	}
	return &AlphaVantage{rest: newRestClient(alphaVantageName, base, cfg.Timeout, cfg.Retries, logger)}
}

func (a *AlphaVantage) Name() string { return alphaVantageName }

// QuotaLimited is always true: every Alpha Vantage call needs a pooled key.
func (a *AlphaVantage) QuotaLimited() bool { return true }

// avEnvelope captures the in-body notices Alpha Vantage sends with HTTP 200
// instead of a 429.
type avEnvelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (e avEnvelope) err(symbol string) error {
	switch {
	case e.Note != "":
		return fmt.Errorf("%w: %s", ErrRateLimited, e.Note)
	case e.Information != "":
		return fmt.Errorf("%w: %s", ErrRateLimited, e.Information)
	case e.ErrorMessage != "":
		return fmt.Errorf("%w: %s: %s", ErrNotFound, symbol, e.ErrorMessage)
	}
	return nil
}

type avGlobalQuote struct {
	avEnvelope
	Quote map[string]string `json:"Global Quote"`
}

// Quote fetches GLOBAL_QUOTE.
func (a *AlphaVantage) Quote(ctx context.Context, symbol, apiKey string) (models.Quote, error) {
	var body avGlobalQuote
	req := a.rest.client.R().
		SetQueryParams(map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   strings.ToUpper(symbol),
			"apikey":   apiKey,
		}).
		SetResult(&body)

	if _, err := a.rest.doRequest(ctx, "GET", "/query", req); err != nil {
		return models.Quote{}, fmt.Errorf("failed to get alphavantage quote for %s: %w", symbol, err)
	}
	if err := body.err(symbol); err != nil {
		return models.Quote{}, err
	}
	if len(body.Quote) == 0 {
		return models.Quote{}, fmt.Errorf("%w: alphavantage has no quote for %s", ErrNotFound, symbol)
	}

	q := models.Quote{Symbol: strings.ToUpper(symbol), Source: alphaVantageName}
	var err error
	if q.Price, err = parseNumber("price", body.Quote["05. price"]); err != nil {
		return models.Quote{}, err
	}
	if q.Volume, err = parseNumber("volume", body.Quote["06. volume"]); err != nil {
		return models.Quote{}, err
	}
	if q.Change, err = parseNumber("change", body.Quote["09. change"]); err != nil {
		return models.Quote{}, err
	}
	if q.ChangePercent, err = parseNumber("change percent", body.Quote["10. change percent"]); err != nil {
		return models.Quote{}, err
	}
	if day, perr := time.Parse(alphaVantageDay, body.Quote["07. latest trading day"]); perr == nil {
		q.Timestamp = day.UTC()
	}
	return q, nil
}

type avDaily struct {
	avEnvelope
	Series map[string]map[string]string `json:"Time Series (Daily)"`
}

// Historical fetches TIME_SERIES_DAILY and keeps the most recent days bars.
func (a *AlphaVantage) Historical(ctx context.Context, symbol string, days int, apiKey string) (models.PriceSeries, error) {
	if err := validDays(days); err != nil {
		return nil, err
	}
	outputSize := "compact" // last 100 trading days
	if days > 100 {
		outputSize = "full"
	}
	var body avDaily
	req := a.rest.client.R().
		SetQueryParams(map[string]string{
			"function":   "TIME_SERIES_DAILY",
			"symbol":     strings.ToUpper(symbol),
			"outputsize": outputSize,
			"apikey":     apiKey,
		}).
		SetResult(&body)

	if _, err := a.rest.doRequest(ctx, "GET", "/query", req); err != nil {
		return nil, fmt.Errorf("failed to get alphavantage series for %s: %w", symbol, err)
	}
	if err := body.err(symbol); err != nil {
		return nil, err
	}
	if len(body.Series) == 0 {
		return nil, fmt.Errorf("%w: alphavantage has no series for %s", ErrNotFound, symbol)
	}

	dates := make([]string, 0, len(body.Series))
	for d := range body.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	series := make(models.PriceSeries, 0, len(dates))
	for _, d := range dates {
		ts, err := time.Parse(alphaVantageDay, d)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q", ErrMalformed, d)
		}
		bar := body.Series[d]
		var vals [5]float64
		for j, key := range []string{"1. open", "2. high", "3. low", "4. close", "5. volume"} {
			if vals[j], err = parseNumber(key, bar[key]); err != nil {
				return nil, err
			}
		}
		series = append(series, models.PricePoint{
			Timestamp: ts.UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return series, nil
}
