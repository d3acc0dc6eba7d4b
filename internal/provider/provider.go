// Package provider adapts vendor market-data APIs to the canonical Quote and
// PriceSeries shapes. Adapters only parse; fallback and quota accounting
// belong to the gateway.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited means the vendor rejected the call for quota reasons (HTTP 429
	// or an equivalent in-body notice). The credential used should be marked exhausted.
	ErrRateLimited = errors.New("rate limited by provider")
	// ErrNotFound means the vendor does not know the symbol.
	ErrNotFound = errors.New("symbol not found")
	// ErrMalformed means the payload could not be parsed.
	ErrMalformed = errors.New("malformed provider response")
	// ErrUnavailable covers network failures and 5xx answers.
	ErrUnavailable = errors.New("provider unavailable")
)

// Provider is one market-data vendor. apiKey is empty for free providers.
type Provider interface {
	Name() string
	QuotaLimited() bool
	Quote(ctx context.Context, symbol, apiKey string) (models.Quote, error)
	Historical(ctx context.Context, symbol string, days int, apiKey string) (models.PriceSeries, error)
}

// New builds the adapter named by cfg. clk drives the synthetic provider.
func New(cfg config.Provider, clk clock.Clock, logger *zap.Logger) (Provider, error) {
	switch cfg.Name {
	case binanceName:
		return NewBinance(cfg, logger), nil
	case coingeckoName:
		return NewCoinGecko(cfg, logger), nil
	case alphaVantageName:
		return NewAlphaVantage(cfg, logger), nil
	case syntheticName:
		return NewSynthetic(clk), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// parseNumber parses a vendor decimal string exactly before converting it to float64.
func parseNumber(field, s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %v", ErrMalformed, field, err)
	}
	return d.InexactFloat64(), nil
}

// numberFrom accepts the JSON shapes vendors use for numbers: strings and
// float64 (from encoding/json into interface{}).
func numberFrom(field string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case string:
		return parseNumber(field, n)
	case float64:
		return decimal.NewFromFloat(n).InexactFloat64(), nil
	case nil:
		return 0, fmt.Errorf("%w: field %s missing", ErrMalformed, field)
	default:
		return 0, fmt.Errorf("%w: field %s has type %T", ErrMalformed, field, v)
	}
}

func validDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("invalid history length %d", days)
	}
	return nil
}
