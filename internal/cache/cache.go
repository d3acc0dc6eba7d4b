// Package cache holds short-lived quotes so repeated lookups inside a scan or
// a burst of API calls do not spend provider quota.
package cache

import (
	"context"
	"fmt"
	"strings"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/models"

	"go.uber.org/zap"
)

// QuoteCache stores quotes by symbol. A miss is (zero, false, nil); errors
// are reserved for backend failures.
type QuoteCache interface {
	Get(ctx context.Context, symbol string) (models.Quote, bool, error)
	Set(ctx context.Context, symbol string, q models.Quote) error
}

// New builds the backend selected by cfg. The "none" backend returns nil,
// which callers treat as caching disabled.
func New(cfg config.Cache, clk clock.Clock, logger *zap.Logger) (QuoteCache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL, cfg.MaxEntries, clk), nil
	case "redis":
		return NewRedis(cfg.Redis, cfg.TTL, logger), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
