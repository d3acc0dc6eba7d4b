// Package gateway fetches market data through an ordered provider chain,
// falling back to the next provider on failure or quota exhaustion.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-signal-engine-go/internal/cache"
	"market-signal-engine-go/internal/keypool"
	"market-signal-engine-go/internal/metrics"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/provider"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	opQuote      = "quote"
	opHistorical = "historical"
)

// Gateway is safe for concurrent use. It holds no state beyond the shared
// key pool, cache and limiter.
type Gateway struct {
	providers []provider.Provider
	pool      *keypool.Pool
	cache     cache.QuoteCache
	limiter   *rate.Limiter
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache enables quote caching. A nil cache disables it.
func WithCache(c cache.QuoteCache) Option { return func(g *Gateway) { g.cache = c } }

// WithRateLimit smooths outbound calls to r requests per second.
func WithRateLimit(r float64, burst int) Option {
	return func(g *Gateway) { g.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// WithMetrics records provider outcomes on m.
func WithMetrics(m *metrics.Recorder) Option { return func(g *Gateway) { g.metrics = m } }

// New creates a gateway over providers, tried in the given order. pool
// supplies credentials for quota-limited providers.
func New(providers []provider.Provider, pool *keypool.Pool, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	g := &Gateway{
		providers: providers,
		pool:      pool,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, p := range providers {
		if p.QuotaLimited() && (pool == nil || !pool.HasProvider(p.Name())) {
			logger.Warn("Quota-limited provider has no credentials and will always be skipped", zap.String("provider", p.Name()))
		}
	}
	return g, nil
}

// FetchQuote returns the latest quote for symbol. A cached quote is returned
// without touching the provider chain.
func (g *Gateway) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if g.cache != nil {
		q, ok, err := g.cache.Get(ctx, symbol)
		if err != nil {
			g.logger.Warn("Quote cache lookup failed", zap.String("symbol", symbol), zap.Error(err))
		}
		g.metrics.RecordCacheLookup(ok)
		if ok {
			return q, nil
		}
	}

	var quote models.Quote
	err := g.try(ctx, symbol, opQuote, func(p provider.Provider, apiKey string) error {
		q, err := p.Quote(ctx, symbol, apiKey)
		if err != nil {
			return err
		}
		if q.Price <= 0 {
			return fmt.Errorf("%w: non-positive price %v", provider.ErrMalformed, q.Price)
		}
		quote = q
		return nil
	})
	if err != nil {
		return models.Quote{}, err
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, symbol, quote); err != nil {
			g.logger.Warn("Failed to cache quote", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return quote, nil
}

// FetchHistorical returns days daily bars for symbol, oldest first.
func (g *Gateway) FetchHistorical(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	if days <= 0 {
		return nil, fmt.Errorf("invalid history length %d", days)
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var series models.PriceSeries
	err := g.try(ctx, symbol, opHistorical, func(p provider.Provider, apiKey string) error {
		s, err := p.Historical(ctx, symbol, days, apiKey)
		if err != nil {
			return err
		}
		if len(s) == 0 {
			return fmt.Errorf("%w: empty series", provider.ErrNotFound)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %v", provider.ErrMalformed, err)
		}
		series = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return series, nil
}

// FetchQuotes fetches symbols one after another. Failed symbols are reported
// in the returned map and do not stop the batch; only a context error does.
func (g *Gateway) FetchQuotes(ctx context.Context, symbols []string) ([]models.Quote, map[string]error, error) {
	quotes := make([]models.Quote, 0, len(symbols))
	failures := make(map[string]error)
	for _, s := range symbols {
		q, err := g.FetchQuote(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return quotes, failures, ctx.Err()
			}
			failures[s] = err
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, failures, nil
}

// try walks the chain until call succeeds for one provider.
func (g *Gateway) try(ctx context.Context, symbol, op string, call func(p provider.Provider, apiKey string) error) error {
	var failures []ProviderFailure
	for _, p := range g.providers {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := p.Name()

		var handle keypool.Handle
		limited := p.QuotaLimited()
		if limited {
			if g.pool == nil {
				failures = append(failures, ProviderFailure{Provider: name, Reason: ReasonExhausted, Err: keypool.ErrExhausted})
				g.metrics.RecordProviderSkip(name, op, string(ReasonExhausted))
				continue
			}
			h, err := g.pool.Acquire(name)
			if err != nil {
				g.logger.Debug("Skipping provider", zap.String("provider", name), zap.String("symbol", symbol), zap.Error(err))
				failures = append(failures, ProviderFailure{Provider: name, Reason: classify(err), Err: err})
				g.metrics.RecordProviderSkip(name, op, string(ReasonExhausted))
				continue
			}
			handle = h
		}

		if err := g.limiter.Wait(ctx); err != nil {
			if limited {
				g.pool.Release(handle)
			}
			return err
		}

		start := time.Now()
		err := call(p, handle.Secret)
		reason := FailureReason("ok")
		if err != nil {
			reason = classify(err)
		}
		g.metrics.RecordProviderCall(name, op, string(reason), time.Since(start).Seconds())

		if limited {
			g.settle(handle, err)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		g.logger.Warn("Provider failed, trying next",
			zap.String("provider", name),
			zap.String("operation", op),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		failures = append(failures, ProviderFailure{Provider: name, Reason: reason, Err: err})
	}
	return &AllProvidersFailedError{Symbol: symbol, Operation: op, Failures: failures}
}

// settle ends the reservation of handle according to the call outcome. A
// vendor quota rejection exhausts the key; answers that reached the vendor
// are charged; transport failures are not.
func (g *Gateway) settle(h keypool.Handle, callErr error) {
	var err error
	switch {
	case callErr == nil:
		err = g.pool.RecordUsage(h, 1)
	case errors.Is(callErr, provider.ErrRateLimited):
		err = g.pool.MarkExhausted(h)
	case errors.Is(callErr, provider.ErrUnavailable), errors.Is(callErr, context.Canceled), errors.Is(callErr, context.DeadlineExceeded):
		g.pool.Release(h)
	default:
		err = g.pool.RecordUsage(h, 1)
	}
	if err != nil {
		g.logger.Error("Failed to settle credential usage", zap.String("key", h.ID), zap.Error(err))
	}
}
