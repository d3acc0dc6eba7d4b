package provider

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/models"
)

const syntheticName = "synthetic"

// Synthetic is the demo-mode provider. It generates a deterministic random
// walk per symbol so the pipeline can run without network access. It is only
// reachable when explicitly configured as a provider.
type Synthetic struct {
	clock clock.Clock
}

var _ Provider = (*Synthetic)(nil)

// NewSynthetic creates the demo provider. The clock anchors the generated
// series at today's midnight UTC.
func NewSynthetic(clk clock.Clock) *Synthetic {
	return &Synthetic{clock: clk}
}

func (s *Synthetic) Name() string       { return syntheticName }
func (s *Synthetic) QuotaLimited() bool { return false }

func (s *Synthetic) rng(symbol string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToUpper(symbol)))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// Historical generates days daily bars ending at today's midnight UTC.
func (s *Synthetic) Historical(ctx context.Context, symbol string, days int, _ string) (models.PriceSeries, error) {
	if err := validDays(days); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := s.rng(symbol)
	end := s.clock.Now().UTC().Truncate(24 * time.Hour)
	price := 20 + r.Float64()*180
	drift := (r.Float64() - 0.5) * 0.01

	series := make(models.PriceSeries, 0, days)
	for i := days - 1; i >= 0; i-- {
		open := price
		ret := drift + r.NormFloat64()*0.02
		price = math.Max(0.01, price*(1+ret))
		spread := math.Abs(r.NormFloat64()) * 0.01 * price
		series = append(series, models.PricePoint{
			Timestamp: end.AddDate(0, 0, -i),
			Open:      open,
			High:      math.Max(open, price) + spread,
			Low:       math.Max(0.01, math.Min(open, price)-spread),
			Close:     price,
			Volume:    1e6 * (1 + r.Float64()*9),
		})
	}
	return series, nil
}

// Quote derives a quote from the last two generated bars.
func (s *Synthetic) Quote(ctx context.Context, symbol, apiKey string) (models.Quote, error) {
	series, err := s.Historical(ctx, symbol, 30, apiKey)
	if err != nil {
		return models.Quote{}, err
	}
	last := series[len(series)-1]
	prev := series[len(series)-2]
	change := last.Close - prev.Close
	return models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         last.Close,
		Change:        change,
		ChangePercent: change / prev.Close * 100,
		Volume:        last.Volume * last.Close,
		MarketCap:     last.Close * 5e7,
		Timestamp:     last.Timestamp,
		Source:        syntheticName,
	}, nil
}
