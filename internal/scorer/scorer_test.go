package scorer

import (
	"testing"

	"market-signal-engine-go/internal/indicator"
	"market-signal-engine-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestScore_StrongBullLargeCap(t *testing.T) {
	q := models.Quote{Symbol: "BTC", Price: 65000, ChangePercent: 12, Volume: 2e9, MarketCap: 5e11}

	a := Score(q, indicator.Snapshot{})

	assert.Equal(t, models.SignalBuy, a.Recommendation)
	assert.InDelta(t, 0.75, a.Score, 1e-9)
	assert.InDelta(t, 0.80, a.Confidence, 1e-9)
	assert.InDelta(t, 0.10, a.Potential, 1e-9)
	assert.Equal(t, RiskHigh, a.RiskLevel)
	assert.Contains(t, a.Rationale, "strong upward momentum (+12.00%)")
	assert.Contains(t, a.Rationale, "high liquidity")
	assert.Contains(t, a.Rationale, "large cap")
}

func TestScore_BearishIndicators(t *testing.T) {
	q := models.Quote{Symbol: "SOL", Price: 90, ChangePercent: -5, Volume: 5e7, MarketCap: 1e9}
	snap := indicator.Snapshot{
		Bars:      30,
		LastClose: 90,
		RSI:       75,
		MACD:      indicator.MACDValue{Histogram: -1},
		SMA20:     95,
		SMA50:     100,
		Momentum:  -12,
	}

	a := Score(q, snap)

	assert.Equal(t, models.SignalSell, a.Recommendation)
	assert.InDelta(t, 0.10, a.Score, 1e-9)
	assert.InDelta(t, 0.75, a.Confidence, 1e-9)
	assert.InDelta(t, 0.16, a.Potential, 1e-9)
	assert.Equal(t, RiskMedium, a.RiskLevel)
	assert.Len(t, a.Factors, 7)
	assert.Contains(t, a.Rationale, "RSI 75.0 overbought")
}

func TestScore_FlatThinMicroCap(t *testing.T) {
	q := models.Quote{Symbol: "TINY", Price: 0.01, ChangePercent: 0.5, Volume: 5e5, MarketCap: 1e8}

	a := Score(q, indicator.Snapshot{})

	assert.Equal(t, models.SignalWatch, a.Recommendation)
	assert.InDelta(t, 0.5, a.Score, 1e-9)
	assert.InDelta(t, 0.2, a.Confidence, 1e-9)
	assert.Zero(t, a.Potential)
	assert.Equal(t, RiskHigh, a.RiskLevel)
}

func TestScore_ClampsToUnitRange(t *testing.T) {
	q := models.Quote{ChangePercent: 40, Volume: 5e9, MarketCap: 1e12}
	snap := indicator.Snapshot{
		Bars:      60,
		LastClose: 120,
		RSI:       20,
		MACD:      indicator.MACDValue{Histogram: 3},
		SMA20:     110,
		SMA50:     100,
		Momentum:  35,
	}
	a := Score(q, snap)
	assert.LessOrEqual(t, a.Score, 1.0)
	assert.LessOrEqual(t, a.Confidence, 1.0)
	assert.GreaterOrEqual(t, a.Confidence, 0.0)
	assert.LessOrEqual(t, a.Potential, maxPotential)
}

func TestScore_Deterministic(t *testing.T) {
	q := models.Quote{Symbol: "ETH", Price: 3100, ChangePercent: 4.2, Volume: 8e8, MarketCap: 3.7e11}
	snap := indicator.Snapshot{Bars: 60, LastClose: 3100, RSI: 61.3, SMA20: 3000, SMA50: 2900, Momentum: 6.1,
		MACD: indicator.MACDValue{MACD: 12, Signal: 9, Histogram: 3}}

	first := Score(q, snap)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Score(q, snap))
	}
}

func TestBucket(t *testing.T) {
	assert.Equal(t, CapUnknown, Bucket(0))
	assert.Equal(t, CapMicro, Bucket(1e8))
	assert.Equal(t, CapSmall, Bucket(1e9))
	assert.Equal(t, CapMid, Bucket(5e9))
	assert.Equal(t, CapLarge, Bucket(1e11))
}
