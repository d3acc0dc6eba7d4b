package indicator

import "market-signal-engine-go/internal/models"

// MomentumLookback is the bar distance used for Snapshot.Momentum.
const MomentumLookback = 7

// Snapshot bundles the latest reading of every indicator for a series. Values
// that lack history fall back to neutral defaults so that scoring always has
// an input: RSI 50, bands collapsed on the last close, %K/%D 50, moving
// averages equal to the last close, zero momentum and MACD.
type Snapshot struct {
	Bars          int             `json:"bars"`
	LastClose     float64         `json:"last_close"`
	RSI           float64         `json:"rsi"`
	MACD          MACDValue       `json:"macd"`
	Bands         Bands           `json:"bands"`
	Stochastic    StochasticValue `json:"stochastic"`
	SMA20         float64         `json:"sma20"`
	SMA50         float64         `json:"sma50"`
	Momentum      float64         `json:"momentum"`
	AverageVolume float64         `json:"average_volume"`
}

// Compute evaluates every indicator with default parameters at the last bar.
func Compute(series models.PriceSeries) Snapshot {
	closes := series.Closes()
	snap := Snapshot{Bars: len(series), RSI: NeutralRSI, Stochastic: StochasticValue{K: 50, D: 50}}
	if len(closes) == 0 {
		return snap
	}
	last := closes[len(closes)-1]
	snap.LastClose = last

	snap.RSI = RSI(closes, DefaultRSIPeriod)
	snap.Bands = Bollinger(closes, DefaultBollingerPeriod, DefaultBollingerK)
	if m, err := MACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal); err == nil {
		snap.MACD = m
	}
	if st, err := Stochastic(series.Highs(), series.Lows(), closes, DefaultStochasticPeriod, DefaultStochasticSmooth); err == nil {
		snap.Stochastic = st
	}

	snap.SMA20 = smaOr(closes, 20, last)
	snap.SMA50 = smaOr(closes, 50, last)

	if len(closes) > MomentumLookback {
		base := closes[len(closes)-1-MomentumLookback]
		if base != 0 {
			snap.Momentum = (last - base) / base * 100
		}
	}

	vol := 0.0
	for _, p := range series {
		vol += p.Volume
	}
	snap.AverageVolume = vol / float64(len(series))
	return snap
}

func smaOr(values []float64, period int, def float64) float64 {
	v, err := SMA(values, period)
	if err != nil {
		return def
	}
	return v
}
