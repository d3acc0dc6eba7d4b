package backtest

import (
	"fmt"

	"market-signal-engine-go/internal/indicator"
	"market-signal-engine-go/internal/models"
)

type smaCross struct {
	fast, slow int
}

func newSMACross(p params) (Strategy, error) {
	fast, err := p.period("fast")
	if err != nil {
		return nil, err
	}
	slow, err := p.period("slow")
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: %s fast period %d must be below slow period %d", ErrInvalidStrategy, p.name, fast, slow)
	}
	return &smaCross{fast: fast, slow: slow}, nil
}

func (s *smaCross) Name() string { return SMACross }

func (s *smaCross) Signals(series models.PriceSeries) []Action {
	closes := series.Closes()
	fast := indicator.SMASeries(closes, s.fast)
	slow := indicator.SMASeries(closes, s.slow)
	out := make([]Action, len(closes))
	for i := range closes {
		if !indicator.Ready(fast[i]) || !indicator.Ready(slow[i]) {
			continue
		}
		switch {
		case fast[i] > slow[i]:
			out[i] = Enter
		case fast[i] < slow[i]:
			out[i] = Exit
		}
	}
	return out
}

type rsiReversion struct {
	period               int
	oversold, overbought float64
}

func newRSIReversion(p params) (Strategy, error) {
	period, err := p.period("period")
	if err != nil {
		return nil, err
	}
	lo, hi, err := p.band("oversold", "overbought")
	if err != nil {
		return nil, err
	}
	return &rsiReversion{period: period, oversold: lo, overbought: hi}, nil
}

func (s *rsiReversion) Name() string { return RSIReversion }

func (s *rsiReversion) Signals(series models.PriceSeries) []Action {
	rsi := indicator.RSISeries(series.Closes(), s.period)
	out := make([]Action, len(rsi))
	for i, v := range rsi {
		if !indicator.Ready(v) {
			continue
		}
		switch {
		case v < s.oversold:
			out[i] = Enter
		case v > s.overbought:
			out[i] = Exit
		}
	}
	return out
}

type macdCross struct {
	fast, slow, signal int
}

func newMACDCross(p params) (Strategy, error) {
	fast, err := p.period("fast")
	if err != nil {
		return nil, err
	}
	slow, err := p.period("slow")
	if err != nil {
		return nil, err
	}
	signal, err := p.period("signal")
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: %s fast period %d must be below slow period %d", ErrInvalidStrategy, p.name, fast, slow)
	}
	return &macdCross{fast: fast, slow: slow, signal: signal}, nil
}

func (s *macdCross) Name() string { return MACDCross }

func (s *macdCross) Signals(series models.PriceSeries) []Action {
	m := indicator.ComputeMACDSeries(series.Closes(), s.fast, s.slow, s.signal)
	out := make([]Action, len(m.Histogram))
	for i, h := range m.Histogram {
		if !indicator.Ready(h) {
			continue
		}
		switch {
		case h > 0:
			out[i] = Enter
		case h < 0:
			out[i] = Exit
		}
	}
	return out
}

type bollingerBreakout struct {
	period int
	k      float64
}

func newBollingerBreakout(p params) (Strategy, error) {
	period, err := p.period("period")
	if err != nil {
		return nil, err
	}
	if period < 2 {
		return nil, fmt.Errorf("%w: %s period must be at least 2", ErrInvalidStrategy, p.name)
	}
	k := p.float("k")
	if k <= 0 {
		return nil, fmt.Errorf("%w: %s k must be positive, got %v", ErrInvalidStrategy, p.name, k)
	}
	return &bollingerBreakout{period: period, k: k}, nil
}

func (s *bollingerBreakout) Name() string { return BollingerBreakout }

func (s *bollingerBreakout) Signals(series models.PriceSeries) []Action {
	closes := series.Closes()
	bands := indicator.BollingerSeries(closes, s.period, s.k)
	out := make([]Action, len(closes))
	for i, b := range bands {
		if !indicator.Ready(b.Middle) {
			continue
		}
		switch {
		case closes[i] > b.Upper:
			out[i] = Enter
		case closes[i] < b.Middle:
			out[i] = Exit
		}
	}
	return out
}

type stochastic struct {
	period               int
	oversold, overbought float64
}

func newStochastic(p params) (Strategy, error) {
	period, err := p.period("period")
	if err != nil {
		return nil, err
	}
	lo, hi, err := p.band("oversold", "overbought")
	if err != nil {
		return nil, err
	}
	return &stochastic{period: period, oversold: lo, overbought: hi}, nil
}

func (s *stochastic) Name() string { return StochasticName }

func (s *stochastic) Signals(series models.PriceSeries) []Action {
	k, d := indicator.StochasticSeries(series.Highs(), series.Lows(), series.Closes(), s.period, indicator.DefaultStochasticSmooth)
	out := make([]Action, len(k))
	for i := range k {
		if !indicator.Ready(k[i]) || !indicator.Ready(d[i]) {
			continue
		}
		switch {
		case k[i] < s.oversold && k[i] > d[i]:
			out[i] = Enter
		case k[i] > s.overbought && k[i] < d[i]:
			out[i] = Exit
		}
	}
	return out
}
