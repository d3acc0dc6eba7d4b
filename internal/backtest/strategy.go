package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"market-signal-engine-go/internal/models"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidStrategy wraps every strategy configuration error.
var ErrInvalidStrategy = errors.New("invalid strategy")

// Action is a strategy's decision at the close of one bar.
type Action int

const (
	Hold Action = iota
	Enter
	Exit
)

// Strategy evaluates entry and exit rules over a series. Signals must be
// causal: the action at index i may only depend on bars 0..i.
type Strategy interface {
	Name() string
	Signals(series models.PriceSeries) []Action
}

// Definition describes a catalog strategy and its default parameters.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
	build       func(p params) (Strategy, error)
}

const (
	SMACross          = "SMA-Cross"
	RSIReversion      = "RSI-Reversion"
	MACDCross         = "MACD-Cross"
	BollingerBreakout = "Bollinger-Breakout"
	StochasticName    = "Stochastic"
)

var catalog = map[string]Definition{
	SMACross: {
		Name:        SMACross,
		Description: "Long while the fast SMA is above the slow SMA.",
		Defaults:    map[string]float64{"fast": 10, "slow": 30},
		build:       newSMACross,
	},
	RSIReversion: {
		Name:        RSIReversion,
		Description: "Buy when RSI is oversold, sell when it turns overbought.",
		Defaults:    map[string]float64{"period": 14, "oversold": 30, "overbought": 70},
		build:       newRSIReversion,
	},
	MACDCross: {
		Name:        MACDCross,
		Description: "Long while the MACD line is above its signal line.",
		Defaults:    map[string]float64{"fast": 12, "slow": 26, "signal": 9},
		build:       newMACDCross,
	},
	BollingerBreakout: {
		Name:        BollingerBreakout,
		Description: "Buy a close above the upper band, exit below the middle band.",
		Defaults:    map[string]float64{"period": 20, "k": 2},
		build:       newBollingerBreakout,
	},
	StochasticName: {
		Name:        StochasticName,
		Description: "Buy when %K turns up from oversold, sell when it turns down from overbought.",
		Defaults:    map[string]float64{"period": 14, "oversold": 20, "overbought": 80},
		build:       newStochastic,
	},
}

// Catalog lists the available strategies ordered by name.
func Catalog() []Definition {
	out := make([]Definition, 0, len(catalog))
	for _, d := range catalog {
		defaults := make(map[string]float64, len(d.Defaults))
		for k, v := range d.Defaults {
			defaults[k] = v
		}
		d.Defaults = defaults
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultConfig returns the catalog defaults for name.
func DefaultConfig(name string) (models.StrategyConfig, error) {
	d, ok := catalog[name]
	if !ok {
		return models.StrategyConfig{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidStrategy, name)
	}
	p := make(map[string]float64, len(d.Defaults))
	for k, v := range d.Defaults {
		p[k] = v
	}
	return models.StrategyConfig{Name: name, Parameters: p}, nil
}

var validate = validator.New()

// NewStrategy builds the strategy described by cfg. Missing parameters take
// catalog defaults; unknown or out-of-range parameters are rejected.
func NewStrategy(cfg models.StrategyConfig) (Strategy, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}
	d, ok := catalog[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidStrategy, cfg.Name)
	}
	for k, v := range cfg.Parameters {
		if _, known := d.Defaults[k]; !known {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrInvalidStrategy, cfg.Name, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s parameter %q is not finite", ErrInvalidStrategy, cfg.Name, k)
		}
	}
	return d.build(params{name: cfg.Name, cfg: cfg, defaults: d.Defaults})
}

type params struct {
	name     string
	cfg      models.StrategyConfig
	defaults map[string]float64
}

func (p params) float(key string) float64 {
	return p.cfg.Param(key, p.defaults[key])
}

// period reads a whole, positive bar count.
func (p params) period(key string) (int, error) {
	v := p.float(key)
	if v < 1 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s parameter %q must be a positive whole number, got %v", ErrInvalidStrategy, p.name, key, v)
	}
	return int(v), nil
}

// band reads an oversold/overbought pair inside (0, 100).
func (p params) band(low, high string) (float64, float64, error) {
	lo, hi := p.float(low), p.float(high)
	if lo <= 0 || hi >= 100 || lo >= hi {
		return 0, 0, fmt.Errorf("%w: %s requires 0 < %s < %s < 100, got %v and %v", ErrInvalidStrategy, p.name, low, high, lo, hi)
	}
	return lo, hi, nil
}
