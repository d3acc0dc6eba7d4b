package models

import (
	"fmt"
	"time"
)

// Side is the direction of a position: +1 long, -1 short.
type Side int

const (
	SideLong  Side = 1
	SideShort Side = -1
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*s = SideLong
	case "short":
		*s = SideShort
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// Trade is a closed round trip produced during a single backtest replay.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Side       Side      `json:"side"`
	PnLPercent float64   `json:"pnl_percent"`
	ExitReason string    `json:"exit_reason,omitempty"`
}

// BacktestResult aggregates a replay. Every statistic is derived from Trades
// and the equity curve.
type BacktestResult struct {
	Symbol             string    `json:"symbol"`
	StrategyName       string    `json:"strategy_name"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	Trades             []Trade   `json:"trades"`
	TotalReturnPercent float64   `json:"total_return_percent"`
	TotalTrades        int       `json:"total_trades"`
	WinRate            float64   `json:"win_rate"`
	MaxDrawdown        float64   `json:"max_drawdown"`
	SharpeRatio        float64   `json:"sharpe_ratio"`
	FinalEquity        float64   `json:"final_equity"`
	AvgTradeReturn     float64   `json:"avg_trade_return"`
	BestTrade          float64   `json:"best_trade"`
	WorstTrade         float64   `json:"worst_trade"`
	EquityCurve        []float64 `json:"equity_curve,omitempty"`
}
