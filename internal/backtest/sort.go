package backtest

import (
	"fmt"
	"sort"

	"market-signal-engine-go/internal/models"
)

var sortKeys = map[string]func(r models.BacktestResult) float64{
	"total_return_percent": func(r models.BacktestResult) float64 { return r.TotalReturnPercent },
	"win_rate":             func(r models.BacktestResult) float64 { return r.WinRate },
	"max_drawdown":         func(r models.BacktestResult) float64 { return r.MaxDrawdown },
	"sharpe_ratio":         func(r models.BacktestResult) float64 { return r.SharpeRatio },
	"total_trades":         func(r models.BacktestResult) float64 { return float64(r.TotalTrades) },
	"final_equity":         func(r models.BacktestResult) float64 { return r.FinalEquity },
	"avg_trade_return":     func(r models.BacktestResult) float64 { return r.AvgTradeReturn },
}

// SortResults orders results in place by field, which is one of the JSON
// names of the numeric BacktestResult statistics or "symbol". Ties keep
// their input order.
func SortResults(results []models.BacktestResult, field string, desc bool) error {
	if field == "symbol" {
		sort.SliceStable(results, func(i, j int) bool {
			if desc {
				return results[i].Symbol > results[j].Symbol
			}
			return results[i].Symbol < results[j].Symbol
		})
		return nil
	}
	key, ok := sortKeys[field]
	if !ok {
		return fmt.Errorf("unknown sort field %q", field)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if desc {
			return key(results[i]) > key(results[j])
		}
		return key(results[i]) < key(results[j])
	})
	return nil
}
