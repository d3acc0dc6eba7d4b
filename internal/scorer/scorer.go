// Package scorer turns a quote and its indicator snapshot into a trading
// recommendation through a fixed decision table. Score is pure: the same
// inputs always produce the same Assessment.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"market-signal-engine-go/internal/indicator"
	"market-signal-engine-go/internal/models"
)

// RiskLevel is the scorer's risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CapBucket is the market-capitalization class of an asset.
type CapBucket string

const (
	CapUnknown CapBucket = "unknown"
	CapMicro   CapBucket = "micro"
	CapSmall   CapBucket = "small"
	CapMid     CapBucket = "mid"
	CapLarge   CapBucket = "large"
)

const (
	baseScore      = 0.5
	baseConfidence = 0.5

	// BuyThreshold and SellThreshold bound the watch zone of the score.
	BuyThreshold  = 0.6
	SellThreshold = 0.4

	strongMove   = 10.0 // percent
	moderateMove = 3.0

	highLiquidity = 1e9 // quote currency per day
	fairLiquidity = 1e7
	thinLiquidity = 1e6

	microCap = 3e8
	smallCap = 2e9
	midCap   = 1e10

	maxPotential = 0.2
)

// Factor is one triggered rule of the decision table.
type Factor struct {
	Name       string  `json:"name"`
	ScoreDelta float64 `json:"score_delta"`
	ConfDelta  float64 `json:"confidence_delta"`
	Reason     string  `json:"reason"`
}

// Assessment is the scorer's output. Potential is the expected move as a
// fraction of the current price.
type Assessment struct {
	Recommendation models.Signal `json:"recommendation"`
	Score          float64       `json:"score"`
	Confidence     float64       `json:"confidence"`
	RiskLevel      RiskLevel     `json:"risk_level"`
	Potential      float64       `json:"potential"`
	Rationale      string        `json:"rationale"`
	Factors        []Factor      `json:"factors"`
}

// Bucket classifies a market capitalization. Zero means unknown.
func Bucket(marketCap float64) CapBucket {
	switch {
	case marketCap <= 0:
		return CapUnknown
	case marketCap < microCap:
		return CapMicro
	case marketCap < smallCap:
		return CapSmall
	case marketCap < midCap:
		return CapMid
	default:
		return CapLarge
	}
}

// Score evaluates momentum, trend indicators, liquidity and capitalization.
func Score(q models.Quote, snap indicator.Snapshot) Assessment {
	var factors []Factor
	add := func(name string, ds, dc float64, format string, args ...interface{}) {
		factors = append(factors, Factor{Name: name, ScoreDelta: ds, ConfDelta: dc, Reason: fmt.Sprintf(format, args...)})
	}

	chg := q.ChangePercent
	switch {
	case chg >= strongMove:
		add("momentum", 0.25, 0.15, "strong upward momentum (%+.2f%%)", chg)
	case chg >= moderateMove:
		add("momentum", 0.15, 0.10, "upward momentum (%+.2f%%)", chg)
	case chg <= -strongMove:
		add("momentum", -0.25, 0.15, "strong downward momentum (%+.2f%%)", chg)
	case chg <= -moderateMove:
		add("momentum", -0.15, 0.10, "downward momentum (%+.2f%%)", chg)
	default:
		add("momentum", 0, -0.05, "flat price action (%+.2f%%)", chg)
	}

	if snap.Bars > indicator.MomentumLookback {
		switch {
		case snap.Momentum >= strongMove:
			add("trend", 0.05, 0.05, "%.1f%% gain over %d bars", snap.Momentum, indicator.MomentumLookback)
		case snap.Momentum <= -strongMove:
			add("trend", -0.05, 0.05, "%.1f%% loss over %d bars", -snap.Momentum, indicator.MomentumLookback)
		}
	}

	if snap.Bars > indicator.DefaultRSIPeriod {
		switch {
		case snap.RSI <= 30:
			add("rsi", 0.10, 0.05, "RSI %.1f oversold", snap.RSI)
		case snap.RSI >= 70:
			add("rsi", -0.10, 0.05, "RSI %.1f overbought", snap.RSI)
		}
	}

	switch {
	case snap.MACD.Histogram > 0:
		add("macd", 0.05, 0, "MACD above signal")
	case snap.MACD.Histogram < 0:
		add("macd", -0.05, 0, "MACD below signal")
	}

	if snap.LastClose > 0 && snap.SMA20 != snap.SMA50 {
		switch {
		case snap.LastClose > snap.SMA20 && snap.SMA20 > snap.SMA50:
			add("moving_average", 0.05, 0.05, "price above rising averages")
		case snap.LastClose < snap.SMA20 && snap.SMA20 < snap.SMA50:
			add("moving_average", -0.05, 0.05, "price below falling averages")
		}
	}

	switch {
	case q.Volume >= highLiquidity:
		add("liquidity", 0, 0.10, "high liquidity")
	case q.Volume >= fairLiquidity:
		add("liquidity", 0, 0.05, "adequate liquidity")
	case q.Volume < thinLiquidity:
		add("liquidity", 0, -0.15, "thin liquidity")
	}

	bucket := Bucket(q.MarketCap)
	switch bucket {
	case CapMicro:
		add("market_cap", 0, -0.10, "micro cap")
	case CapSmall:
		add("market_cap", 0, -0.05, "small cap")
	case CapLarge:
		add("market_cap", 0, 0.05, "large cap")
	}

	score, conf := baseScore, baseConfidence
	reasons := make([]string, 0, len(factors))
	for _, f := range factors {
		score += f.ScoreDelta
		conf += f.ConfDelta
		reasons = append(reasons, f.Reason)
	}
	score = clamp(score)
	conf = clamp(conf)

	rec := models.SignalWatch
	switch {
	case score >= BuyThreshold:
		rec = models.SignalBuy
	case score <= SellThreshold:
		rec = models.SignalSell
	}

	potential := 0.0
	if rec != models.SignalWatch {
		potential = math.Min(math.Abs(score-baseScore)*0.4, maxPotential)
	}

	return Assessment{
		Recommendation: rec,
		Score:          score,
		Confidence:     conf,
		RiskLevel:      risk(q, bucket),
		Potential:      potential,
		Rationale:      strings.Join(reasons, "; "),
		Factors:        factors,
	}
}

func risk(q models.Quote, bucket CapBucket) RiskLevel {
	if math.Abs(q.ChangePercent) >= strongMove || bucket == CapMicro || q.Volume < thinLiquidity {
		return RiskHigh
	}
	if bucket == CapLarge && q.Volume >= fairLiquidity {
		return RiskLow
	}
	return RiskMedium
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
