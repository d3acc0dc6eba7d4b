package scanner

import (
	"math"

	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/scorer"
)

const (
	criticalConfidence = 0.85
	criticalMove       = 10.0 // percent

	highWeight   = 5.0
	mediumWeight = 2.0
)

// Priority ranks a finding. Critical needs both high confidence and an
// extreme move; the rest is graded on confidence × |change%|.
func Priority(confidence, changePercent float64) models.Priority {
	move := math.Abs(changePercent)
	if confidence >= criticalConfidence && move >= criticalMove {
		return models.PriorityCritical
	}
	switch w := confidence * move; {
	case w >= highWeight:
		return models.PriorityHigh
	case w >= mediumWeight:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// TargetPrice projects the assessment's potential onto price.
func TargetPrice(price float64, a scorer.Assessment) float64 {
	switch a.Recommendation {
	case models.SignalBuy:
		return price * (1 + a.Potential)
	case models.SignalSell:
		return price * (1 - a.Potential)
	default:
		return price
	}
}
