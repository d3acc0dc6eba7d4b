package models

import "time"

// Signal is the action an alert suggests.
type Signal string

const (
	SignalBuy   Signal = "buy"
	SignalSell  Signal = "sell"
	SignalWatch Signal = "watch"
)

// Priority orders alerts for presentation.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank maps a priority onto 0 (low) .. 3 (critical).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// AutoAlert is a finding produced by the scanner. Alerts are soft-deactivated,
// never deleted.
type AutoAlert struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	AssetClass    string     `gorm:"index" json:"asset_class"`
	Symbol        string     `gorm:"index:idx_alert_pair" json:"symbol"`
	StrategyName  string     `gorm:"index:idx_alert_pair" json:"strategy_name"`
	Signal        Signal     `json:"signal"`
	Priority      Priority   `json:"priority"`
	CurrentPrice  float64    `json:"current_price"`
	TargetPrice   float64    `json:"target_price"`
	Confidence    float64    `json:"confidence"`
	Reasoning     string     `json:"reasoning"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Active        bool       `gorm:"index" json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}
