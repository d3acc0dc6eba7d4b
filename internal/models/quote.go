package models

import "time"

// Quote is an immutable price snapshot normalized from a vendor payload.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        float64   `json:"volume"`
	MarketCap     float64   `json:"market_cap"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}
