package models

import (
	"fmt"
	"time"
)

// PricePoint is one OHLCV bar.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// PriceSeries is ordered strictly by increasing timestamp.
type PriceSeries []PricePoint

// Closes returns the close prices in series order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

// Highs returns the high prices in series order.
func (s PriceSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.High
	}
	return out
}

// Lows returns the low prices in series order.
func (s PriceSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Low
	}
	return out
}

// Validate reports the first out-of-order or non-positive bar.
func (s PriceSeries) Validate() error {
	for i, p := range s {
		if p.Close <= 0 {
			return fmt.Errorf("bar %d: non-positive close %v", i, p.Close)
		}
		if i > 0 && !p.Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("bar %d: timestamp %s not after %s", i, p.Timestamp, s[i-1].Timestamp)
		}
	}
	return nil
}

// Last returns the final bar and false when the series is empty.
func (s PriceSeries) Last() (PricePoint, bool) {
	if len(s) == 0 {
		return PricePoint{}, false
	}
	return s[len(s)-1], true
}
