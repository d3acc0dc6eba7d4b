package models

import "time"

// ProviderCredential is an API key with a rolling daily request quota.
// Used never exceeds DailyLimit; a credential at its limit is exhausted
// until its window rolls over.
type ProviderCredential struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	ProviderName string    `gorm:"index;not null" json:"provider"`
	Secret       string    `gorm:"-" json:"-"`
	DailyLimit   int       `gorm:"not null" json:"daily_limit"`
	Used         int       `json:"used"`
	WindowStart  time.Time `json:"window_start"`
	// RateLimitHits counts vendor-side rejections (HTTP 429) for observability.
	RateLimitHits int `json:"rate_limit_hits"`
}

// Exhausted reports whether the quota is fully consumed.
func (c *ProviderCredential) Exhausted() bool {
	return c.Used >= c.DailyLimit
}

// Remaining is the number of requests left in the current window.
func (c *ProviderCredential) Remaining() int {
	if c.Used >= c.DailyLimit {
		return 0
	}
	return c.DailyLimit - c.Used
}
