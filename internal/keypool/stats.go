package keypool

import (
	"sort"
	"time"
)

// KeyDetail is the usage of one credential.
type KeyDetail struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	Used          int       `json:"used"`
	DailyLimit    int       `json:"daily_limit"`
	Remaining     int       `json:"remaining"`
	InFlight      int       `json:"in_flight"`
	Exhausted     bool      `json:"exhausted"`
	RateLimitHits int       `json:"rate_limit_hits"`
	WindowStart   time.Time `json:"window_start"`
	ResetsAt      time.Time `json:"resets_at"`
}

// ProviderStats aggregates the credentials of one provider.
type ProviderStats struct {
	TotalKeys         int `json:"total_keys"`
	ActiveKeys        int `json:"active_keys"`
	TotalRequests     int `json:"total_requests"`
	AvailableRequests int `json:"available_requests"`
	Rejections        int `json:"rejections"`
}

// Stats is the pool-wide usage report.
type Stats struct {
	TotalKeys         int                      `json:"total_keys"`
	ActiveKeys        int                      `json:"active_keys"`
	TotalRequests     int                      `json:"total_requests"`
	AvailableRequests int                      `json:"available_requests"`
	Rejections        int                      `json:"rejections"`
	Providers         map[string]ProviderStats `json:"providers"`
	Keys              []KeyDetail              `json:"keys"`
}

// UsageStatistics reports current usage, rolling over expired windows first.
func (p *Pool) UsageStatistics() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	st := Stats{Providers: make(map[string]ProviderStats)}
	for provider, list := range p.byProvider {
		ps := ProviderStats{Rejections: p.rejections[provider]}
		for _, c := range list {
			p.refresh(c, now)
			d := KeyDetail{
				ID:            c.ID,
				Provider:      provider,
				Used:          c.Used,
				DailyLimit:    c.DailyLimit,
				Remaining:     c.Remaining(),
				InFlight:      p.inFlight[c.ID],
				Exhausted:     c.Exhausted(),
				RateLimitHits: c.RateLimitHits,
				WindowStart:   c.WindowStart,
				ResetsAt:      c.WindowStart.Add(p.window),
			}
			st.Keys = append(st.Keys, d)
			ps.TotalKeys++
			if !d.Exhausted {
				ps.ActiveKeys++
			}
			ps.TotalRequests += d.Used
			ps.AvailableRequests += d.Remaining
		}
		st.Providers[provider] = ps
		st.TotalKeys += ps.TotalKeys
		st.ActiveKeys += ps.ActiveKeys
		st.TotalRequests += ps.TotalRequests
		st.AvailableRequests += ps.AvailableRequests
		st.Rejections += ps.Rejections
	}
	sort.Slice(st.Keys, func(i, j int) bool {
		if st.Keys[i].Provider != st.Keys[j].Provider {
			return st.Keys[i].Provider < st.Keys[j].Provider
		}
		return st.Keys[i].ID < st.Keys[j].ID
	})
	return st
}
