// Package keypool rotates API credentials across data providers and enforces
// their daily request quotas.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/metrics"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/store"

	"go.uber.org/zap"
)

// QuotaWindow is the length of a credential's usage window.
const QuotaWindow = 24 * time.Hour

var (
	// ErrExhausted is returned by Acquire when no credential of the provider
	// has quota left.
	ErrExhausted = errors.New("all credentials exhausted")
	// ErrUnknownCredential is returned for handles that do not match a pooled credential.
	ErrUnknownCredential = errors.New("unknown credential")
	// ErrInvalidCredential wraps construction-time invariant violations.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Handle identifies an acquired credential. Each successful Acquire reserves
// one request of quota until RecordUsage or Release is called.
type Handle struct {
	ID       string
	Provider string
	Secret   string
}

// Pool owns every provider credential. All mutation happens under mu, so
// concurrent gateway calls can never push Used past DailyLimit.
type Pool struct {
	mu         sync.Mutex
	clock      clock.Clock
	window     time.Duration
	logger     *zap.Logger
	metrics    *metrics.Recorder
	store      store.CredentialStore
	byProvider map[string][]*models.ProviderCredential
	byID       map[string]*models.ProviderCredential
	inFlight   map[string]int
	cursor     map[string]int
	rejections map[string]int
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the wall clock used for quota windows.
func WithClock(c clock.Clock) Option { return func(p *Pool) { p.clock = c } }

// WithMetrics publishes per-key usage gauges.
func WithMetrics(m *metrics.Recorder) Option { return func(p *Pool) { p.metrics = m } }

// WithStore enables Restore and Flush.
func WithStore(s store.CredentialStore) Option { return func(p *Pool) { p.store = s } }

// WithWindow overrides QuotaWindow.
func WithWindow(d time.Duration) Option { return func(p *Pool) { p.window = d } }

// NewPool validates creds and builds a pool. Credentials are rotated in the
// order given.
func NewPool(creds []models.ProviderCredential, logger *zap.Logger, opts ...Option) (*Pool, error) {
	p := &Pool{
		clock:      clock.New(),
		window:     QuotaWindow,
		logger:     logger.Named("keypool"),
		byProvider: make(map[string][]*models.ProviderCredential),
		byID:       make(map[string]*models.ProviderCredential),
		inFlight:   make(map[string]int),
		cursor:     make(map[string]int),
		rejections: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, c := range creds {
		if err := p.add(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func validate(c models.ProviderCredential) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidCredential)
	case c.ProviderName == "":
		return fmt.Errorf("%w: %s has no provider", ErrInvalidCredential, c.ID)
	case c.DailyLimit <= 0:
		return fmt.Errorf("%w: %s has non-positive daily limit %d", ErrInvalidCredential, c.ID, c.DailyLimit)
	case c.Used < 0 || c.Used > c.DailyLimit:
		return fmt.Errorf("%w: %s has usage %d outside [0,%d]", ErrInvalidCredential, c.ID, c.Used, c.DailyLimit)
	}
	return nil
}

// add must be called with mu held or before the pool is shared.
func (p *Pool) add(c models.ProviderCredential) error {
	if err := validate(c); err != nil {
		return err
	}
	if _, dup := p.byID[c.ID]; dup {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidCredential, c.ID)
	}
	if c.WindowStart.IsZero() {
		c.WindowStart = p.clock.Now()
	}
	cred := c
	p.byID[c.ID] = &cred
	p.byProvider[c.ProviderName] = append(p.byProvider[c.ProviderName], &cred)
	return nil
}

// AddCredential adds a credential at runtime.
func (p *Pool) AddCredential(c models.ProviderCredential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.add(c)
}

// RemoveCredential drops a credential from rotation.
func (p *Pool) RemoveCredential(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCredential, id)
	}
	list := p.byProvider[cred.ProviderName]
	for i, c := range list {
		if c.ID == id {
			p.byProvider[cred.ProviderName] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(p.byProvider[cred.ProviderName]) == 0 {
		delete(p.byProvider, cred.ProviderName)
	}
	delete(p.byID, id)
	delete(p.inFlight, id)
	return nil
}

// HasProvider reports whether any credential is pooled for provider.
func (p *Pool) HasProvider(provider string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byProvider[provider]) > 0
}

// refresh lazily rolls over an expired quota window. Caller holds mu.
func (p *Pool) refresh(c *models.ProviderCredential, now time.Time) {
	if now.Sub(c.WindowStart) >= p.window {
		if c.Used > 0 {
			p.logger.Debug("Quota window rolled over", zap.String("key", c.ID), zap.Int("used", c.Used))
		}
		c.Used = 0
		c.WindowStart = now
	}
}

// available counts quota not yet used nor reserved. Caller holds mu.
func (p *Pool) available(c *models.ProviderCredential) int {
	n := c.DailyLimit - c.Used - p.inFlight[c.ID]
	if n < 0 {
		return 0
	}
	return n
}

// Acquire picks the next credential of provider in round-robin order,
// skipping exhausted ones, and reserves one request of its quota.
func (p *Pool) Acquire(provider string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.byProvider[provider]
	if len(list) == 0 {
		return Handle{}, fmt.Errorf("%w: no credentials for %s", ErrExhausted, provider)
	}

	now := p.clock.Now()
	start := p.cursor[provider] % len(list)
	for i := 0; i < len(list); i++ {
		idx := (start + i) % len(list)
		c := list[idx]
		p.refresh(c, now)
		if p.available(c) == 0 {
			continue
		}
		p.inFlight[c.ID]++
		p.cursor[provider] = idx + 1
		return Handle{ID: c.ID, Provider: provider, Secret: c.Secret}, nil
	}

	p.rejections[provider]++
	p.metrics.RecordKeyExhausted(provider)
	p.logger.Warn("All credentials exhausted", zap.String("provider", provider), zap.Int("keys", len(list)))
	return Handle{}, fmt.Errorf("%w: %s", ErrExhausted, provider)
}

// release drops one reservation. Caller holds mu.
func (p *Pool) release(id string) {
	if p.inFlight[id] > 0 {
		p.inFlight[id]--
	}
	if p.inFlight[id] == 0 {
		delete(p.inFlight, id)
	}
}

// RecordUsage charges cost requests to the credential and ends the
// reservation made by Acquire. Usage is capped at the daily limit.
func (p *Pool) RecordUsage(h Handle, cost int) error {
	if cost < 0 {
		return fmt.Errorf("negative usage cost %d", cost)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[h.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCredential, h.ID)
	}
	p.release(h.ID)
	p.refresh(c, p.clock.Now())
	c.Used += cost
	if c.Used > c.DailyLimit {
		c.Used = c.DailyLimit
	}
	p.metrics.RecordKeyUsage(c.ProviderName, c.ID, c.Used, c.Remaining())
	return nil
}

// Release ends a reservation without charging quota, for calls that failed
// before reaching the vendor.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(h.ID)
}

// MarkExhausted flags the credential as spent for the rest of its window,
// typically after the vendor answered HTTP 429.
func (p *Pool) MarkExhausted(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[h.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCredential, h.ID)
	}
	p.release(h.ID)
	p.refresh(c, p.clock.Now())
	c.Used = c.DailyLimit
	c.RateLimitHits++
	p.metrics.RecordKeyUsage(c.ProviderName, c.ID, c.Used, 0)
	p.logger.Warn("Credential marked exhausted", zap.String("provider", c.ProviderName), zap.String("key", c.ID))
	return nil
}

// Reset clears usage of every credential of provider, or of all providers
// when provider is empty.
func (p *Pool) Reset(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	for _, c := range p.byID {
		if provider != "" && c.ProviderName != provider {
			continue
		}
		c.Used = 0
		c.WindowStart = now
	}
}

// Credentials returns a copy of every credential, ordered by provider then id.
func (p *Pool) Credentials() []models.ProviderCredential {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	out := make([]models.ProviderCredential, 0, len(p.byID))
	for _, c := range p.byID {
		p.refresh(c, now)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderName != out[j].ProviderName {
			return out[i].ProviderName < out[j].ProviderName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore loads persisted usage counters for credentials already in the pool.
// Stored credentials unknown to the pool are ignored.
func (p *Pool) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	saved, err := p.store.LoadProviderCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore credential usage: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	restored := 0
	for _, s := range saved {
		c, ok := p.byID[s.ID]
		if !ok {
			continue
		}
		c.Used = s.Used
		if c.Used > c.DailyLimit {
			c.Used = c.DailyLimit
		}
		if c.Used < 0 {
			c.Used = 0
		}
		c.WindowStart = s.WindowStart
		c.RateLimitHits = s.RateLimitHits
		restored++
	}
	p.logger.Info("Restored credential usage", zap.Int("restored", restored), zap.Int("stored", len(saved)))
	return nil
}

// Flush persists the current usage counters.
func (p *Pool) Flush(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.SaveProviderCredentials(ctx, p.Credentials()); err != nil {
		return fmt.Errorf("failed to flush credential usage: %w", err)
	}
	return nil
}
