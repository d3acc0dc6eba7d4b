// Package scanner periodically re-evaluates asset universes, raising
// deduplicated and prioritized alerts under a per-asset-class cooldown.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"market-signal-engine-go/internal/clock"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/indicator"
	"market-signal-engine-go/internal/metrics"
	"market-signal-engine-go/internal/models"
	"market-signal-engine-go/internal/scheduler"
	"market-signal-engine-go/internal/scorer"
	"market-signal-engine-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StrategyName tags the alerts raised by the scanner; deduplication works
// on (symbol, StrategyName).
const StrategyName = "Signal-Scorer"

const (
	DedupeLeave   = "leave"
	DedupeRefresh = "refresh"
)

// State is the scan state of one asset class.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateCoolingDown State = "cooling_down"
)

// MarketData is the part of the gateway the scanner needs.
type MarketData interface {
	FetchQuote(ctx context.Context, symbol string) (models.Quote, error)
	FetchHistorical(ctx context.Context, symbol string, days int) (models.PriceSeries, error)
}

// SymbolFailure is one symbol that could not be evaluated during a scan.
type SymbolFailure struct {
	Symbol  string `json:"symbol"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// ScanReport summarizes one scan.
type ScanReport struct {
	AssetClass string             `json:"asset_class"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Evaluated  int                `json:"evaluated"`
	Created    int                `json:"created"`
	Refreshed  int                `json:"refreshed"`
	Skipped    int                `json:"skipped"`
	Failures   []SymbolFailure    `json:"failures"`
	Alerts     []models.AutoAlert `json:"alerts"`
}

// Status describes one asset class for presentation.
type Status struct {
	AssetClass   string     `json:"asset_class"`
	State        State      `json:"state"`
	LastScan     *time.Time `json:"last_scan,omitempty"`
	RemainingMs  int64      `json:"cooldown_remaining_ms"`
	Symbols      int        `json:"symbols"`
	ActiveAlerts int        `json:"active_alerts"`
}

// AlertFilter selects alerts. Zero fields match everything.
type AlertFilter struct {
	AssetClass  string
	Symbol      string
	Active      *bool
	MinPriority models.Priority
}

// Scanner owns the alert set and the cooldown map. Scans of different asset
// classes may run concurrently; scans of the same class are rejected while
// one is in flight.
type Scanner struct {
	cfg       config.Scanner
	data      MarketData
	store     store.ScanStore
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Recorder
	scheduler *scheduler.Scheduler

	mu        sync.Mutex
	alerts    []models.AutoAlert
	index     map[string]int
	cooldowns map[string]time.Time
	scanning  map[string]bool
	locks     map[string]*sync.Mutex
	tokens    []*scheduler.CancellationToken
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option { return func(s *Scanner) { s.clock = c } }

// WithMetrics records scan outcomes on m.
func WithMetrics(m *metrics.Recorder) Option { return func(s *Scanner) { s.metrics = m } }

// New creates a scanner over the universes of cfg.
func New(cfg config.Scanner, data MarketData, st store.ScanStore, logger *zap.Logger, opts ...Option) (*Scanner, error) {
	if data == nil || st == nil {
		return nil, errors.New("scanner needs market data and a store")
	}
	switch cfg.DedupePolicy {
	case "":
		cfg.DedupePolicy = DedupeLeave
	case DedupeLeave, DedupeRefresh:
	default:
		return nil, fmt.Errorf("unknown dedupe policy %q", cfg.DedupePolicy)
	}
	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 1 {
		return nil, fmt.Errorf("alert threshold %v outside [0,1]", cfg.AlertThreshold)
	}

	s := &Scanner{
		cfg:       cfg,
		data:      data,
		store:     st,
		clock:     clock.New(),
		logger:    logger.Named("scanner"),
		index:     make(map[string]int),
		cooldowns: make(map[string]time.Time),
		scanning:  make(map[string]bool),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scheduler = scheduler.New(s.clock, s.logger)
	return s, nil
}

// Load replaces in-memory state with the persisted alerts and cooldowns.
func (s *Scanner) Load(ctx context.Context) error {
	alerts, err := s.store.LoadAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}
	cooldowns, err := s.store.LoadCooldowns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cooldowns: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = alerts
	s.index = make(map[string]int, len(alerts))
	for i, a := range alerts {
		s.index[a.ID] = i
	}
	s.cooldowns = cooldowns
	for class := range s.cfg.Universe {
		s.publishActive(class)
	}
	s.logger.Info("Scanner state loaded", zap.Int("alerts", len(alerts)), zap.Int("cooldowns", len(cooldowns)))
	return nil
}

// AssetClasses lists the configured asset classes in sorted order.
func (s *Scanner) AssetClasses() []string {
	out := make([]string, 0, len(s.cfg.Universe))
	for c := range s.cfg.Universe {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Scanner) classLock(assetClass string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[assetClass]
	if !ok {
		l = &sync.Mutex{}
		s.locks[assetClass] = l
	}
	return l
}

// RequestScan scans assetClass unless its cooldown is active and force is
// false, in which case a *CooldownActiveError is returned. The scan commits
// its alerts and the new cooldown atomically; a scan cancelled through ctx
// commits nothing.
func (s *Scanner) RequestScan(ctx context.Context, assetClass string, force bool) (ScanReport, error) {
	report := ScanReport{AssetClass: assetClass, Failures: []SymbolFailure{}, Alerts: []models.AutoAlert{}}
	symbols, ok := s.cfg.Universe[assetClass]
	if !ok {
		return report, fmt.Errorf("%w: %s", ErrUnknownAssetClass, assetClass)
	}

	lock := s.classLock(assetClass)
	if !lock.TryLock() {
		s.metrics.RecordScan(assetClass, "busy")
		return report, fmt.Errorf("%w: %s", ErrScanInProgress, assetClass)
	}
	defer lock.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	last, scanned := s.cooldowns[assetClass]
	if !force && scanned {
		if remaining := s.cfg.Cooldown - now.Sub(last); remaining > 0 {
			s.mu.Unlock()
			s.metrics.RecordScan(assetClass, "cooldown")
			return report, &CooldownActiveError{AssetClass: assetClass, Remaining: remaining}
		}
	}
	s.scanning[assetClass] = true
	active := s.activeByPair()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.scanning, assetClass)
		s.mu.Unlock()
	}()

	report.StartedAt = now
	log := s.logger.With(zap.String("asset_class", assetClass), zap.Bool("force", force))
	log.Info("Scan started", zap.Int("symbols", len(symbols)))

	var changed []models.AutoAlert
	for i, symbol := range uniqueSymbols(symbols) {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.InterRequestDelay); err != nil {
				return s.abort(log, report, err)
			}
		}
		quote, assessment, err := s.evaluate(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return s.abort(log, report, ctx.Err())
			}
			log.Warn("Symbol evaluation failed", zap.String("symbol", symbol), zap.Error(err))
			report.Failures = append(report.Failures, symbolFailure(symbol, err))
			continue
		}
		report.Evaluated++

		if assessment.Confidence < s.cfg.AlertThreshold {
			continue
		}
		at := s.clock.Now()
		alert := models.AutoAlert{
			AssetClass:   assetClass,
			Symbol:       symbol,
			StrategyName: StrategyName,
			Signal:       assessment.Recommendation,
			Priority:     Priority(assessment.Confidence, quote.ChangePercent),
			CurrentPrice: quote.Price,
			TargetPrice:  TargetPrice(quote.Price, assessment),
			Confidence:   assessment.Confidence,
			Reasoning:    assessment.Rationale,
			UpdatedAt:    at,
			Active:       true,
		}

		key := pairKey(symbol, StrategyName)
		if existing, dup := active[key]; dup {
			if s.cfg.DedupePolicy != DedupeRefresh {
				report.Skipped++
				continue
			}
			alert = refreshed(existing, alert)
		} else {
			alert.ID = uuid.NewString()
			alert.CreatedAt = at
		}
		changed = append(changed, alert)
		active[key] = alert
	}

	report.FinishedAt = s.clock.Now()
	if report.Evaluated == 0 && len(report.Failures) > 0 {
		s.metrics.RecordScan(assetClass, "failed")
		log.Error("Scan failed for every symbol", zap.Int("failures", len(report.Failures)))
		return report, &ScanFailedError{AssetClass: assetClass, Failures: report.Failures}
	}

	if err := s.commit(context.WithoutCancel(ctx), &report, changed); err != nil {
		s.metrics.RecordScan(assetClass, "failed")
		return report, err
	}

	s.metrics.RecordScan(assetClass, "completed")
	for _, a := range report.Alerts {
		s.metrics.RecordAlertCreated(assetClass, string(a.Priority))
	}
	log.Info("Scan completed",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("created", report.Created),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// abort discards the partial result of a cancelled scan.
func (s *Scanner) abort(log *zap.Logger, report ScanReport, err error) (ScanReport, error) {
	s.metrics.RecordScan(report.AssetClass, "cancelled")
	log.Warn("Scan cancelled, discarding partial results", zap.Int("evaluated", report.Evaluated))
	report.Created, report.Refreshed = 0, 0
	report.Alerts = []models.AutoAlert{}
	report.FinishedAt = s.clock.Now()
	return report, err
}

func (s *Scanner) evaluate(ctx context.Context, symbol string) (models.Quote, scorer.Assessment, error) {
	quote, err := s.data.FetchQuote(ctx, symbol)
	if err != nil {
		return models.Quote{}, scorer.Assessment{}, err
	}
	var snap indicator.Snapshot
	if s.cfg.HistoryDays > 0 {
		series, err := s.data.FetchHistorical(ctx, symbol, s.cfg.HistoryDays)
		if err != nil {
			if ctx.Err() != nil {
				return models.Quote{}, scorer.Assessment{}, ctx.Err()
			}
			// Scoring still runs on neutral indicator defaults.
			s.logger.Warn("History unavailable, scoring on quote only", zap.String("symbol", symbol), zap.Error(err))
		} else {
			snap = indicator.Compute(series)
		}
	}
	return quote, scorer.Score(quote, snap), nil
}

// commit persists changed alerts and the new cooldown in one transaction and
// then applies them in memory, filling the created and refreshed counts of
// report. Pairs are re-checked against the current alert set: alerts
// deactivated while the scan ran stay deactivated, and a pair another scan
// alerted on in the meantime is skipped or refreshed per the dedupe policy.
func (s *Scanner) commit(ctx context.Context, report *ScanReport, changed []models.AutoAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.activeByPair()
	apply := make([]models.AutoAlert, 0, len(changed))
	var created []models.AutoAlert
	refreshedN, skipped := 0, 0
	for _, a := range changed {
		if i, ok := s.index[a.ID]; ok && !s.alerts[i].Active {
			continue
		}
		if existing, dup := current[pairKey(a.Symbol, a.StrategyName)]; dup && existing.ID != a.ID {
			if s.cfg.DedupePolicy != DedupeRefresh {
				skipped++
				continue
			}
			a = refreshed(existing, a)
		}
		if _, ok := s.index[a.ID]; ok {
			refreshedN++
		} else {
			created = append(created, a)
		}
		current[pairKey(a.Symbol, a.StrategyName)] = a
		apply = append(apply, a)
	}
	cooldowns := make(map[string]time.Time, len(s.cooldowns)+1)
	for k, v := range s.cooldowns {
		cooldowns[k] = v
	}
	cooldowns[report.AssetClass] = report.FinishedAt

	if err := s.store.SaveScan(ctx, apply, cooldowns); err != nil {
		s.logger.Error("Failed to persist scan", zap.String("asset_class", report.AssetClass), zap.Error(err))
		return fmt.Errorf("failed to persist scan of %s: %w", report.AssetClass, err)
	}

	touched := map[string]bool{report.AssetClass: true}
	for _, a := range apply {
		touched[a.AssetClass] = true
		if i, ok := s.index[a.ID]; ok {
			s.alerts[i] = a
			continue
		}
		s.index[a.ID] = len(s.alerts)
		s.alerts = append(s.alerts, a)
	}
	s.cooldowns = cooldowns
	for class := range touched {
		s.publishActive(class)
	}

	report.Created = len(created)
	report.Refreshed = refreshedN
	report.Skipped += skipped
	if created != nil {
		report.Alerts = created
	}
	return nil
}

// refreshed carries the identity of existing over to the fresh evaluation a.
func refreshed(existing, a models.AutoAlert) models.AutoAlert {
	a.ID = existing.ID
	a.CreatedAt = existing.CreatedAt
	a.AssetClass = existing.AssetClass
	return a
}

// activeByPair indexes active alerts by (symbol, strategy). Caller holds mu.
func (s *Scanner) activeByPair() map[string]models.AutoAlert {
	out := make(map[string]models.AutoAlert)
	for _, a := range s.alerts {
		if a.Active {
			out[pairKey(a.Symbol, a.StrategyName)] = a
		}
	}
	return out
}

// publishActive updates the active-alert gauge. Caller holds mu.
func (s *Scanner) publishActive(assetClass string) {
	n := 0
	for _, a := range s.alerts {
		if a.Active && a.AssetClass == assetClass {
			n++
		}
	}
	s.metrics.SetActiveAlerts(assetClass, n)
}

// DeactivateAlert soft-deletes the alert. Deactivating an inactive alert is a no-op.
func (s *Scanner) DeactivateAlert(ctx context.Context, id string) (models.AutoAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return models.AutoAlert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	a := s.alerts[i]
	if !a.Active {
		return a, nil
	}
	now := s.clock.Now()
	a.Active = false
	a.DeactivatedAt = &now
	a.UpdatedAt = now
	if err := s.store.SaveAlerts(ctx, []models.AutoAlert{a}); err != nil {
		return models.AutoAlert{}, fmt.Errorf("failed to persist deactivation of %s: %w", id, err)
	}
	s.alerts[i] = a
	s.publishActive(a.AssetClass)
	s.logger.Info("Alert deactivated", zap.String("id", id), zap.String("symbol", a.Symbol))
	return a, nil
}

// ActiveAlerts returns active alerts, highest priority first, newest first
// within a priority.
func (s *Scanner) ActiveAlerts() []models.AutoAlert {
	active := true
	out := s.Alerts(AlertFilter{Active: &active})
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Alerts returns the alerts matching f in creation order.
func (s *Scanner) Alerts(f AlertFilter) []models.AutoAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AutoAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if f.AssetClass != "" && a.AssetClass != f.AssetClass {
			continue
		}
		if f.Symbol != "" && !strings.EqualFold(a.Symbol, f.Symbol) {
			continue
		}
		if f.Active != nil && a.Active != *f.Active {
			continue
		}
		if f.MinPriority != "" && a.Priority.Rank() < f.MinPriority.Rank() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Status reports the scan state of assetClass.
func (s *Scanner) Status(assetClass string) (Status, error) {
	symbols, ok := s.cfg.Universe[assetClass]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownAssetClass, assetClass)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{AssetClass: assetClass, State: StateIdle, Symbols: len(uniqueSymbols(symbols))}
	if last, ok := s.cooldowns[assetClass]; ok {
		last := last
		st.LastScan = &last
		if remaining := s.cfg.Cooldown - s.clock.Now().Sub(last); remaining > 0 {
			st.State = StateCoolingDown
			st.RemainingMs = remaining.Milliseconds()
		}
	}
	if s.scanning[assetClass] {
		st.State = StateScanning
	}
	for _, a := range s.alerts {
		if a.Active && a.AssetClass == assetClass {
			st.ActiveAlerts++
		}
	}
	return st, nil
}

// Start schedules a periodic scan of every asset class. Scheduled scans
// respect the cooldown.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) > 0 {
		return errors.New("scanner already started")
	}
	for _, class := range s.AssetClasses() {
		class := class
		token, err := s.scheduler.Schedule(ctx, s.cfg.Interval, func(ctx context.Context) {
			s.scheduledScan(ctx, class)
		})
		if err != nil {
			for _, t := range s.tokens {
				t.Cancel()
			}
			s.tokens = nil
			return err
		}
		s.tokens = append(s.tokens, token)
	}
	s.logger.Info("Scanner started", zap.Duration("interval", s.cfg.Interval), zap.Strings("asset_classes", s.AssetClasses()))
	return nil
}

func (s *Scanner) scheduledScan(ctx context.Context, assetClass string) {
	_, err := s.RequestScan(ctx, assetClass, false)
	var cooldown *CooldownActiveError
	switch {
	case err == nil:
	case errors.As(err, &cooldown), errors.Is(err, ErrScanInProgress):
		s.logger.Debug("Scheduled scan skipped", zap.String("asset_class", assetClass), zap.Error(err))
	default:
		s.logger.Error("Scheduled scan failed", zap.String("asset_class", assetClass), zap.Error(err))
	}
}

// Stop cancels future scheduled scans and waits for in-flight ones to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
	for _, t := range tokens {
		t.Wait()
	}
	if len(tokens) > 0 {
		s.logger.Info("Scanner stopped")
	}
}

func pairKey(symbol, strategy string) string {
	return strings.ToUpper(symbol) + "|" + strategy
}

func uniqueSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

func symbolFailure(symbol string, err error) SymbolFailure {
	f := SymbolFailure{Symbol: symbol, Error: err.Error(), Message: err.Error(), Err: err}
	var all *gateway.AllProvidersFailedError
	if errors.As(err, &all) {
		f.Message = all.UserMessage()
	}
	return f
}
