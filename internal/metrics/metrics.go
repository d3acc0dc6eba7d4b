package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the Prometheus collectors of the signal pipeline. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	keyUsed          *prometheus.GaugeVec
	keyRemaining     *prometheus.GaugeVec
	keyRejections    *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	scans            *prometheus.CounterVec
	alertsCreated    *prometheus.CounterVec
	activeAlerts     *prometheus.GaugeVec
	backtests        *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		keyUsed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signals", Subsystem: "keypool", Name: "used",
			Help: "Requests consumed in the current quota window per credential",
		}, []string{"provider", "key"}),
		keyRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signals", Subsystem: "keypool", Name: "remaining",
			Help: "Requests left in the current quota window per credential",
		}, []string{"provider", "key"}),
		keyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signals", Subsystem: "keypool", Name: "exhausted_total",
			Help: "Acquire calls rejected because every credential was exhausted",
		}, []string{"provider"}),
		providerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signals", Subsystem: "gateway", Name: "provider_requests_total",
			Help: "Provider calls by outcome",
		}, []string{"provider", "operation", "outcome"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signals", Subsystem: "gateway", Name: "provider_duration_seconds",
			Help:    "Provider call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signals", Subsystem: "gateway", Name: "cache_lookups_total",
			Help: "Quote cache lookups by result",
		}, []string{"result"}),
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signals", Subsystem: "scanner", Name: "scans_total",
			Help: "Scan requests by asset class and outcome",
		}, []string{"asset_class", "outcome"}),
		alertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signals", Subsystem: "scanner", Name: "alerts_created_total",
			Help: "Alerts created by asset class and priority",
		}, []string{"asset_class", "priority"}),
		activeAlerts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signals", Subsystem: "scanner", Name: "active_alerts",
			Help: "Currently active alerts per asset class",
		}, []string{"asset_class"}),
		backtests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signals", Subsystem: "backtest", Name: "runs_total",
			Help: "Backtest runs by strategy and outcome",
		}, []string{"strategy", "outcome"}),
	}
}

// RecordKeyUsage publishes the quota state of one credential.
func (r *Recorder) RecordKeyUsage(provider, key string, used, remaining int) {
	if r == nil {
		return
	}
	r.keyUsed.WithLabelValues(provider, key).Set(float64(used))
	r.keyRemaining.WithLabelValues(provider, key).Set(float64(remaining))
}

// RecordKeyExhausted counts an Acquire that found no usable credential.
func (r *Recorder) RecordKeyExhausted(provider string) {
	if r == nil {
		return
	}
	r.keyRejections.WithLabelValues(provider).Inc()
}

// RecordProviderCall records one provider call and its latency.
func (r *Recorder) RecordProviderCall(provider, operation, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(provider, operation, outcome).Inc()
	r.providerLatency.WithLabelValues(provider, operation).Observe(seconds)
}

// RecordProviderSkip counts a provider skipped without a network call.
func (r *Recorder) RecordProviderSkip(provider, operation, reason string) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(provider, operation, reason).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (r *Recorder) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// RecordScan counts a scan outcome (completed, cooldown, busy, failed).
func (r *Recorder) RecordScan(assetClass, outcome string) {
	if r == nil {
		return
	}
	r.scans.WithLabelValues(assetClass, outcome).Inc()
}

// RecordAlertCreated counts a new alert.
func (r *Recorder) RecordAlertCreated(assetClass, priority string) {
	if r == nil {
		return
	}
	r.alertsCreated.WithLabelValues(assetClass, priority).Inc()
}

// SetActiveAlerts publishes the active alert count of an asset class.
func (r *Recorder) SetActiveAlerts(assetClass string, n int) {
	if r == nil {
		return
	}
	r.activeAlerts.WithLabelValues(assetClass).Set(float64(n))
}

// RecordBacktest counts a backtest outcome.
func (r *Recorder) RecordBacktest(strategy, outcome string) {
	if r == nil {
		return
	}
	r.backtests.WithLabelValues(strategy, outcome).Inc()
}
