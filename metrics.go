package goVerify

import (
	"sync/atomic"
	"time"
)

// MetricID indexes the Engine's fixed counter table.
type MetricID uint16

const (
	MetricLoginOTPIssued MetricID = iota
	MetricLoginOTPVerified
	MetricLoginOTPFailure
	MetricSecondFactorIssued
	MetricSecondFactorVerified
	MetricSecondFactorFailure
	MetricEmailOwnershipIssued
	MetricEmailOwnershipVerified
	MetricEmailOwnershipFailure
	// MetricTokenExpired counts verifications that found an expired token.
	MetricTokenExpired
	// MetricTokenAttemptsExceeded counts tokens deleted for exhausting their attempts.
	MetricTokenAttemptsExceeded
	// MetricDeliveryFailure counts Notifier errors.
	MetricDeliveryFailure
	// MetricRateLimitHit counts requests denied by any per-endpoint budget.
	MetricRateLimitHit
	MetricUserCreated
	MetricAuthorizeSuccess
	MetricAuthorizeFailure
	MetricSessionCreated
	MetricSecondFactorToggled
	// MetricAuthorizeLatency is the only histogram-backed metric.
	MetricAuthorizeLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the Authorize latency
// buckets. Observations above the last bound land in an overflow bucket.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBuckets = len(latencyBounds) + 1

// counter sits alone on a cache line so hot counters do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a lock-free counter table plus the Authorize latency histogram.
// A nil or disabled table ignores every write.
type Metrics struct {
	enabled bool
	latency bool
	values  [metricIDCount]counter
	buckets [latencyBuckets]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter. Histograms holds
// per-bucket, non-cumulative counts keyed by histogram metric.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
}

// NewMetrics returns a counter table configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool        { return m != nil && m.enabled }
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.values[id].Add(1)
}

// Observe records d when id is MetricAuthorizeLatency and histograms are on.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricAuthorizeLatency || !m.LatencyEnabled() {
		return
	}
	m.buckets[bucketFor(d)].Add(1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.values[id].Load()
}

// Snapshot copies all counters. A disabled table yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := emptySnapshot()
	if !m.Enabled() {
		return s
	}
	for id := range m.values {
		s.Counters[MetricID(id)] = m.values[id].Load()
	}
	if m.latency {
		hist := make([]uint64, latencyBuckets)
		for i := range m.buckets {
			hist[i] = m.buckets[i].Load()
		}
		s.Histograms[MetricAuthorizeLatency] = hist
	}
	return s
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
