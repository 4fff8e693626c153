package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram slot.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricMFAIssued
	MetricMFASuccess
	MetricMFAFailure
	MetricTrustBypass
	MetricTrustIssued
	MetricTrustRevoked
	MetricSessionCreated
	MetricSessionDestroyed
	MetricLogout
	MetricLogoutAll
	MetricResetRequest
	MetricResetSuccess
	MetricResetFailure
	MetricVerificationRequest
	MetricVerificationSuccess
	MetricVerificationFailure
	MetricAccountCreated
	MetricPasswordChangeSuccess
	MetricPasswordPolicyRejected
	MetricPasswordReuseRejected
	MetricStorageError
	MetricNotifierError
	MetricLoginLatency
	metricIDCount
)

// MetricIDCount is the number of defined metric slots, exported for the
// metrics/export packages.
const MetricIDCount = int(metricIDCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// histBounds are the cumulative upper bounds of the latency histogram, in
// milliseconds; the final bucket is +Inf.
var histBounds = [histBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	1000 * time.Millisecond,
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics holds lock-free counters and optional latency histograms. All
// write-path operations are allocation-free.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics instance. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc atomically increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample into the cumulative-style histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id >= metricIDCount {
		return
	}
	bucket := histBucketCount - 1
	for i, bound := range histBounds {
		if d <= bound {
			bucket = i
			break
		}
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucket], 1)
}

// Snapshot returns a deep copy of all non-zero metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64),
		Histograms: make(map[MetricID][]uint64),
	}
	if m == nil || !m.enabled {
		return snap
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if v := atomic.LoadUint64(&m.counters[id].value); v > 0 {
			snap.Counters[id] = v
		}
	}
	if m.enableLatency {
		for id := MetricID(0); id < metricIDCount; id++ {
			var total uint64
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
				total += buckets[i]
			}
			if total > 0 {
				snap.Histograms[id] = buckets
			}
		}
	}
	return snap
}
