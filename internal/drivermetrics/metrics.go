// Package drivermetrics defines the Prometheus instrumentation surface
// for the Connection Director and token parser: dial outcomes,
// reconnect attempts, CEK cache efficiency, attention round-trips, and
// login latency. Grounded on the connection-pooling proxy's
// internal/metrics/metrics.go, but built as a constructor over an
// explicit prometheus.Registerer instead of promauto package-level
// globals, so more than one driver instance (or more than one test)
// can coexist without a duplicate-registration panic.
package drivermetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of collectors one driver instance exposes. A nil
// *Metrics is valid everywhere a method is called on it: every method
// below guards against a nil receiver, so callers that don't want
// instrumentation can pass one around unconditionally instead of
// threading an enabled/disabled flag through every call site.
type Metrics struct {
	dialAttempts   *prometheus.CounterVec
	dialOutcomes   *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	cekCache       *prometheus.CounterVec
	attentionRTT   prometheus.Histogram
	loginLatency   prometheus.Histogram
}

// New constructs a Metrics registered against reg. If reg is nil the
// collectors are still created (so every method is safe to call) but
// never registered anywhere, making New(nil) the quiet default for
// embedding applications that don't run a Prometheus exporter.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_dial_attempts_total",
			Help: "Socket-finder dial attempts by address family",
		}, []string{"family"}),
		dialOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_dial_outcomes_total",
			Help: "Socket-finder dial outcomes (win/lose/timeout)",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_reconnect_attempts_total",
			Help: "Session-recovery reconnect attempts by outcome",
		}, []string{"outcome"}),
		cekCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_cek_cache_total",
			Help: "Column-encryption key cache hits and misses",
		}, []string{"result"}),
		attentionRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_attention_roundtrip_seconds",
			Help:    "Time from sending an ATTENTION packet to receiving its DONE(attn) confirmation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_login_seconds",
			Help:    "Time from dial start to a ready, logged-in connection",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.dialAttempts, m.dialOutcomes, m.reconnects, m.cekCache, m.attentionRTT, m.loginLatency)
	}
	return m
}

func (m *Metrics) DialAttempt(family string) {
	if m == nil {
		return
	}
	m.dialAttempts.WithLabelValues(family).Inc()
}

func (m *Metrics) DialWon(family string) {
	if m == nil {
		return
	}
	m.dialOutcomes.WithLabelValues("won").Inc()
}

func (m *Metrics) DialLost(outcome string) {
	if m == nil {
		return
	}
	m.dialOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconnectAttempt(outcome string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CekCacheHit() {
	if m == nil {
		return
	}
	m.cekCache.WithLabelValues("hit").Inc()
}

func (m *Metrics) CekCacheMiss() {
	if m == nil {
		return
	}
	m.cekCache.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveAttentionRoundTrip(seconds float64) {
	if m == nil {
		return
	}
	m.attentionRTT.Observe(seconds)
}

func (m *Metrics) ObserveLoginLatency(seconds float64) {
	if m == nil {
		return
	}
	m.loginLatency.Observe(seconds)
}
