package drivermetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAgainstGivenRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.DialAttempt("tcp4")
	m.DialWon("tcp4")
	m.CekCacheHit()
	m.ObserveLoginLatency(0.25)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewWithNilRegistererDoesNotPanic(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	m.DialAttempt("tcp6")
	m.ReconnectAttempt("success")
	m.CekCacheMiss()
	m.ObserveAttentionRoundTrip(0.01)
}

func TestNilMetricsIsSafeToCall(t *testing.T) {
	var m *Metrics
	m.DialAttempt("tcp4")
	m.DialWon("tcp4")
	m.DialLost("timeout")
	m.ReconnectAttempt("failure")
	m.CekCacheHit()
	m.CekCacheMiss()
	m.ObserveAttentionRoundTrip(1)
	m.ObserveLoginLatency(1)
}

func TestDuplicateRegistrationPanicsOnSameRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
