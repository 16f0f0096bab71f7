package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettlement("approve", "success", 15*time.Millisecond)
	m.ObserveSettlement("approve", "success", 5*time.Millisecond)
	m.ObserveSettlement("request_withdrawal", "insufficient_funds", time.Millisecond)
	m.IncIntegrityViolation("pending_balance")
	m.IncRefund()
	m.ObserveProviderCall("create_transfer", "error", time.Second)
	m.IncOutboxDelivery("delivered")
	m.IncCacheLookup("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SettlementsTotal.WithLabelValues("approve", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementsTotal.WithLabelValues("request_withdrawal", "insufficient_funds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntegrityViolations.WithLabelValues("pending_balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefundsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("create_transfer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))

	count, err := testutil.GatherAndCount(registry, "escrow_settlement_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSettlement("approve", "success", time.Millisecond)
		m.IncIntegrityViolation("pending_balance")
		m.IncRefund()
		m.ObserveProviderCall("create_transfer", "ok", time.Millisecond)
		m.IncOutboxDelivery("failed")
		m.IncCacheLookup("miss")
	})
}
