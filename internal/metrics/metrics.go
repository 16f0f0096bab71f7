package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	SettlementsTotal    *prometheus.CounterVec
	SettlementDuration  *prometheus.HistogramVec
	IntegrityViolations *prometheus.CounterVec
	RefundsTotal        prometheus.Counter
	ProviderCalls       *prometheus.CounterVec
	ProviderDuration    *prometheus.HistogramVec
	OutboxDeliveries    *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
}

func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_settlements_total",
				Help: "Total settlement operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_settlement_duration_seconds",
				Help:    "Settlement operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		IntegrityViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_integrity_violations_total",
				Help: "Ledger drift detections requiring manual reconciliation.",
			},
			[]string{"reason"},
		),
		RefundsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_withdrawal_refunds_total",
				Help: "Total compensating withdrawal refunds.",
			},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_payout_provider_calls_total",
				Help: "Total payout provider calls.",
			},
			[]string{"operation", "status"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_payout_provider_duration_seconds",
				Help:    "Payout provider call duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OutboxDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_outbox_deliveries_total",
				Help: "Total outbox event delivery attempts.",
			},
			[]string{"status"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_balance_cache_lookups_total",
				Help: "Total balance cache lookups.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.SettlementsTotal,
		m.SettlementDuration,
		m.IntegrityViolations,
		m.RefundsTotal,
		m.ProviderCalls,
		m.ProviderDuration,
		m.OutboxDeliveries,
		m.CacheLookups,
	)
	return m
}

func (m *Metrics) ObserveSettlement(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(operation, status).Inc()
	m.SettlementDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) IncIntegrityViolation(reason string) {
	if m == nil {
		return
	}
	m.IntegrityViolations.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRefund() {
	if m == nil {
		return
	}
	m.RefundsTotal.Inc()
}

func (m *Metrics) ObserveProviderCall(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(operation, status).Inc()
	m.ProviderDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) IncOutboxDelivery(status string) {
	if m == nil {
		return
	}
	m.OutboxDeliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) IncCacheLookup(status string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(status).Inc()
}
