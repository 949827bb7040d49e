package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the oracle service collectors. All methods are safe on a nil
// receiver so components can be built without instrumentation in tests.
type Metrics struct {
	AdapterRequests    *prometheus.CounterVec
	AdapterLatency     *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	Payouts            *prometheus.CounterVec
	PayoutAmount       *prometheus.CounterVec
	SweepPolicies      *prometheus.CounterVec
	LockContention     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdapterRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_adapter_requests_total",
				Help: "Data source fetches by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		AdapterLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracle_adapter_latency_seconds",
				Help:    "Data source fetch latency including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"source"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oracle_adapter_breaker_state",
				Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
			},
			[]string{"source"},
		),
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_evaluations_total",
				Help: "Claim evaluations by resulting claim status",
			},
			[]string{"status"},
		),
		EvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oracle_evaluation_duration_seconds",
				Help:    "End to end claim evaluation time",
				Buckets: prometheus.DefBuckets,
			},
		),
		Payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_payouts_total",
				Help: "Payout dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		PayoutAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_payout_amount_total",
				Help: "Sum of completed payout amounts by currency",
			},
			[]string{"currency"},
		),
		SweepPolicies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_sweep_policies_total",
				Help: "Policies processed by the expiry sweep by outcome",
			},
			[]string{"outcome"},
		),
		LockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_lock_contention_total",
				Help: "Lock acquisitions that found the key already held",
			},
			[]string{"scope"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.AdapterRequests,
			m.AdapterLatency,
			m.BreakerState,
			m.Evaluations,
			m.EvaluationDuration,
			m.Payouts,
			m.PayoutAmount,
			m.SweepPolicies,
			m.LockContention,
		)
	}
	return m
}

func (m *Metrics) ObserveAdapter(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AdapterRequests.WithLabelValues(source, outcome).Inc()
	m.AdapterLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerState(source string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(source).Set(state)
}

func (m *Metrics) ObserveEvaluation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(status).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePayout(outcome string) {
	if m == nil {
		return
	}
	m.Payouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddPayoutAmount(currency string, amount float64) {
	if m == nil {
		return
	}
	m.PayoutAmount.WithLabelValues(currency).Add(amount)
}

func (m *Metrics) ObserveSweep(outcome string) {
	if m == nil {
		return
	}
	m.SweepPolicies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLockContention(scope string) {
	if m == nil {
		return
	}
	m.LockContention.WithLabelValues(scope).Inc()
}
