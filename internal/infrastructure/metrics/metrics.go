// Package metrics exports settlement activity to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/irlwork/settlement/internal/application/service"
)

// SettlementMetrics implements service.Metrics and records sweep timings.
// A nil *SettlementMetrics is safe to call.
type SettlementMetrics struct {
	transitions   *prometheus.CounterVec
	releasedCents *prometheus.CounterVec
	releases      prometheus.Counter
	promotions    *prometheus.CounterVec
	withdrawals   *prometheus.CounterVec
	withdrawn     prometheus.Counter
	renewals      *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	sweepErrors   *prometheus.CounterVec
}

var _ service.Metrics = (*SettlementMetrics)(nil)

// New registers the settlement collectors on reg
func New(namespace string, reg prometheus.Registerer) (*SettlementMetrics, error) {
	if namespace == "" {
		namespace = "settlement"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &SettlementMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions applied.",
		}, []string{"from", "to"}),
		releasedCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "released_cents_total",
			Help:      "Cents released from escrow, split into payee net and platform fee.",
		}, []string{"part"}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Escrow releases into the clearing window.",
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_promotions_total",
			Help:      "Pending transactions processed by the promotion sweep.",
		}, []string{"outcome"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawal attempts by outcome.",
		}, []string{"outcome"}),
		withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_cents_total",
			Help:      "Cents sent to user wallets.",
		}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_renewals_total",
			Help:      "Card authorization renewals by outcome.",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of background sweeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Background sweeps that returned an error.",
		}, []string{"sweep"}),
	}

	collectors := []prometheus.Collector{
		m.transitions, m.releasedCents, m.releases, m.promotions,
		m.withdrawals, m.withdrawn, m.renewals, m.sweepDuration, m.sweepErrors,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register settlement metric: %w", err)
		}
	}
	return m, nil
}

// MustNew is New for process bootstrap
func MustNew(namespace string, reg prometheus.Registerer) *SettlementMetrics {
	m, err := New(namespace, reg)
	if err != nil {
		panic(err)
	}
	return m
}

// TransitionApplied implements service.Metrics
func (m *SettlementMetrics) TransitionApplied(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// PaymentReleased implements service.Metrics
func (m *SettlementMetrics) PaymentReleased(netCents, feeCents int64) {
	if m == nil {
		return
	}
	m.releases.Inc()
	m.releasedCents.WithLabelValues("net").Add(float64(netCents))
	m.releasedCents.WithLabelValues("fee").Add(float64(feeCents))
}

// PendingPromoted implements service.Metrics
func (m *SettlementMetrics) PendingPromoted(outcome string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(outcome).Inc()
}

// WithdrawalProcessed implements service.Metrics
func (m *SettlementMetrics) WithdrawalProcessed(outcome string, cents int64) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(outcome).Inc()
	if cents > 0 {
		m.withdrawn.Add(float64(cents))
	}
}

// HoldRenewed implements service.Metrics
func (m *SettlementMetrics) HoldRenewed(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}

// SweepFinished records one run of a background sweep
func (m *SettlementMetrics) SweepFinished(sweep string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	if err != nil {
		m.sweepErrors.WithLabelValues(sweep).Inc()
	}
}
