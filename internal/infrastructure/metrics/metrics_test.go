package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irlwork/settlement/internal/application/service"
)

func TestSettlementMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New("test", reg)
	require.NoError(t, err)

	m.TransitionApplied("approved", "paid")
	m.PaymentReleased(8500, 1500)
	m.PendingPromoted(service.OutcomeOK)
	m.PendingPromoted(service.OutcomeOK)
	m.PendingPromoted(service.OutcomeFailed)
	m.WithdrawalProcessed(service.OutcomeOK, 8500)
	m.WithdrawalProcessed(service.OutcomeFailed, 0)
	m.HoldRenewed(service.OutcomeCancelled)
	m.SweepFinished("promotion", 20*time.Millisecond, nil)
	m.SweepFinished("promotion", time.Millisecond, errors.New("locked"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("approved", "paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases))
	assert.Equal(t, 8500.0, testutil.ToFloat64(m.releasedCents.WithLabelValues("net")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.releasedCents.WithLabelValues("fee")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.promotions.WithLabelValues(service.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.promotions.WithLabelValues(service.OutcomeFailed)))
	assert.Equal(t, 8500.0, testutil.ToFloat64(m.withdrawn))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renewals.WithLabelValues(service.OutcomeCancelled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepErrors.WithLabelValues("promotion")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sweepDuration))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New("dup", reg)
	require.NoError(t, err)

	_, err = New("dup", reg)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNew("dup", reg) })
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *SettlementMetrics
	assert.NotPanics(t, func() {
		m.TransitionApplied("open", "assigned")
		m.PaymentReleased(1, 1)
		m.PendingPromoted(service.OutcomeOK)
		m.WithdrawalProcessed(service.OutcomeOK, 1)
		m.HoldRenewed(service.OutcomeOK)
		m.SweepFinished("renewal", time.Second, nil)
	})
}
