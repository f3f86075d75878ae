package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("send_verification").End(nil))
	boom := errors.New("smtp down")
	require.ErrorIs(t, m.Track("send_verification").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, reg, "casework_jobs_total", map[string]string{"job": "send_verification", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "casework_jobs_total", map[string]string{"job": "send_verification", "status": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "casework_jobs_failures_total", map[string]string{"job": "send_verification"}))
}

func TestDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Dropped("send_approval")
	m.Dropped("send_approval")
	assert.Equal(t, 2.0, counterValue(t, reg, "casework_jobs_dropped_total", map[string]string{"job": "send_approval"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	boom := errors.New("x")
	assert.ErrorIs(t, m.Track("job").End(boom), boom)
	m.Dropped("job")
}
