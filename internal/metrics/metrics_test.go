package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionsTotalIncrementsPerLabelSet(t *testing.T) {
	m := New()
	m.AdmissionsTotal.WithLabelValues("sliding_window", "global", "admitted").Inc()
	m.AdmissionsTotal.WithLabelValues("sliding_window", "global", "admitted").Inc()
	m.AdmissionsTotal.WithLabelValues("sliding_window", "global", "retry").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("sliding_window", "global", "admitted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("sliding_window", "global", "retry")))
}

func TestTwoInstancesDoNotShareOrConflictOnRegistration(t *testing.T) {
	a := New()
	b := New()
	a.CacheLookupsTotal.WithLabelValues("hit").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.CacheLookupsTotal.WithLabelValues("hit")))

	_, err := a.Registry.Gather()
	require.NoError(t, err)
}
