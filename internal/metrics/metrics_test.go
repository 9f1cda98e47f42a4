package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m.ObserveTransaction("apt", "deb", "upload", "committed", time.Second)
	m.ObserveLockWait("apt", time.Millisecond)
	m.Rollback("apt", 2)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveTransaction("apt", "deb", "upload", "committed", 10*time.Millisecond)
	m.ObserveTransaction("apt", "deb", "upload", "committed", 20*time.Millisecond)
	m.ObserveTransaction("apt", "deb", "upload", "conflict", time.Millisecond)
	m.ObserveLockWait("apt", time.Millisecond)
	m.Rollback("apt", 0)
	m.Rollback("apt", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactions.WithLabelValues("apt", "deb", "upload", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("apt", "deb", "upload", "conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rollbacks.WithLabelValues("apt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rollbackFailures.WithLabelValues("apt")))

	expected := `
# HELP repoindex_rollbacks_total Transactions rolled back after a failure inside the exclusive section
# TYPE repoindex_rollbacks_total counter
repoindex_rollbacks_total{repo="apt"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "repoindex_rollbacks_total"))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
