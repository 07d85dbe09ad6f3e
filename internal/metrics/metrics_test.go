package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.EventDecoded("CREATE")
	m.EventDecoded("CREATE")
	m.RecordEmitted("products")
	m.RecordSkipped("malformed")
	m.WriteIntent("upsert")
	m.ApplyFailed()
	m.DeadLettered("missing_business_key")

	require.Equal(t, 2.0, testutil.ToFloat64(m.eventsDecoded.WithLabelValues("CREATE")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.recordsEmitted.WithLabelValues("products")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.recordsSkipped.WithLabelValues("malformed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.writeIntents.WithLabelValues("upsert")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.applyFailures))
	require.Equal(t, 1.0, testutil.ToFloat64(m.deadLettered.WithLabelValues("missing_business_key")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.EventDecoded("CREATE")
		m.RecordEmitted("products")
		m.RecordSkipped("malformed")
		m.WriteIntent("upsert")
		m.ApplyFailed()
		m.DeadLettered("x")
	})
}
