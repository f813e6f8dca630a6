package shadowmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestReachabilityGaugeRecordsPerNode(t *testing.T) {
	Reachability.WithLabelValues("7").Set(2)
	require.Equal(t, float64(2), testutil.ToFloat64(Reachability.WithLabelValues("7")))
}

func TestOperationsCounterAccumulates(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("write", "success"))
	OperationsTotal.WithLabelValues("write", "success").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("write", "success")))
}

func TestRefreshSetsGaugesPerSnapshot(t *testing.T) {
	Refresh([]DeviceSnapshot{
		{Node: "42", Reachability: 1, SubscriptionState: 2, QueueDepth: 3, ExpectedCacheSize: 4},
	})
	require.Equal(t, float64(1), testutil.ToFloat64(Reachability.WithLabelValues("42")))
	require.Equal(t, float64(2), testutil.ToFloat64(SubscriptionState.WithLabelValues("42")))
	require.Equal(t, float64(3), testutil.ToFloat64(QueueDepth.WithLabelValues("42")))
	require.Equal(t, float64(4), testutil.ToFloat64(ExpectedCacheSize.WithLabelValues("42")))
}
