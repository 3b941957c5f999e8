package metrics

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineCountersByOutcome(t *testing.T) {
	m := Engine()
	require.Same(t, m, Engine())

	before := testutil.ToFloat64(m.operations.WithLabelValues("lending", "borrow", "error"))
	m.ObserveOperation("lending", "borrow", errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(m.operations.WithLabelValues("lending", "borrow", "error")))

	skips := testutil.ToFloat64(m.batchSkips.WithLabelValues("stream", "unknown"))
	m.ObserveBatchSkip("stream", "")
	require.Equal(t, skips+1, testutil.ToFloat64(m.batchSkips.WithLabelValues("stream", "unknown")))

	volume := testutil.ToFloat64(m.volume.WithLabelValues("pool", "fund"))
	m.AddVolume("pool", "fund", big.NewInt(250))
	m.AddVolume("pool", "fund", big.NewInt(-5))
	require.Equal(t, volume+250, testutil.ToFloat64(m.volume.WithLabelValues("pool", "fund")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *EngineMetrics
	m.ObserveOperation("lending", "repay", nil)
	m.AddFees("lending", big.NewInt(1))
	var api *APIMetrics
	api.Observe("/v1/events", 200, time.Millisecond)
	api.RecordThrottle()
}

func TestAPIObserve(t *testing.T) {
	m := API()
	before := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "404"))
	m.Observe("", 404, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "404")))
}
