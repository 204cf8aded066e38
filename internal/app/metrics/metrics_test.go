package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/securecall/internal/app/metrics"
)

func TestCallEnded(t *testing.T) {
	m := metrics.New()
	m.CallEnded("missed", 0)
	m.CallEnded("ended", 90*time.Second)
	m.CallEnded("ended", 30*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsEnded.WithLabelValues("missed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsEnded.WithLabelValues("ended")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CallsEnded))
	assert.Equal(t, uint64(2), durationSamples(t, m))
}

func durationSamples(t *testing.T, m *metrics.Metrics) uint64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "securecall_call_duration_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	t.Fatal("duration histogram not registered")
	return 0
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.CallsCreated.WithLabelValues("audio", "p2p").Inc()
	m.ActiveCalls.Set(3)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `securecall_calls_created_total{call_type="audio",mode="p2p"} 1`)
	assert.Contains(t, string(body), "securecall_active_calls 3")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSeparateRegistries(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.CreationErrors.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CreationErrors))
	assert.Zero(t, testutil.ToFloat64(b.CreationErrors))
}
