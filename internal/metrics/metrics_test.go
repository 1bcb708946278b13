package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveChat("info", 20*time.Millisecond)
	m.ObserveChat("info", 30*time.Millisecond)
	m.ObserveChat("small_talk", time.Millisecond)
	m.WebLookup(WebSkipped)
	m.FactLearned("autolearn")
	m.FactLearned("autolearn")
	m.LearnRun()
	m.StorageError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("info")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("small_talk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webLookups.WithLabelValues(WebSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.factsLearned.WithLabelValues("autolearn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.learnRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageErrors))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveChat("info", time.Second)
	m.WebLookup(WebEmpty)
	m.FactLearned("x")
	m.LearnRun()
	m.StorageError()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FactLearned("codegen")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `corebrain_facts_learned_total{source="codegen"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
