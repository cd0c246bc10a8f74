package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Delete("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/abc")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/gone", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "410")))
	hist, ok := httpRequestDurationSeconds.WithLabelValues("GET", "/v1/jobs/{job_id}").(prometheus.Histogram)
	require.True(t, ok)
	assert.Equal(t, 1, testutil.CollectAndCount(hist))
}

func TestResponseWriterHijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _, err := rw.Hijack()
	require.Error(t, err)
}
