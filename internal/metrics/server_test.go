package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRouterServesHealthAndMetrics(t *testing.T) {
	ts := httptest.NewServer(Router())
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	ObserveRun("done")
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), "discocrawl_runs_total")

	require.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), before+1)
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")))
}
