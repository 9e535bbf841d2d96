package offlineproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutscode/offlineproxy/bucket"
)

func newTestRegistry(t *testing.T, controller *OfflineController) *prometheus.Registry {
	t.Helper()

	registry := prometheus.NewRegistry()
	controller.Metrics = NewMetrics(registry)

	return registry
}

func TestIgnoredMethodsPassThroughUntouched(t *testing.T) {
	var seen *http.Request
	controller := newTestController(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/annotations/5/", nil)
	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, http.MethodDelete, seen.Method)

	//Nothing was cached along the way
	for _, name := range controller.Config.CurrentBucketNames() {
		count, err := controller.Buckets.Open(name).Len()
		require.NoError(t, err)
		assert.Zero(t, count, "bucket %s must stay empty for ignored requests", name)
	}
}

func TestIgnoredPostPassesThroughUntouched(t *testing.T) {
	controller := newTestController(okTransport("searched", nil))

	req := httptest.NewRequest(http.MethodPost, "/search/", strings.NewReader("q=dragon"))
	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "searched", rec.Body.String())

	count, err := controller.Buckets.Open(controller.Config.PageBucket()).Len()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIgnoredRequestWithNetworkDownFails(t *testing.T) {
	controller := newTestController(errTransport)

	req := httptest.NewRequest(http.MethodPut, "/api/annotations/5/", nil)
	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, req)

	//Ignored requests get no offline machinery at all
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestZeroValueControllerServes(t *testing.T) {
	controller := &OfflineController{Transport: errTransport}

	req := httptest.NewRequest(http.MethodGet, "/posts/1/", nil)
	req.Header.Set("Accept", "text/html")

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, req)

	//Defaults are filled lazily, the zero value degrades to the offline page
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You are offline")
}

func TestStoredResponsesDropContentLength(t *testing.T) {
	controller := newTestController(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Length": []string{"4"}, "Content-Type": []string{"text/css"}},
			Body:       io.NopCloser(strings.NewReader("body")),
			Request:    req,
		}, nil
	}))

	rec := httptest.NewRecorder()
	controller.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/site.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	store := controller.Buckets.Open(controller.Config.StaticBucket())
	entry, err := store.Get("GET example.com/static/site.css")
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Empty(t, entry.Header.Get("Content-Length"))
	assert.Equal(t, "text/css", entry.Header.Get("Content-Type"))
}

func TestMetricsCountHitsAndMisses(t *testing.T) {
	controller := newTestController(okTransport("asset", nil))

	registry := newTestRegistry(t, controller)

	//First access misses, second hits
	controller.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	controller.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[family.GetName()] += metric.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(1), values["offlineproxy_cache_hits_total"])
	assert.Equal(t, float64(1), values["offlineproxy_cache_misses_total"])
}

func TestBucketsAreSharedAcrossHandlers(t *testing.T) {
	shared := bucket.NewSet(nil)

	first := newTestController(okTransport("asset", nil))
	first.Buckets = shared

	second := newTestController(errTransport)
	second.Buckets = shared

	first.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	//The second controller serves the entry the first one stored
	rec := httptest.NewRecorder()
	second.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "asset", rec.Body.String())
}
