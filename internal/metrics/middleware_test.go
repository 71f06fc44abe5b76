package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	ok := httpRequestsTotal.WithLabelValues(http.MethodPost, "202")
	missing := httpRequestsTotal.WithLabelValues(http.MethodPost, "404")
	okBefore, missingBefore := testutil.ToFloat64(ok), testutil.ToFloat64(missing)

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, path := range []string{"/v1/things/1", "/v1/things/2", "/nowhere"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(ok)-okBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(missing)-missingBefore, 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	counter := httpRequestsTotal.WithLabelValues(http.MethodDelete, "200")
	before := testutil.ToFloat64(counter)

	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/bare", nil))
	})
	assert.InDelta(t, 1, testutil.ToFloat64(counter)-before, 0)
}
