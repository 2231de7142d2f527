package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PoolLedger/internal/observability"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/query"
	"PoolLedger/internal/server"
	"PoolLedger/internal/state"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*server.Server, *observability.Metrics) {
	t.Helper()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	store := persistence.NewMemoryStore()
	pool := state.NewPool("pool-1", "1")
	pool.Init("usdc", nil, 0, 0, ts, 1)
	require.NoError(t, store.Save(ctx, pool))
	require.NoError(t, store.Save(ctx, state.NewTranche("pool-1", "senior", 1, ts)))
	require.NoError(t, store.Save(ctx, state.NewEpoch("pool-1", 1, ts)))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv, err := server.NewServer(":0", ":0", &server.ServerDeps{
		QueryService:  query.NewQueryService(store, nil),
		HealthChecker: observability.NewHealthChecker(),
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return srv, metrics
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestGatewayRoutes(t *testing.T) {
	srv, metrics := newTestServer(t)
	h := srv.Handler()

	rec, body := get(t, h, "/v1/pools/pool-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pool-1", body["pool"].(map[string]any)["id"])

	rec, body = get(t, h, "/v1/pools/pool-1/tranches")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["tranches"], 1)

	rec, body = get(t, h, "/v1/pools/pool-1/epochs/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OPEN", body["epoch"].(map[string]any)["status"])

	rec, _ = get(t, h, "/v1/positions/alice/pool-1-senior")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueryRequests.WithLabelValues("get_pool", "OK")))
}

func TestGatewayErrors(t *testing.T) {
	srv, metrics := newTestServer(t)
	h := srv.Handler()

	rec, body := get(t, h, "/v1/pools/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["message"], "missing entity")

	rec, _ = get(t, h, "/v1/pools/pool-1/epochs/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueryRequests.WithLabelValues("get_pool", "NotFound")))
}

func TestReadiness(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv.SetServing(true)
	rec, body := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}
