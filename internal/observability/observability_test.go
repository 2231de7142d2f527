package observability_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PoolLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessReportsLastBlocks(t *testing.T) {
	h := observability.NewHealthChecker()
	h.MarkBlock("1", 100)
	h.MarkBlock("1", 90)
	h.MarkBlock("2031", 7)

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string            `json:"status"`
		LastBlocks map[string]uint64 `json:"last_blocks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]uint64{"1": 100, "2031": 7}, body.LastBlocks)
}

func TestMetricsRegisterOnPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	observability.NewMetrics(prometheus.NewRegistry())

	m.SetChannelMetrics("persist", 5, 20)
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.ChannelUtilization.WithLabelValues("persist")), 1e-9)

	m.MulticallBatches.WithLabelValues("ok").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MulticallBatches.WithLabelValues("ok")))
}

func TestLoggerLevels(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, observability.ParseLogLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLogLevel("bogus"))

	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "test", zerolog.WarnLevel)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "test", line["component"])
	assert.Equal(t, "shown", line["message"])
}
