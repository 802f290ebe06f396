package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	su := NewStatsUpdater()
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	assert.NotNil(t, su.vars.Get("Uptime"), "expected uptime to be registered")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater()
	su.RegisterMetric("NumActiveConnections")
	su.Run()

	su.Incr("NumActiveConnections")
	su.Incr("NumActiveConnections")
	su.Decr("NumActiveConnections")
	su.Stop()

	rr := httptest.NewRecorder()
	su.ExpvarHandler(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(1), body["NumActiveConnections"], "expected counter to reflect updates")

	rr = httptest.NewRecorder()
	su.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `chatstream_stat{name="NumActiveConnections"} 1`)
	assert.Contains(t, rr.Body.String(), "chatstream_uptime_seconds")
}
