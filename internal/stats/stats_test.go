package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, DefaultMetrics...)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	for _, name := range DefaultMetrics {
		assert.NotNil(t, su.vars.Get(name), "expected metric %s to be registered", name)
	}
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, NumActiveSessions)
	su.Run()
	defer su.Stop()

	su.Incr(NumActiveSessions)
	su.Incr(NumActiveSessions)
	su.Decr(NumActiveSessions)
	// unknown metrics are ignored
	su.Incr("Unknown")

	assert.Eventually(t, func() bool {
		return su.vars.Get(NumActiveSessions).String() == "1"
	}, time.Second, 10*time.Millisecond, "expected counter to settle at 1")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(1), body[NumActiveSessions])
	assert.Contains(t, body, "Uptime")
}
