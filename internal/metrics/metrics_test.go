package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snake-arena/internal/domain"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPing(domain.ModeWalls)
	c.RecordPing(domain.ModeWalls)
	c.RecordPing(domain.ModePassThrough)
	c.RecordPingRateLimited()
	c.RecordEvictions(3)
	c.RecordScoreSubmitted(domain.ModePassThrough, SourceKafka)
	c.RecordAuth("login", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pings.WithLabelValues("walls")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pings.WithLabelValues("pass-through")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pingsLimited))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scores.WithLabelValues("pass-through", "kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.auth.WithLabelValues("login", "failure")))
}

func TestRankingSyncResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRankingSync(time.Second, nil)
	c.RecordRankingSync(time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.rankingSyncs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rankingSyncs.WithLabelValues("error")))
}

func TestWatchLivePlayers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	n := 4
	c.WatchLivePlayers(func() int { return n })

	expected := `
# HELP snake_live_players Entries held in the live player registry
# TYPE snake_live_players gauge
snake_live_players 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "snake_live_players"))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPRequest(http.MethodGet, "/api/v1/leaderboard", http.StatusOK, 10*time.Millisecond)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `snake_http_requests_total{method="GET",route="/api/v1/leaderboard",status_code="200"} 1`)
}
