package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/clock"
	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/liveplayers"
	"github.com/snake-arena/internal/metrics"
	"github.com/snake-arena/internal/service"
	"github.com/snake-arena/internal/storage/memory"
)

type testServer struct {
	handler http.Handler
	store   *memory.Storage
	config  *config.Config
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error {
	return domain.Unavailable("ping", errors.New("connection refused"))
}

func newTestServer(t *testing.T, mutate ...func(*config.Config, *Deps)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	svcDeps := service.Deps{
		Store:    store,
		Registry: liveplayers.NewRegistry(liveplayers.Config{TTL: cfg.LivePlayers.TTL, Shards: cfg.LivePlayers.Shards}, clock.New()),
		Metrics:  collector,
		Logger:   logger,
	}
	live := service.NewLivePlayerService(svcDeps)
	authSvc := auth.NewService(store, auth.NewGateway("test-secret", bcrypt.MinCost, clock.New()), auth.Config{TokenTTL: time.Hour}, logger)

	deps := Deps{
		Auth:        authSvc,
		Leaderboard: service.NewLeaderboardService(svcDeps, &cfg.Leaderboard),
		LivePlayers: live,
		Admin:       service.NewAdminService(svcDeps, live),
		Store:       store,
		Metrics:     collector,
		Gatherer:    reg,
		Logger:      logger,
	}
	for _, m := range mutate {
		m(cfg, &deps)
	}

	return &testServer{
		handler: NewHandler(deps, cfg).Router(),
		store:   store,
		config:  cfg,
	}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reqBody = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, "/api/v1"+path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) signup(t *testing.T, email, username string) (domain.User, string) {
	t.Helper()
	rr := ts.request(http.MethodPost, "/auth/signup", map[string]string{
		"email": email, "password": "secret", "username": username,
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp domain.AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.User, resp.Token
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func detail(t *testing.T, rr *httptest.ResponseRecorder) string {
	return decode[ErrorResponse](t, rr).Detail
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]string{"status": "healthy", "service": "snake-arena-api"}, decode[map[string]string](t, rr))

	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "connected", decode[map[string]string](t, rr)["database"])
}

func TestReadyFailsWhenDatabaseIsDown(t *testing.T) {
	ts := newTestServer(t, func(_ *config.Config, d *Deps) { d.Store = failingPinger{} })

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSignupAndMe(t *testing.T) {
	ts := newTestServer(t)
	user, token := ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodGet, "/auth/me", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password")
	me := decode[map[string]any](t, rr)
	assert.Equal(t, user.ID, me["id"])
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, false, me["is_superuser"])
	assert.Contains(t, me, "createdAt")
}

func TestSignupConflictAndValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodPost, "/auth/signup", map[string]string{"email": "alice@example.com", "password": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "email already registered", detail(t, rr))

	rr = ts.request(http.MethodPost, "/auth/signup", map[string]string{"email": "not-an-email", "password": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodPost, "/auth/signup", "{", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid request body", detail(t, rr))
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "secret"}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode[domain.AuthResponse](t, rr).Token)

	wrong := ts.request(http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "nope"}, "")
	unknown := ts.request(http.MethodPost, "/auth/login", map[string]string{"email": "bob@example.com", "password": "secret"}, "")
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, detail(t, wrong), detail(t, unknown))
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct {
		method, path, token string
	}{
		{http.MethodGet, "/auth/me", ""},
		{http.MethodGet, "/auth/me", "garbage"},
		{http.MethodPost, "/auth/logout", ""},
		{http.MethodPost, "/leaderboard", ""},
		{http.MethodPost, "/live-players/ping", ""},
		{http.MethodGet, "/admin/stats", ""},
	} {
		rr := ts.request(tc.method, tc.path, nil, tc.token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	}
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodPost, "/auth/logout", nil, token)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestLeaderboardScenario(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")

	for _, score := range []int{300, 450} {
		rr := ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": score, "mode": "walls"}, token)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		entry := decode[map[string]any](t, rr)
		assert.Equal(t, "walls", entry["mode"])
		assert.Equal(t, "alice", entry["username"])
	}

	rr := ts.request(http.MethodGet, "/leaderboard?mode=walls", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]domain.ScoreEntry](t, rr)
	require.Len(t, entries, 2)
	assert.Equal(t, 450, entries[0].Score)
	assert.Equal(t, 300, entries[1].Score)
	for _, e := range entries {
		assert.Equal(t, domain.ModeWalls, e.Mode)
	}

	rr = ts.request(http.MethodGet, "/leaderboard/high-score?userId=alice&mode=walls", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.HighScore{Score: 450}, decode[domain.HighScore](t, rr))
}

func TestLeaderboardModeFilter(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")
	ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 10, "mode": "walls"}, token)
	ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 20, "mode": "pass-through"}, token)

	rr := ts.request(http.MethodGet, "/leaderboard?mode=pass-through", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]domain.ScoreEntry](t, rr)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ModePassThrough, entries[0].Mode)

	rr = ts.request(http.MethodGet, "/leaderboard?mode=pass_through", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitScoreValidation(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": -1, "mode": "walls"}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 1, "mode": "diagonal"}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHighScoreEdgeCases(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodGet, "/leaderboard/high-score?userId="+user.ID, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[domain.HighScore](t, rr).Score)

	rr = ts.request(http.MethodGet, "/leaderboard/high-score?userId=ghost", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[domain.HighScore](t, rr).Score)

	rr = ts.request(http.MethodGet, "/leaderboard/high-score", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTopAndRankFromLedger(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.signup(t, "alice@example.com", "alice")
	_, bob := ts.signup(t, "bob@example.com", "bob")
	ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 300, "mode": "walls"}, alice)
	ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 500, "mode": "walls"}, bob)
	ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 100, "mode": "walls"}, bob)

	rr := ts.request(http.MethodGet, "/leaderboard/top?mode=walls&limit=5", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	top := decode[[]domain.RankEntry](t, rr)
	require.Len(t, top, 2)
	assert.Equal(t, "bob", top[0].Username)
	assert.Equal(t, 500, top[0].Score)

	rr = ts.request(http.MethodGet, "/leaderboard/rank/alice?mode=walls", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decode[domain.RankEntry](t, rr).Rank)

	rr = ts.request(http.MethodGet, "/leaderboard/rank/alice?mode=pass-through", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.request(http.MethodGet, "/leaderboard/top?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func heartbeat(score int, mode string) map[string]any {
	return map[string]any{
		"score":     score,
		"mode":      mode,
		"snake":     []map[string]int{{"x": score, "y": 1}, {"x": score, "y": 2}},
		"food":      map[string]int{"x": 5, "y": 5},
		"direction": "RIGHT",
		"isPlaying": true,
	}
}

func TestPingAndGetLivePlayer(t *testing.T) {
	ts := newTestServer(t)
	user, token := ts.signup(t, "alice@example.com", "alice")

	rr := ts.request(http.MethodPost, "/live-players/ping", heartbeat(12, "pass-through"), token)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	id := user.ID + "-pass-through"
	rr = ts.request(http.MethodGet, "/live-players/"+id, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[map[string]any](t, rr)
	assert.Equal(t, id, got["id"])
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, "pass-through", got["mode"])
	assert.Equal(t, "RIGHT", got["direction"])
	assert.Equal(t, true, got["isPlaying"])

	rr = ts.request(http.MethodGet, "/live-players/nobody", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPingRejectsBadHeartbeat(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")

	bad := heartbeat(1, "walls")
	bad["direction"] = "SIDEWAYS"
	rr := ts.request(http.MethodPost, "/live-players/ping", bad, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodPost, "/live-players/ping", heartbeat(1, "nope"), token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConcurrentPingsFromTwoPlayers(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.signup(t, "alice@example.com", "alice")
	bob, bobToken := ts.signup(t, "bob@example.com", "bob")

	var wg sync.WaitGroup
	codes := make(chan int, 2)
	for _, p := range []struct {
		token string
		score int
	}{{aliceToken, 100}, {bobToken, 200}} {
		wg.Add(1)
		go func(token string, score int) {
			defer wg.Done()
			codes <- ts.request(http.MethodPost, "/live-players/ping", heartbeat(score, "walls"), token).Code
		}(p.token, p.score)
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		require.Equal(t, http.StatusNoContent, code)
	}

	rr := ts.request(http.MethodGet, "/live-players", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	players := decode[[]domain.LivePlayerState](t, rr)
	require.Len(t, players, 2)

	byID := map[string]domain.LivePlayerState{}
	for _, p := range players {
		byID[p.ID] = p
	}
	a := byID[alice.ID+"-walls"]
	b := byID[bob.ID+"-walls"]
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, 100, a.Snake[0].X)
	assert.Equal(t, "bob", b.Username)
	assert.Equal(t, 200, b.Score)
	assert.Equal(t, 200, b.Snake[0].X)
}

func TestPingIsRateLimitedPerUser(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.LivePlayers.PingRate = 0.001
		cfg.LivePlayers.PingBurst = 2
	})
	_, alice := ts.signup(t, "alice@example.com", "alice")
	_, bob := ts.signup(t, "bob@example.com", "bob")

	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodPost, "/live-players/ping", heartbeat(1, "walls"), alice).Code)
	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodPost, "/live-players/ping", heartbeat(2, "walls"), alice).Code)
	rr := ts.request(http.MethodPost, "/live-players/ping", heartbeat(3, "walls"), alice)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodPost, "/live-players/ping", heartbeat(1, "walls"), bob).Code)
}

func TestSubmitScoreEndsLiveSession(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")
	ts.request(http.MethodPost, "/live-players/ping", heartbeat(5, "walls"), token)
	ts.request(http.MethodPost, "/live-players/ping", heartbeat(5, "pass-through"), token)

	rr := ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 5, "mode": "walls"}, token)
	require.Equal(t, http.StatusCreated, rr.Code)

	players := decode[[]domain.LivePlayerState](t, ts.request(http.MethodGet, "/live-players", nil, ""))
	require.Len(t, players, 1)
	assert.Equal(t, domain.ModePassThrough, players[0].Mode)
}

func TestLeaveGame(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "alice@example.com", "alice")
	ts.request(http.MethodPost, "/live-players/ping", heartbeat(5, "walls"), token)

	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/live-players/me?mode=walls", nil, token).Code)
	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/live-players/me?mode=walls", nil, token).Code)
	assert.Equal(t, http.StatusBadRequest, ts.request(http.MethodDelete, "/live-players/me", nil, token).Code)

	players := decode[[]domain.LivePlayerState](t, ts.request(http.MethodGet, "/live-players", nil, ""))
	assert.Empty(t, players)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	admin, adminToken := ts.signup(t, "admin@example.com", "admin")
	bob, bobToken := ts.signup(t, "bob@example.com", "bob")
	require.NoError(t, ts.store.SetSuperuser(context.Background(), admin.ID, true))
	ts.request(http.MethodPost, "/leaderboard", map[string]any{"score": 10, "mode": "walls"}, bobToken)

	rr := ts.request(http.MethodGet, "/admin/stats", nil, bobToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodGet, "/admin/stats", nil, adminToken)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[domain.Stats](t, rr)
	assert.EqualValues(t, 2, stats.Users)
	assert.EqualValues(t, 1, stats.Games)
	assert.EqualValues(t, 1, stats.GamesByMode["walls"])

	rr = ts.request(http.MethodGet, "/admin/users?skip=0&limit=1", nil, adminToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]domain.User](t, rr), 1)

	assert.Equal(t, http.StatusBadRequest, ts.request(http.MethodGet, "/admin/users?limit=-1", nil, adminToken).Code)
	assert.Equal(t, http.StatusBadRequest, ts.request(http.MethodDelete, "/admin/users/"+admin.ID, nil, adminToken).Code)
	assert.Equal(t, http.StatusNotFound, ts.request(http.MethodDelete, "/admin/users/ghost", nil, adminToken).Code)
	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/admin/users/"+bob.ID, nil, adminToken).Code)

	entries := decode[[]domain.ScoreEntry](t, ts.request(http.MethodGet, "/leaderboard", nil, ""))
	assert.Empty(t, entries)

	ts.request(http.MethodPost, "/live-players/ping", heartbeat(5, "walls"), adminToken)
	assert.Equal(t, http.StatusNoContent, ts.request(http.MethodDelete, "/admin/live-players", nil, adminToken).Code)
	assert.Empty(t, decode[[]domain.LivePlayerState](t, ts.request(http.MethodGet, "/live-players", nil, "")))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.request(http.MethodGet, "/live-players", nil, "")

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `snake_http_requests_total{method="GET",route="/api/v1/live-players`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.Server.CORSOrigins = []string{"http://localhost:5173"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/leaderboard", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/leaderboard", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "email already registered", publicMessage(fmt.Errorf("creating user: %w", domain.ErrEmailTaken)))
	assert.Equal(t, `unknown game mode: "x"`, publicMessage(fmt.Errorf("%w: %q", domain.ErrInvalidMode, "x")))
	assert.Equal(t, "player not found", publicMessage(domain.ErrLivePlayerNotFound))
}
