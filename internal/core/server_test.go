package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/evalcoach/internal/analyzer"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/coordinator"
	"github.com/amoylab/evalcoach/internal/engine/enginetest"
	"github.com/amoylab/evalcoach/internal/i18n"
	"github.com/amoylab/evalcoach/internal/mockengine"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"github.com/amoylab/evalcoach/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server   *Server
	analyzer *analyzer.Service
	launcher *enginetest.Launcher
}

func testConfig() *config.AnalyzerConfig {
	cfg := config.Default()
	cfg.Pool.MaxWorkers = 2
	cfg.Pool.HandshakeTimeout = time.Second
	cfg.Pool.RetryInitialInterval = time.Millisecond
	cfg.Pool.RetryMaxInterval = time.Millisecond
	cfg.Session.StopTimeout = 500 * time.Millisecond
	cfg.Session.ProgressTimeout = 2 * time.Second
	cfg.Cache.MinDepth = 3
	cfg.Coordinator.Debounce = 20 * time.Millisecond
	cfg.Metrics.Enabled = true
	cfg.Server.CORS = &config.CORSConfig{
		AllowOrigins: []string{"http://board.local"},
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Content-Type"},
	}
	return cfg
}

func newFixture(t *testing.T, cfg *config.AnalyzerConfig, l *enginetest.Launcher) *fixture {
	t.Helper()
	tr, err := i18n.NewI18n(language.English)
	require.NoError(t, err)

	m := metrics.New(cfg.Metrics)
	svc := analyzer.New(cfg, l, nil, zap.NewNop(), m)
	coord := coordinator.New(svc, tr, cfg.Coordinator, cfg.DevMode, zap.NewNop(), m)

	s := NewServer(zap.NewNop(), cfg, svc, coord, tr, m)
	s.RegisterRoutes()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		coord.Close()
		_ = svc.Shutdown(ctx)
	})
	return &fixture{server: s, analyzer: svc, launcher: l}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	apiErr, ok := body["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return apiErr["code"].(string)
}

// sseUpdates collects the data payloads of every "update" event in body.
func sseUpdates(t *testing.T, body string) []coordinator.Update {
	t.Helper()
	var out []coordinator.Update
	event := ""
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "update":
			var u coordinator.Update
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u))
			out = append(out, u)
		}
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	w := f.do(http.MethodGet, "/health_check", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, version.Get(), body["version"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.analyzer.Shutdown(ctx))

	w = f.do(http.MethodGet, "/health_check", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "E5032", errorCode(t, w))
}

func TestAnalyzeAndFollowSession(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	w := f.do(http.MethodPost, "/api/analyze", map[string]any{
		"position":  "startpos",
		"moves":     []string{"e2e4"},
		"maxDepth":  4,
		"lineCount": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id, _ := decode(t, w)["sessionId"].(string)
	require.NotEmpty(t, id)

	w = f.do(http.MethodGet, "/api/sessions/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	updates := sseUpdates(t, w.Body.String())
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, coordinator.UpdateCompleted, last.Status)
	assert.Equal(t, id, last.SessionID)
	assert.Equal(t, 4, last.Depth)
	assert.Len(t, last.Lines, 2)
	assert.NotEmpty(t, last.BestMove)
	assert.NotEmpty(t, last.Lines[0].Moves)

	w = f.do(http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decode(t, w)["status"])

	w = f.do(http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sessions"], 1)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	w := f.do(http.MethodPost, "/api/analyze", map[string]any{"position": "not a fen"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "E1002", errorCode(t, w))

	w = f.do(http.MethodPost, "/api/analyze", map[string]any{"moves": []string{"e2e5"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "E1002", errorCode(t, w))

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "E1001", errorCode(t, rec))

	assert.Zero(t, f.launcher.Launched())
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	w := f.do(http.MethodGet, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "E4001", errorCode(t, w))

	w = f.do(http.MethodGet, "/api/sessions/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/stop", map[string]any{"sessionId": "nope"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = f.do(http.MethodPost, "/api/stop", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStopRunningSession(t *testing.T) {
	l := &enginetest.Launcher{Options: mockengine.Options{DepthDelay: 50 * time.Millisecond}}
	f := newFixture(t, testConfig(), l)

	w := f.do(http.MethodPost, "/api/analyze", map[string]any{"sessionId": "board-1", "maxDepth": 40})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/api/stop", map[string]any{"sessionId": "board-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := f.analyzer.Wait(ctx, "board-1")
	require.NoError(t, err)
	assert.Equal(t, "stopped", string(snap.Status))

	w = f.do(http.MethodGet, "/api/engines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["idle"])
}

func TestCapacityReturnsRetryAfter(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.MaxWorkers = 1
	cfg.Pool.AcquireTimeout = 50 * time.Millisecond
	l := &enginetest.Launcher{Options: mockengine.Options{DepthDelay: 100 * time.Millisecond}}
	f := newFixture(t, cfg, l)

	w := f.do(http.MethodPost, "/api/analyze", map[string]any{"sessionId": "a", "maxDepth": 40})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/api/analyze", map[string]any{"sessionId": "b", "maxDepth": 40})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "E5031", errorCode(t, w))
}

func TestClearCache(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	w := f.do(http.MethodDelete, "/api/cache", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://board.local")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://board.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.ElementsMatch(t, []string{"GET", "POST", "DELETE"}, strings.Split(w.Header().Get("Access-Control-Allow-Methods"), ", "))

	req = httptest.NewRequest(http.MethodGet, "/health_check", nil)
	req.Header.Set("Origin", "http://elsewhere.local")
	w = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})

	f.do(http.MethodGet, "/health_check", nil)
	w := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evalcoach_http_requests_total")
	assert.Contains(t, w.Body.String(), "evalcoach_session_started_total")
}

func TestStreamEvents(t *testing.T) {
	cfg := testConfig()
	cfg.Coordinator.Debounce = 300 * time.Millisecond
	f := newFixture(t, cfg, &enginetest.Launcher{})
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/streams/board/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, _ := readEvent()
	require.Equal(t, "ready", event)

	for _, mv := range []string{"e2e4", "d2d4"} {
		body, _ := json.Marshal(map[string]any{"moves": []string{mv}, "maxDepth": 4})
		post, err := http.Post(ts.URL+"/api/streams/board/analyze", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, post.StatusCode)
		_ = post.Body.Close()
	}

	for {
		event, data := readEvent()
		require.Equal(t, "update", event)
		var u coordinator.Update
		require.NoError(t, json.Unmarshal([]byte(data), &u))
		assert.EqualValues(t, 2, u.RequestID, "superseded request leaked")
		if u.Terminal() {
			assert.Equal(t, coordinator.UpdateCompleted, u.Status)
			require.NotEmpty(t, u.Lines)
			break
		}
	}

	snap, err := f.analyzer.Status("board")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2d4"}, snap.Moves)

	del, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/streams/board", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	_ = delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
}

func TestStreamFailureIsLocalized(t *testing.T) {
	f := newFixture(t, testConfig(), &enginetest.Launcher{})
	updates, cancel := f.server.coord.Watch("board")
	defer cancel()

	w := f.do(http.MethodPost, "/api/streams/board/analyze", map[string]any{"moves": []string{"x"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case u := <-updates:
		assert.Equal(t, coordinator.UpdateError, u.Status)
		require.NotNil(t, u.Error)
		assert.Equal(t, coordinator.FailureInvalidPosition, u.Error.Kind)
		assert.Equal(t, "This position cannot be analyzed.", u.Error.Message)
		assert.Empty(t, u.Error.Detail)
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}
}
