package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PoolState(1, 2, 3)
		m.AcquireWaited(time.Now())
		m.HandshakeFailed()
		m.WorkersReaped(2)
		m.SessionStarted()
		m.SessionFinished("completed")
		m.LineDropped("malformed")
		m.CacheLookup(true)
		m.CacheWrite()
		m.Superseded()
	})
}

func TestCounters(t *testing.T) {
	m := New(config.MetricsConfig{Namespace: "evalcoach"})

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.LineDropped("malformed")
	m.SessionStarted()
	m.SessionFinished("stopped")
	m.PoolState(1, 2, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linesDropped.WithLabelValues("malformed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionsLive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.workers.WithLabelValues("busy")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(config.MetricsConfig{Namespace: "evalcoach"})

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `evalcoach_http_requests_total{method="GET",route="/api/sessions/:id",status="204"} 1`), body)
}
