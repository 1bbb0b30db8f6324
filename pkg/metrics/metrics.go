package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	workers         *prometheus.GaugeVec
	waiters         prometheus.Gauge
	acquireWait     prometheus.Histogram
	handshakeFail   prometheus.Counter
	workersReaped   prometheus.Counter
	sessionsStarted prometheus.Counter
	sessionsDone    *prometheus.CounterVec
	sessionsLive    prometheus.Gauge
	linesDropped    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheWrites     prometheus.Counter
	coordSuperseded prometheus.Counter
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:   r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		httpInfl:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),

		workers:       prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Subsystem: "pool", Name: "workers", Help: "Engine workers by state."}, []string{"state"}),
		waiters:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: "pool", Name: "waiters", Help: "Acquisitions queued for a free worker."}),
		acquireWait:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Subsystem: "pool", Name: "acquire_wait_seconds", Buckets: buckets}),
		handshakeFail: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: "pool", Name: "handshake_failures_total"}),
		workersReaped: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: "pool", Name: "workers_reaped_total"}),

		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: "session", Name: "started_total"}),
		sessionsDone:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Subsystem: "session", Name: "finished_total"}, []string{"status"}),
		sessionsLive:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: "session", Name: "live"}),
		linesDropped:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Subsystem: "session", Name: "lines_dropped_total", Help: "Engine output lines discarded by the session."}, []string{"reason"}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Subsystem: "cache", Name: "lookups_total"}, []string{"result"}),
		cacheWrites:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: "cache", Name: "writes_total"}),

		coordSuperseded: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: "coordinator", Name: "superseded_total", Help: "Requests collapsed by debouncing."}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.workers, m.waiters, m.acquireWait, m.handshakeFail, m.workersReaped)
	r.MustRegister(m.sessionsStarted, m.sessionsDone, m.sessionsLive, m.linesDropped)
	r.MustRegister(m.cacheLookups, m.cacheWrites, m.coordSuperseded)
	return m
}

// PoolState publishes the current pool occupancy.
func (m *Metrics) PoolState(idle, busy, waiting int) {
	if m == nil {
		return
	}
	m.workers.WithLabelValues("idle").Set(float64(idle))
	m.workers.WithLabelValues("busy").Set(float64(busy))
	m.waiters.Set(float64(waiting))
}

func (m *Metrics) AcquireWaited(since time.Time) {
	if m == nil {
		return
	}
	m.acquireWait.Observe(time.Since(since).Seconds())
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakeFail.Inc()
}

func (m *Metrics) WorkersReaped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.workersReaped.Add(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.sessionsLive.Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsDone.WithLabelValues(status).Inc()
	m.sessionsLive.Dec()
}

func (m *Metrics) LineDropped(reason string) {
	if m == nil {
		return
	}
	m.linesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheWrite() {
	if m == nil {
		return
	}
	m.cacheWrites.Inc()
}

func (m *Metrics) Superseded() {
	if m == nil {
		return
	}
	m.coordSuperseded.Inc()
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
