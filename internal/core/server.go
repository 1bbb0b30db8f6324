package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/amoylab/evalcoach/internal/analyzer"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/internal/coordinator"
	"github.com/amoylab/evalcoach/internal/i18n"
	"github.com/amoylab/evalcoach/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type (
	// Server exposes the analysis service over HTTP
	Server struct {
		logger *zap.Logger
		cfg    *config.AnalyzerConfig
		router *gin.Engine
		http   *http.Server

		analyzer *analyzer.Service
		coord    *coordinator.Coordinator
		i18n     *i18n.I18n
		errs     *errorx.ErrorHandler
		metrics  *metrics.Metrics

		// shutdownCh is closed to end every open SSE connection
		shutdownCh   chan struct{}
		shutdownOnce sync.Once
	}
)

// NewServer creates the HTTP server. tr and m may be nil.
func NewServer(logger *zap.Logger, cfg *config.AnalyzerConfig, svc *analyzer.Service, coord *coordinator.Coordinator, tr *i18n.I18n, m *metrics.Metrics) *Server {
	logger = logger.Named("core")

	var translator errorx.Translator
	if tr != nil {
		translator = tr
	}

	s := &Server{
		logger:     logger,
		cfg:        cfg,
		router:     gin.New(),
		analyzer:   svc,
		coord:      coord,
		i18n:       tr,
		errs:       errorx.NewErrorHandler(logger, translator, cfg.DevMode),
		metrics:    m,
		shutdownCh: make(chan struct{}),
	}

	if cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.recoveryMiddleware())
	if cfg.Metrics.Enabled {
		s.router.Use(m.Middleware())
	}
	if cors := cfg.Server.CORS; cors != nil {
		corsMiddleware := s.corsMiddleware(cors)
		s.router.OPTIONS("/*path", corsMiddleware)
		s.router.Use(corsMiddleware)
	}
	s.router.Use(s.errs.ErrorMiddleware())
	return s
}

// RegisterRoutes registers the analysis API
func (s *Server) RegisterRoutes() {
	s.router.GET("/health_check", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.POST("/stop", s.handleStop)
	api.GET("/sessions", s.handleSessions)
	api.GET("/sessions/:id", s.handleStatus)
	api.GET("/sessions/:id/events", s.handleSessionEvents)
	api.GET("/engines", s.handleEngines)
	api.DELETE("/cache", s.handleClearCache)

	streams := api.Group("/streams/:stream")
	streams.POST("/analyze", s.handleStreamAnalyze)
	streams.DELETE("", s.handleStreamCancel)
	streams.GET("/events", s.handleStreamEvents)
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP in the background
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.router,
	}
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start server", zap.Error(err))
		}
	}()
}

// Shutdown closes SSE connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
