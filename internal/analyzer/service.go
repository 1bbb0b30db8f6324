// Package analyzer ties the engine pool, session registry, hub and position
// cache into one service instance.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/amoylab/evalcoach/internal/cache"
	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/internal/hub"
	"github.com/amoylab/evalcoach/internal/rules"
	"github.com/amoylab/evalcoach/internal/session"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"github.com/amoylab/evalcoach/pkg/trace"
	"github.com/amoylab/evalcoach/pkg/uci"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Request asks for analysis of Position after Moves. Zero Depth and Lines
// select the configured defaults; an empty SessionID allocates a new one.
type Request struct {
	SessionID string   `json:"sessionId,omitempty"`
	Position  string   `json:"position"`
	Moves     []string `json:"moves,omitempty"`
	Depth     int      `json:"maxDepth,omitempty"`
	Lines     int      `json:"lineCount,omitempty"`
}

// Service is the analysis session layer.
type Service struct {
	cfg     *config.AnalyzerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	rules   rules.Chess

	pool     *engine.Pool
	hub      *hub.Hub[session.Snapshot]
	registry *session.Registry
	cache    *cache.Cache
	janitor  *janitor

	destroyed    atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a service. A nil store selects an in-memory cache.
func New(cfg *config.AnalyzerConfig, launcher engine.Launcher, store cache.Store, logger *zap.Logger, m *metrics.Metrics) *Service {
	logger = logger.Named("analyzer")
	if store == nil {
		store = cache.NewMemoryStore(logger, cfg.Cache.MaxEntries)
	}

	r := rules.New()
	pool := engine.NewPool(cfg.Pool, cfg.Engine.Options, launcher, logger, m)
	h := hub.New[session.Snapshot](logger)
	reg := session.NewRegistry(cfg.Session, pool, r, h, logger, m)

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		rules:    r,
		pool:     pool,
		hub:      h,
		registry: reg,
		cache:    cache.New(store, cfg.Cache.MinDepth, logger, m),
	}
	reg.OnComplete(s.remember)
	s.janitor = newJanitor(s, cfg.Pool.SweepInterval, logger)
	return s
}

// Start launches the background sweeps.
func (s *Service) Start(ctx context.Context) {
	s.janitor.Start(ctx)
}

// Analyze validates req and starts a session for it, or completes one
// straight from the cache. It blocks until an engine is searching.
func (s *Service) Analyze(ctx context.Context, req Request) (session.Snapshot, error) {
	if s.destroyed.Load() {
		return session.Snapshot{}, errorx.ErrDestroyed
	}

	scope := trace.Tracer(cnst.TraceAnalyzer).Start(ctx, cnst.SpanAnalyze)
	defer scope.End()
	ctx = scope.Ctx

	spec, err := s.Prepare(req)
	if err != nil {
		scope.Fail(err)
		return session.Snapshot{}, err
	}
	scope.WithAttrs(
		attribute.String(cnst.AttrSessionID, spec.ID),
		attribute.String(cnst.AttrPosition, spec.Position),
		attribute.Int(cnst.AttrDepth, spec.Depth),
		attribute.Int(cnst.AttrLineCount, spec.Lines),
	)

	if lines, ok := s.lookup(ctx, spec); ok {
		scope.WithAttrs(attribute.Bool(cnst.AttrCacheHit, true))
		return s.registry.Complete(ctx, spec, lines)
	}
	scope.WithAttrs(attribute.Bool(cnst.AttrCacheHit, false))

	snap, err := s.registry.Start(ctx, spec)
	if err != nil {
		scope.Fail(err)
	}
	return snap, err
}

// Prepare validates req and resolves it into a session spec.
func (s *Service) Prepare(req Request) (session.Spec, error) {
	root := strings.TrimSpace(req.Position)
	if root == "" || root == "startpos" {
		root = cnst.StartPosition
	}
	moves := make([]string, 0, len(req.Moves))
	for _, m := range req.Moves {
		if m = strings.TrimSpace(m); m != "" {
			moves = append(moves, m)
		}
	}

	position, err := s.rules.Replay(root, moves)
	if err != nil {
		return session.Spec{}, err
	}
	side, err := s.rules.SideToMove(position)
	if err != nil {
		return session.Spec{}, err
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}

	return session.Spec{
		ID:         id,
		Root:       root,
		Moves:      moves,
		Position:   position,
		SideToMove: side,
		Depth:      clamp(req.Depth, s.cfg.Session.DefaultDepth, s.cfg.Session.MaxDepth),
		Lines:      clamp(req.Lines, s.cfg.Session.DefaultLines, s.cfg.Session.MaxLines),
	}, nil
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// lookup serves a request from the cache when the stored analysis is at
// least as deep and as wide as asked for.
func (s *Service) lookup(ctx context.Context, spec session.Spec) ([]uci.Line, bool) {
	scope := trace.Tracer(cnst.TraceAnalyzer).Start(ctx, cnst.SpanCacheLookup)
	defer scope.End()

	lines, ok := s.cache.Get(scope.Ctx, spec.Root, spec.Moves)
	if !ok || len(lines) < spec.Lines {
		return nil, false
	}
	lines = lines[:spec.Lines]
	for _, l := range lines {
		if l.Depth < spec.Depth {
			return nil, false
		}
	}
	return lines, true
}

// remember writes naturally completed analyses through to the cache.
func (s *Service) remember(spec session.Spec, snap session.Snapshot) {
	if len(snap.Lines) == 0 {
		return
	}
	s.cache.Put(context.Background(), spec.Root, spec.Moves, snap.Lines)
}

// Stop stops the live session with id.
func (s *Service) Stop(ctx context.Context, id string) bool {
	scope := trace.Tracer(cnst.TraceAnalyzer).Start(ctx, cnst.SpanStop).
		WithAttrs(attribute.String(cnst.AttrSessionID, id))
	defer scope.End()
	return s.registry.Stop(id)
}

// Status returns the latest snapshot of id.
func (s *Service) Status(id string) (session.Snapshot, error) {
	return s.registry.Status(id)
}

// Wait blocks until the session with id is finished.
func (s *Service) Wait(ctx context.Context, id string) (session.Snapshot, error) {
	return s.registry.Wait(ctx, id)
}

// Subscribe follows the snapshots of id. See hub.Hub.Subscribe.
func (s *Service) Subscribe(id string, fn func(session.Snapshot)) func() {
	return s.hub.Subscribe(id, fn)
}

// Sessions lists every known session.
func (s *Service) Sessions() []session.Snapshot { return s.registry.List() }

// PoolStats reports pool occupancy.
func (s *Service) PoolStats() engine.Stats { return s.pool.Stats() }

// Workers lists the engine workers.
func (s *Service) Workers() []engine.WorkerInfo { return s.pool.Workers() }

// ClearCache empties the position cache.
func (s *Service) ClearCache(ctx context.Context) error { return s.cache.Clear(ctx) }

// Ready reports whether the service accepts requests.
func (s *Service) Ready() bool { return !s.destroyed.Load() }

// Shutdown stops the janitor and every session, kills the engines and closes
// the cache. Later calls return the first result.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.destroyed.Store(true)
		s.janitor.Stop()

		var errs []error
		if err := s.registry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("analysis service shut down", zap.Error(s.shutdownErr))
	})
	return s.shutdownErr
}
