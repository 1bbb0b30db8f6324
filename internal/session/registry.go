package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/internal/hub"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"github.com/amoylab/evalcoach/pkg/uci"
	"go.uber.org/zap"
)

// Pool is the part of the worker pool a registry needs.
type Pool interface {
	Acquire(ctx context.Context, sessionID string) (*engine.Worker, error)
	Release(w *engine.Worker)
	Discard(w *engine.Worker)
}

var _ Pool = (*engine.Pool)(nil)

// stopGrace is how much longer than the stop timeout Stop waits for a session to end.
const stopGrace = time.Second

// CompleteFunc observes sessions that finished naturally on an engine.
type CompleteFunc func(spec Spec, snap Snapshot)

// Registry owns every session and serializes Start and Stop per session id.
type Registry struct {
	cfg     config.SessionConfig
	pool    Pool
	rules   uci.Rules
	hub     *hub.Hub[Snapshot]
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	onComplete CompleteFunc
	gen        atomic.Uint64

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*idLock
	closed  bool
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a registry publishing snapshots to h.
func NewRegistry(cfg config.SessionConfig, pool Pool, rules uci.Rules, h *hub.Hub[Snapshot], logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		cfg:     cfg,
		pool:    pool,
		rules:   rules,
		hub:     h,
		logger:  logger.Named("session"),
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*entry),
		locks:   make(map[string]*idLock),
	}
}

// OnComplete registers fn to observe naturally completed engine sessions.
// It must be set before the first Start.
func (r *Registry) OnComplete(fn CompleteFunc) {
	r.onComplete = fn
}

// Hub returns the hub snapshots are published on.
func (r *Registry) Hub() *hub.Hub[Snapshot] { return r.hub }

func (r *Registry) lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// Start replaces any live session with spec.ID and blocks until the new one
// is running on a worker or has failed.
func (r *Registry) Start(ctx context.Context, spec Spec) (Snapshot, error) {
	e, err := r.open(ctx, spec)
	if err != nil {
		return Snapshot{}, err
	}
	return r.bind(ctx, e)
}

// StartAsync is Start without waiting for a worker. The returned snapshot is
// pending; binding failures surface as an error snapshot.
func (r *Registry) StartAsync(ctx context.Context, spec Spec) (Snapshot, error) {
	e, err := r.open(ctx, spec)
	if err != nil {
		return Snapshot{}, err
	}
	snap := e.snapshot()
	go func() {
		_, _ = r.bind(context.WithoutCancel(ctx), e)
	}()
	return snap, nil
}

// Complete records a session whose lines were served without an engine.
func (r *Registry) Complete(ctx context.Context, spec Spec, lines []uci.Line) (Snapshot, error) {
	e, err := r.open(ctx, spec)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	e.lines = linesByIndex(lines)
	e.cached = true
	e.mu.Unlock()
	return r.finish(e, StatusCompleted, nil), nil
}

// open stops the live session with the same id and publishes a fresh pending one.
func (r *Registry) open(ctx context.Context, spec Spec) (*entry, error) {
	unlock := r.lock(spec.ID)
	defer unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errorx.ErrDestroyed
	}
	old := r.entries[spec.ID]
	r.mu.Unlock()

	if old != nil && !old.terminal() {
		r.logger.Debug("replacing live session", zap.String("session", spec.ID), zap.Uint64("generation", old.gen))
		old.requestStop()
		select {
		case <-old.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	now := r.now()
	e := newEntry(spec, r.gen.Add(1), now)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errorx.ErrDestroyed
	}
	r.entries[spec.ID] = e
	r.mu.Unlock()

	r.metrics.SessionStarted()
	r.hub.Open(spec.ID, e.gen)
	r.hub.Publish(e.snapshot())
	return e, nil
}

// bind acquires a worker for e and starts the search.
func (r *Registry) bind(ctx context.Context, e *entry) (Snapshot, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	detach := context.AfterFunc(e.ctx, cancel)
	defer detach()

	w, err := r.pool.Acquire(actx, e.spec.ID)
	if err != nil {
		if e.ctx.Err() != nil {
			return r.finish(e, StatusStopped, nil), nil
		}
		snap := r.finish(e, StatusError, err)
		return snap, err
	}

	if e.ctx.Err() != nil {
		r.pool.Release(w)
		return r.finish(e, StatusStopped, nil), nil
	}

	cmds := []string{
		uci.SetOption(uci.OptionMultiPV, fmt.Sprint(e.spec.Lines)),
		uci.Position(e.spec.Root, e.spec.Moves),
		uci.GoDepth(e.spec.Depth),
	}
	for _, cmd := range cmds {
		if err := w.Send(cmd); err != nil {
			r.pool.Discard(w)
			err = fmt.Errorf("%w: %v", errorx.ErrCommunication, err)
			return r.finish(e, StatusError, err), err
		}
	}

	e.mu.Lock()
	e.status = StatusActive
	e.updatedAt = r.now()
	e.mu.Unlock()
	snap := e.snapshot()
	r.hub.Publish(snap)

	r.logger.Debug("session active",
		zap.String("session", e.spec.ID),
		zap.String("worker", w.ID()),
		zap.Int("depth", e.spec.Depth),
		zap.Int("lines", e.spec.Lines))

	go r.run(e, w)
	return snap, nil
}

// Stop stops the live session with id and reports whether one was live.
// It returns once the engine confirmed the stop, the worker went back to the
// pool and the stopped snapshot was published, or after the stop timeout plus
// stopGrace when the session is still winding down; Wait observes the end then.
func (r *Registry) Stop(id string) bool {
	unlock := r.lock(id)
	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()
	if e == nil || e.terminal() {
		unlock()
		return false
	}
	e.requestStop()
	unlock()

	bound := time.NewTimer(r.cfg.StopTimeout + stopGrace)
	defer bound.Stop()
	select {
	case <-e.done:
	case <-bound.C:
		r.logger.Warn("session still stopping", zap.String("session", id), zap.Uint64("generation", e.gen))
	}
	return true
}

// Wait blocks until the current session with id reaches a terminal status.
func (r *Registry) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()
	if e == nil {
		return Snapshot{}, errorx.ErrSessionNotFound
	}
	select {
	case <-e.done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// Status returns the latest snapshot of id.
func (r *Registry) Status(id string) (Snapshot, error) {
	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()
	if e == nil {
		return Snapshot{}, errorx.ErrSessionNotFound
	}
	return e.snapshot(), nil
}

// List returns a snapshot of every known session, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gen > out[j].Gen })
	return out
}

// Sweep stops live sessions and forgets finished ones that have been
// inactive for longer than the idle timeout.
func (r *Registry) Sweep(now time.Time) (stopped, forgotten int) {
	r.mu.Lock()
	var stale []*entry
	for id, e := range r.entries {
		if now.Sub(e.lastActivity()) <= r.cfg.IdleTimeout {
			continue
		}
		if e.terminal() {
			delete(r.entries, id)
			r.hub.Forget(id)
			forgotten++
			continue
		}
		stale = append(stale, e)
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.logger.Info("stopping idle session", zap.String("session", e.spec.ID))
		e.requestStop()
		stopped++
	}
	return stopped, forgotten
}

// Forget drops a finished session and its hub state.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[id]; e != nil && e.terminal() {
		delete(r.entries, id)
		r.hub.Forget(id)
	}
}

// Shutdown stops every live session and waits for them to finish.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.terminal() {
			live = append(live, e)
		}
	}
	r.mu.Unlock()

	for _, e := range live {
		e.requestStop()
	}
	for _, e := range live {
		select {
		case <-e.done:
		case <-ctx.Done():
			return errors.Join(errors.New("session shutdown interrupted"), ctx.Err())
		}
	}
	r.logger.Info("sessions shut down", zap.Int("stopped", len(live)))
	return nil
}

// finish moves e to a terminal status and publishes the final snapshot.
func (r *Registry) finish(e *entry, status Status, err error) Snapshot {
	e.mu.Lock()
	if e.status.Terminal() {
		e.mu.Unlock()
		return e.snapshot()
	}
	e.status = status
	e.err = err
	e.updatedAt = r.now()
	e.mu.Unlock()

	e.cancel()
	snap := e.snapshot()
	// subscribers must see the terminal snapshot before a replacement can open
	r.hub.Publish(snap)
	close(e.done)

	r.metrics.SessionFinished(string(status))
	if err != nil {
		r.logger.Warn("session failed", zap.String("session", e.spec.ID), zap.Error(err))
	} else {
		r.logger.Debug("session finished",
			zap.String("session", e.spec.ID),
			zap.String("status", string(status)),
			zap.Int("depth", snap.Depth))
	}
	return snap
}
