package engine

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"github.com/amoylab/evalcoach/pkg/trace"
	"github.com/amoylab/evalcoach/pkg/uci"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// grant hands a queued acquirer either a released worker or a free slot to spawn into.
type grant struct {
	w     *Worker
	spawn bool
	err   error
}

type waiter struct {
	ch      chan grant
	granted bool
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Max     int `json:"max"`
	Size    int `json:"size"`
	Idle    int `json:"idle"`
	Busy    int `json:"busy"`
	Pending int `json:"pending"`
	Waiting int `json:"waiting"`
}

// Pool owns a bounded set of engine workers. Acquirers that find the pool
// full wait in FIFO order.
type Pool struct {
	cfg      config.PoolConfig
	options  map[string]string
	launcher Launcher
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	workers map[string]*Worker
	idle    []*Worker
	pending int
	waiters *list.List
	closed  bool
}

// NewPool creates a pool. options are sent as setoption commands during the handshake.
func NewPool(cfg config.PoolConfig, options map[string]string, launcher Launcher, logger *zap.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		cfg:      cfg,
		options:  options,
		launcher: launcher,
		logger:   logger.Named("engine.pool"),
		metrics:  m,
		now:      time.Now,
		workers:  make(map[string]*Worker),
		waiters:  list.New(),
	}
}

// Acquire returns a worker bound to sessionID, spawning one if the pool has
// room and otherwise waiting for a release.
func (p *Pool) Acquire(ctx context.Context, sessionID string) (*Worker, error) {
	scope := trace.Tracer(cnst.TraceAnalyzer).Start(ctx, cnst.SpanEngineAcquire).
		WithAttrs(attribute.String(cnst.AttrSessionID, sessionID))
	defer scope.End()

	w, err := p.acquire(scope.Ctx, sessionID)
	if err != nil {
		scope.Fail(err)
		return nil, err
	}
	scope.WithAttrs(attribute.String(cnst.AttrWorkerID, w.id))
	return w, nil
}

func (p *Pool) acquire(ctx context.Context, sessionID string) (*Worker, error) {
	start := p.now()
	defer p.metrics.AcquireWaited(start)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errorx.ErrDestroyed
	}
	if p.waiters.Len() == 0 {
		if w := p.popIdleLocked(); w != nil {
			p.bindLocked(w, sessionID)
			p.mu.Unlock()
			return w, nil
		}
		if p.sizeLocked() < p.cfg.MaxWorkers {
			p.pending++
			p.reportLocked()
			p.mu.Unlock()
			return p.spawn(ctx, sessionID)
		}
	}

	wt := &waiter{ch: make(chan grant, 1)}
	el := p.waiters.PushBack(wt)
	p.reportLocked()
	p.mu.Unlock()

	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case g := <-wt.ch:
		return p.take(ctx, g, sessionID)
	case <-ctx.Done():
		p.abandon(wt, el)
		return nil, ctx.Err()
	case <-timeout:
		p.abandon(wt, el)
		return nil, fmt.Errorf("%w after %s", errorx.ErrCapacity, p.cfg.AcquireTimeout)
	}
}

func (p *Pool) take(ctx context.Context, g grant, sessionID string) (*Worker, error) {
	switch {
	case g.err != nil:
		return nil, g.err
	case g.w != nil:
		p.mu.Lock()
		g.w.sessionID = sessionID
		p.mu.Unlock()
		return g.w, nil
	default:
		return p.spawn(ctx, sessionID)
	}
}

// abandon withdraws a waiter. A grant that raced with the withdrawal is handed back.
func (p *Pool) abandon(wt *waiter, el *list.Element) {
	p.mu.Lock()
	if !wt.granted {
		p.waiters.Remove(el)
		p.reportLocked()
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	g := <-wt.ch
	switch {
	case g.w != nil:
		p.Release(g.w)
	case g.spawn:
		p.mu.Lock()
		p.pending--
		p.grantSlotLocked()
		p.reportLocked()
		p.mu.Unlock()
	}
}

func (p *Pool) spawn(ctx context.Context, sessionID string) (*Worker, error) {
	scope := trace.Tracer(cnst.TraceAnalyzer).Start(ctx, cnst.SpanEngineSpawn)
	w, err := p.launch(scope.Ctx)
	scope.Fail(err).End()

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.grantSlotLocked()
		p.reportLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = w.proc.Close()
		return nil, errorx.ErrDestroyed
	}
	p.workers[w.id] = w
	p.bindLocked(w, sessionID)
	p.mu.Unlock()

	p.logger.Info("engine worker spawned", zap.String("worker", w.id), zap.String("session", sessionID))
	return w, nil
}

// launch starts a process and runs the handshake, retrying with exponential backoff.
func (p *Pool) launch(ctx context.Context) (*Worker, error) {
	attempt := 0
	op := func() (*Worker, error) {
		attempt++
		proc, err := p.launcher.Launch(ctx)
		if err != nil {
			return nil, err
		}
		if err := p.handshake(ctx, proc); err != nil {
			_ = proc.Close()
			p.metrics.HandshakeFailed()
			return nil, err
		}
		return newWorker(uuid.NewString(), proc, p.now()), nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInitialInterval
	b.MaxInterval = p.cfg.RetryMaxInterval

	tries := p.cfg.HandshakeRetries
	if tries < 1 {
		tries = 1
	}
	w, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			trace.Event(ctx, cnst.EventHandshakeRetry,
				attribute.Int(cnst.AttrAttempt, attempt),
				attribute.String(cnst.AttrError, err.Error()))
			p.logger.Warn("engine handshake failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.logger.Error("engine initialization failed", zap.Int("attempts", attempt), zap.Error(err))
		return nil, fmt.Errorf("%w after %d attempts: %v", errorx.ErrInitialization, attempt, err)
	}
	return w, nil
}

// handshake identifies the engine, applies options and waits for readiness,
// all within one deadline.
func (p *Pool) handshake(ctx context.Context, proc Process) error {
	deadline := time.NewTimer(p.cfg.HandshakeTimeout)
	defer deadline.Stop()

	if err := proc.Send(uci.CmdUCI); err != nil {
		return err
	}
	if err := awaitLine(ctx, proc, deadline.C, uci.IsUCIOK); err != nil {
		return fmt.Errorf("waiting for uciok: %w", err)
	}

	names := make([]string, 0, len(p.options))
	for name := range p.options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := proc.Send(uci.SetOption(name, p.options[name])); err != nil {
			return err
		}
	}

	if err := proc.Send(uci.CmdIsReady); err != nil {
		return err
	}
	if err := awaitLine(ctx, proc, deadline.C, uci.IsReadyOK); err != nil {
		return fmt.Errorf("waiting for readyok: %w", err)
	}
	return nil
}

func awaitLine(ctx context.Context, proc Process, deadline <-chan time.Time, match func(string) bool) error {
	lines := proc.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return fmt.Errorf("%w: engine output closed", errorx.ErrCommunication)
			}
			if match(line) {
				return nil
			}
		case <-deadline:
			return errorx.ErrTimeout
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}
}

// Release returns a worker to the pool, handing it to the oldest waiter if any.
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workers[w.id]; !ok {
		return
	}
	w.busy = false
	w.sessionID = ""
	w.lastUsed = p.now()

	if el := p.waiters.Front(); el != nil {
		wt := p.waiters.Remove(el).(*waiter)
		wt.granted = true
		w.busy = true
		wt.ch <- grant{w: w}
	} else {
		p.idle = append(p.idle, w)
	}
	p.reportLocked()
}

// Discard kills a worker that can no longer be trusted and frees its slot.
func (p *Pool) Discard(w *Worker) {
	p.mu.Lock()
	if _, ok := p.workers[w.id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.workers, w.id)
	p.removeIdleLocked(w)
	p.grantSlotLocked()
	p.reportLocked()
	p.mu.Unlock()

	p.logger.Warn("engine worker discarded", zap.String("worker", w.id))
	_ = w.proc.Close()
}

// Sweep terminates workers idle for longer than the idle timeout.
func (p *Pool) Sweep(now time.Time) int {
	p.mu.Lock()
	var reaped []*Worker
	kept := p.idle[:0]
	for _, w := range p.idle {
		if now.Sub(w.lastUsed) > p.cfg.IdleTimeout {
			reaped = append(reaped, w)
			delete(p.workers, w.id)
			continue
		}
		kept = append(kept, w)
	}
	p.idle = kept
	p.reportLocked()
	p.mu.Unlock()

	for _, w := range reaped {
		p.logger.Info("reaping idle engine worker", zap.String("worker", w.id))
		_ = w.proc.Close()
	}
	p.metrics.WorkersReaped(len(reaped))
	return len(reaped)
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// Workers lists every worker, oldest first.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.info())
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown fails all waiters and terminates every process.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for el := p.waiters.Front(); el != nil; el = el.Next() {
		wt := el.Value.(*waiter)
		wt.granted = true
		wt.ch <- grant{err: errorx.ErrDestroyed}
	}
	p.waiters.Init()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[string]*Worker)
	p.idle = nil
	p.reportLocked()
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_ = w.proc.Close()
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("engine pool shut down", zap.Int("workers", len(workers)))
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("engine pool shutdown interrupted"), ctx.Err())
	}
}

func (p *Pool) sizeLocked() int { return len(p.workers) + p.pending }

func (p *Pool) popIdleLocked() *Worker {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	w := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return w
}

func (p *Pool) removeIdleLocked(w *Worker) {
	for i, iw := range p.idle {
		if iw == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

func (p *Pool) bindLocked(w *Worker, sessionID string) {
	w.busy = true
	w.sessionID = sessionID
	w.lastUsed = p.now()
	p.reportLocked()
}

// grantSlotLocked lets the oldest waiter spawn into a freed slot.
func (p *Pool) grantSlotLocked() {
	if p.closed || p.sizeLocked() >= p.cfg.MaxWorkers {
		return
	}
	el := p.waiters.Front()
	if el == nil {
		return
	}
	wt := p.waiters.Remove(el).(*waiter)
	wt.granted = true
	p.pending++
	wt.ch <- grant{spawn: true}
}

func (p *Pool) statsLocked() Stats {
	s := Stats{
		Max:     p.cfg.MaxWorkers,
		Size:    p.sizeLocked(),
		Idle:    len(p.idle),
		Pending: p.pending,
		Waiting: p.waiters.Len(),
	}
	s.Busy = len(p.workers) - s.Idle
	return s
}

func (p *Pool) reportLocked() {
	if p.metrics == nil {
		return
	}
	s := p.statsLocked()
	p.metrics.PoolState(s.Idle, s.Busy, s.Waiting)
}
