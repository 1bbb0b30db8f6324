package analyzer

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

// janitor periodically reaps idle workers and stale sessions.
type janitor struct {
	svc      *Service
	logger   *zap.Logger
	interval time.Duration
	running  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

func newJanitor(svc *Service, interval time.Duration, logger *zap.Logger) *janitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &janitor{
		svc:      svc,
		logger:   logger.Named("janitor"),
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Repeated calls are ignored.
func (j *janitor) Start(ctx context.Context) {
	if j.stopped.Load() || !j.running.CompareAndSwap(false, true) {
		return
	}
	go j.loop(ctx)
	j.logger.Info("started janitor", zap.Duration("interval", j.interval))
}

// Stop halts the loop and waits for a sweep in progress.
func (j *janitor) Stop() {
	if !j.stopped.CompareAndSwap(false, true) {
		return
	}
	close(j.stopChan)
	if j.running.Load() {
		<-j.done
	}
}

func (j *janitor) loop(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopChan:
			return
		case now := <-ticker.C:
			j.sweep(now)
		}
	}
}

func (j *janitor) sweep(now time.Time) {
	reaped := j.svc.pool.Sweep(now)
	stopped, forgotten := j.svc.registry.Sweep(now)
	if reaped+stopped+forgotten > 0 {
		j.logger.Info("sweep finished",
			zap.Int("workersReaped", reaped),
			zap.Int("sessionsStopped", stopped),
			zap.Int("sessionsForgotten", forgotten))
	}
}
