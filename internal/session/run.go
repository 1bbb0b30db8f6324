package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/pkg/uci"
	"go.uber.org/zap"
)

// drop reasons reported to metrics
const (
	dropMalformed = "malformed"
	dropMultiPV   = "multipv"
	dropShallower = "shallower"
)

// run consumes engine output for e until the search ends one way or another.
func (r *Registry) run(e *entry, w *engine.Worker) {
	progress := time.NewTimer(r.cfg.ProgressTimeout)
	defer progress.Stop()

	lines := w.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				r.pool.Discard(w)
				r.finish(e, StatusError, fmt.Errorf("%w: engine output closed", errorx.ErrCommunication))
				return
			}
			if bm, ok := uci.ParseBestMove(line); ok {
				r.pool.Release(w)
				r.complete(e, bm)
				return
			}
			if r.apply(e, line) {
				if !progress.Stop() {
					select {
					case <-progress.C:
					default:
					}
				}
				progress.Reset(r.cfg.ProgressTimeout)
			}

		case <-progress.C:
			r.logger.Warn("engine made no progress",
				zap.String("session", e.spec.ID),
				zap.String("worker", w.ID()),
				zap.Duration("timeout", r.cfg.ProgressTimeout))
			r.halt(e, w)
			r.finish(e, StatusError, fmt.Errorf("%w: no progress within %s", errorx.ErrTimeout, r.cfg.ProgressTimeout))
			return

		case <-e.stopCh:
			r.halt(e, w)
			r.finish(e, StatusStopped, nil)
			return
		}
	}
}

// apply folds one engine line into e and publishes when it changed anything.
func (r *Registry) apply(e *entry, line string) bool {
	info, ok := uci.ParseInfo(line)
	if !ok {
		if strings.HasPrefix(line, "info") && strings.Contains(line, " score ") {
			r.metrics.LineDropped(dropMalformed)
		}
		return false
	}
	if info.MultiPV > e.spec.Lines {
		r.metrics.LineDropped(dropMultiPV)
		return false
	}

	e.mu.Lock()
	if cur, ok := e.lines[info.MultiPV]; ok && info.Depth < cur.Depth {
		e.mu.Unlock()
		r.metrics.LineDropped(dropShallower)
		return false
	}
	e.mu.Unlock()

	// display translation runs outside the lock; only this goroutine writes lines
	l := uci.Line{
		Index: info.MultiPV,
		Depth: info.Depth,
		Eval:  uci.Normalize(info.Score, e.spec.SideToMove),
		PV:    append([]string(nil), info.PV...),
		SAN:   uci.TranslateToDisplay(r.rules, e.spec.Position, info.PV),
	}

	e.mu.Lock()
	e.lines[l.Index] = l
	e.updatedAt = r.now()
	e.mu.Unlock()

	r.hub.Publish(e.snapshot())
	return true
}

func (r *Registry) complete(e *entry, bm uci.BestMove) {
	e.mu.Lock()
	if !bm.None() {
		e.bestMove = bm.Move
		e.ponder = bm.Ponder
	}
	e.mu.Unlock()

	// observers run before the completion is visible to waiters
	if r.onComplete != nil {
		snap := e.snapshot()
		snap.Status = StatusCompleted
		r.onComplete(e.spec, snap)
	}
	r.finish(e, StatusCompleted, nil)
}

// halt stops the search and returns the worker once the engine confirms with
// bestmove. A worker that does not confirm in time is discarded.
func (r *Registry) halt(e *entry, w *engine.Worker) {
	if err := w.Send(uci.CmdStop); err != nil {
		r.pool.Discard(w)
		return
	}

	deadline := time.NewTimer(r.cfg.StopTimeout)
	defer deadline.Stop()

	lines := w.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				r.pool.Discard(w)
				return
			}
			if _, ok := uci.ParseBestMove(line); ok {
				r.pool.Release(w)
				return
			}
		case <-deadline.C:
			r.logger.Warn("engine ignored stop, discarding worker",
				zap.String("session", e.spec.ID),
				zap.String("worker", w.ID()))
			r.pool.Discard(w)
			return
		}
	}
}
