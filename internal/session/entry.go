package session

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/evalcoach/pkg/uci"
)

// entry is the mutable state behind one session generation. After binding,
// only the run loop mutates it.
type entry struct {
	spec      Spec
	gen       uint64
	createdAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	status    Status
	lines     map[int]uci.Line
	bestMove  string
	ponder    string
	cached    bool
	err       error
	updatedAt time.Time
}

func newEntry(spec Spec, gen uint64, now time.Time) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{
		spec:      spec,
		gen:       gen,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		status:    StatusPending,
		lines:     make(map[int]uci.Line),
		updatedAt: now,
	}
}

func (e *entry) requestStop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.cancel()
	})
}

func (e *entry) terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Terminal()
}

func (e *entry) lastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updatedAt
}

func (e *entry) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines := contiguous(e.lines, e.spec.Lines)
	snap := Snapshot{
		ID:          e.spec.ID,
		Gen:         e.gen,
		Status:      e.status,
		Position:    e.spec.Position,
		Root:        e.spec.Root,
		Moves:       append([]string(nil), e.spec.Moves...),
		TargetDepth: e.spec.Depth,
		LineCount:   e.spec.Lines,
		Lines:       lines,
		BestMove:    e.bestMove,
		Ponder:      e.ponder,
		Cached:      e.cached,
		Err:         e.err,
		CreatedAt:   e.createdAt,
		UpdatedAt:   e.updatedAt,
	}
	if len(lines) > 0 {
		best := lines[0].Eval
		snap.Best = &best
		snap.Depth = lines[0].Depth
	}
	if e.err != nil {
		snap.Error = e.err.Error()
	}
	return snap
}
