// Package coordinator turns a stream of client position changes into
// debounced analysis sessions and forwards only current results.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/evalcoach/internal/analyzer"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/session"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"go.uber.org/zap"
)

// Analyzer is the analysis service as seen by the coordinator.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (session.Snapshot, error)
	Stop(ctx context.Context, id string) bool
	Subscribe(id string, fn func(session.Snapshot)) func()
}

var _ Analyzer = (*analyzer.Service)(nil)

// Translator localizes failure messages.
type Translator interface {
	Translate(msgID string, lang string, data map[string]any) string
}

// Request is one client position change.
type Request struct {
	Position string   `json:"position"`
	Moves    []string `json:"moves,omitempty"`
	Depth    int      `json:"maxDepth,omitempty"`
	Lines    int      `json:"lineCount,omitempty"`
	// Lang selects the language of failure messages.
	Lang string `json:"-"`
}

type stream struct {
	id          string
	current     uint64
	cancelled   bool
	timer       *time.Timer
	unsubscribe func()
	// stopping is closed once a superseded session has been stopped.
	stopping chan struct{}
	watchers map[uint64]chan Update
}

// Coordinator owns the client streams. Each stream maps to the session with
// the same id, so a newer request replaces the older session.
type Coordinator struct {
	analyzer   Analyzer
	translator Translator
	cfg        config.CoordinatorConfig
	devMode    bool
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	streams   map[string]*stream
	watcherID uint64
	closed    bool
}

// New creates a coordinator.
func New(a Analyzer, tr Translator, cfg config.CoordinatorConfig, devMode bool, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Coordinator{
		analyzer:   a,
		translator: tr,
		cfg:        cfg,
		devMode:    devMode,
		logger:     logger.Named("coordinator"),
		metrics:    m,
		streams:    make(map[string]*stream),
	}
}

func (c *Coordinator) streamLocked(id string) *stream {
	st, ok := c.streams[id]
	if !ok {
		st = &stream{id: id, watchers: make(map[uint64]chan Update)}
		c.streams[id] = st
	}
	return st
}

// Submit records req as the stream's current request and returns its id.
// The analysis starts once no newer request arrives within the debounce window.
// A session already running for an older request is stopped right away.
func (c *Coordinator) Submit(streamID string, req Request) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	st := c.streamLocked(streamID)
	st.current++
	st.cancelled = false
	id := st.current
	if st.timer != nil && st.timer.Stop() {
		c.metrics.Superseded()
	}
	if st.unsubscribe != nil {
		c.stopSupersededLocked(st)
	}
	st.timer = time.AfterFunc(c.cfg.Debounce, func() { c.fire(streamID, id, req) })
	return id
}

// stopSupersededLocked detaches the stream's running session and stops it in
// the background. The next fire waits for the stop so it cannot hit the
// replacement session.
func (c *Coordinator) stopSupersededLocked(st *stream) {
	unsubscribe := st.unsubscribe
	st.unsubscribe = nil
	prev := st.stopping
	done := make(chan struct{})
	st.stopping = done
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		unsubscribe()
		c.analyzer.Stop(context.Background(), st.id)
	}()
}

func (c *Coordinator) isCurrentLocked(st *stream, id uint64) bool {
	return !c.closed && st != nil && !st.cancelled && st.current == id
}

// fire starts the analysis for request id if it is still current.
func (c *Coordinator) fire(streamID string, id uint64, req Request) {
	c.mu.Lock()
	st := c.streams[streamID]
	if !c.isCurrentLocked(st, id) {
		c.mu.Unlock()
		return
	}
	st.timer = nil
	prev := st.unsubscribe
	st.unsubscribe = nil
	stopping := st.stopping
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	if stopping != nil {
		<-stopping
		c.mu.Lock()
		current := c.isCurrentLocked(st, id)
		if current && st.stopping == stopping {
			st.stopping = nil
		}
		c.mu.Unlock()
		if !current {
			return
		}
	}

	snap, err := c.analyzer.Analyze(context.Background(), analyzer.Request{
		SessionID: streamID,
		Position:  req.Position,
		Moves:     req.Moves,
		Depth:     req.Depth,
		Lines:     req.Lines,
	})
	if err != nil {
		c.logger.Debug("analysis request failed", zap.String("stream", streamID), zap.Uint64("request", id), zap.Error(err))
		c.deliver(streamID, id, Update{
			SessionID: streamID,
			RequestID: id,
			Status:    UpdateError,
			Error:     c.failure(err, req.Lang),
		})
		return
	}

	gen := snap.Gen
	unsubscribe := c.analyzer.Subscribe(streamID, func(s session.Snapshot) {
		if s.Gen != gen {
			return
		}
		c.deliver(streamID, id, c.toUpdate(s, id, req.Lang))
	})

	c.mu.Lock()
	if !c.isCurrentLocked(st, id) || c.streams[streamID] != st {
		// a newer request replaces the session on its own; a cancel must stop it
		cancelled := c.closed || st.cancelled
		c.mu.Unlock()
		unsubscribe()
		if cancelled {
			c.analyzer.Stop(context.Background(), streamID)
		}
		return
	}
	st.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// deliver fans an update out to the stream's watchers unless the request is stale.
// A watcher that falls behind loses its oldest pending update.
func (c *Coordinator) deliver(streamID string, id uint64, u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.streams[streamID]
	if !c.isCurrentLocked(st, id) {
		return
	}
	for _, ch := range st.watchers {
		select {
		case ch <- u:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// Watch returns a channel of updates for the stream's current request.
// The returned func detaches the watcher and closes the channel.
func (c *Coordinator) Watch(streamID string) (<-chan Update, func()) {
	ch := make(chan Update, c.cfg.Buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	st := c.streamLocked(streamID)
	c.watcherID++
	wid := c.watcherID
	st.watchers[wid] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := st.watchers[wid]; !ok {
				return
			}
			delete(st.watchers, wid)
			close(ch)
			c.pruneLocked(st)
		})
	}
}

// Cancel invalidates the stream's current request and stops its session.
func (c *Coordinator) Cancel(streamID string) bool {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	st.cancelled = true
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	unsubscribe := st.unsubscribe
	st.unsubscribe = nil
	c.pruneLocked(st)
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return c.analyzer.Stop(context.Background(), streamID)
}

// pruneLocked forgets a cancelled stream nobody watches.
func (c *Coordinator) pruneLocked(st *stream) {
	if st.cancelled && len(st.watchers) == 0 && st.timer == nil && c.streams[st.id] == st {
		delete(c.streams, st.id)
	}
}

// Current returns the stream's latest request id.
func (c *Coordinator) Current(streamID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.streams[streamID]; ok {
		return st.current
	}
	return 0
}

// Close cancels every stream and closes all watcher channels.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[string]*stream)
	var unsubs []func()
	var ids []string
	for id, st := range streams {
		if st.timer != nil {
			st.timer.Stop()
		}
		if st.unsubscribe != nil {
			unsubs = append(unsubs, st.unsubscribe)
		}
		for wid, ch := range st.watchers {
			close(ch)
			delete(st.watchers, wid)
		}
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, id := range ids {
		c.analyzer.Stop(context.Background(), id)
	}
}

// Classify turns err into a localized failure.
func (c *Coordinator) Classify(err error, lang string) *Failure {
	return c.failure(err, lang)
}

func (c *Coordinator) failure(err error, lang string) *Failure {
	kind := KindOf(err)
	f := &Failure{Kind: kind, Message: c.translator.Translate(kind.MessageID(), lang, nil)}
	if c.devMode && err != nil {
		f.Detail = err.Error()
	}
	return f
}
