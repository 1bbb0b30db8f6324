// Package hub fans out session snapshots to subscribers.
package hub

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Event is an immutable snapshot published for a key.
type Event interface {
	Key() string
	// Generation identifies the incarnation of the key. Events from an older
	// generation than the newest seen are dropped.
	Generation() uint64
	// Terminal marks the last event of a generation.
	Terminal() bool
}

type subscription[T Event] struct {
	fn func(T)
	// gen is the generation the subscriber joined; zero until one opens.
	gen  uint64
	mu   sync.Mutex
	seq  uint64
	done atomic.Bool
}

// deliver invokes the callback unless the event is older than one already delivered.
func (s *subscription[T]) deliver(seq uint64, ev T, logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done.Load() || seq <= s.seq {
		return
	}
	s.seq = seq

	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked",
				zap.String("key", ev.Key()),
				zap.Uint64("generation", ev.Generation()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.fn(ev)
}

type topic[T Event] struct {
	gen     uint64
	seq     uint64
	last    T
	hasLast bool
	closed  bool
	subs    map[uint64]*subscription[T]
}

// Hub tracks the latest snapshot per key and its subscribers.
type Hub[T Event] struct {
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*topic[T]
	nextID uint64
}

// New creates an empty hub.
func New[T Event](logger *zap.Logger) *Hub[T] {
	return &Hub[T]{
		logger: logger.Named("hub"),
		topics: make(map[string]*topic[T]),
	}
}

func (h *Hub[T]) topicLocked(key string) *topic[T] {
	t, ok := h.topics[key]
	if !ok {
		t = &topic[T]{subs: make(map[uint64]*subscription[T])}
		h.topics[key] = t
	}
	return t
}

// Open starts generation gen for key and forgets the previous snapshot.
// Subscribers of an older generation are detached; subscribers registered
// before any generation existed join gen.
func (h *Hub[T]) Open(key string, gen uint64) {
	h.mu.Lock()
	t := h.topicLocked(key)
	if gen < t.gen {
		h.mu.Unlock()
		return
	}
	var zero T
	dropped := h.advanceLocked(key, t, gen)
	t.last, t.hasLast = zero, false
	h.mu.Unlock()

	for _, s := range dropped {
		s.done.Store(true)
	}
}

// advanceLocked moves t to gen and returns the subscribers left behind.
func (h *Hub[T]) advanceLocked(key string, t *topic[T], gen uint64) []*subscription[T] {
	t.closed = false
	if gen == t.gen {
		return nil
	}
	t.gen = gen
	var dropped []*subscription[T]
	for id, s := range t.subs {
		switch {
		case s.gen == 0:
			s.gen = gen
		case s.gen < gen:
			dropped = append(dropped, s)
			delete(t.subs, id)
		}
	}
	if len(dropped) > 0 {
		h.logger.Debug("detached subscribers of an older generation",
			zap.String("key", key),
			zap.Uint64("generation", gen),
			zap.Int("count", len(dropped)))
	}
	return dropped
}

// Subscribe registers fn for key and immediately replays the latest snapshot.
// Once a generation has ended the final snapshot is replayed and fn is not
// registered. The returned func unsubscribes.
func (h *Hub[T]) Subscribe(key string, fn func(T)) func() {
	sub := &subscription[T]{fn: fn}

	h.mu.Lock()
	t := h.topicLocked(key)
	sub.gen = t.gen
	h.nextID++
	id := h.nextID
	if !t.closed {
		t.subs[id] = sub
	}
	seq, last, hasLast := t.seq, t.last, t.hasLast
	h.mu.Unlock()

	if hasLast {
		sub.deliver(seq, last, h.logger)
	}

	return func() {
		sub.done.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		if t, ok := h.topics[key]; ok {
			delete(t.subs, id)
		}
	}
}

// Publish delivers ev to every subscriber of its key. It returns false when
// the event was dropped as stale or as arriving after the generation ended.
func (h *Hub[T]) Publish(ev T) bool {
	h.mu.Lock()
	t := h.topicLocked(ev.Key())
	gen := ev.Generation()
	var dropped []*subscription[T]
	switch {
	case gen < t.gen:
		h.mu.Unlock()
		return false
	case gen > t.gen:
		dropped = h.advanceLocked(ev.Key(), t, gen)
	case t.closed:
		h.mu.Unlock()
		return false
	}

	t.seq++
	seq := t.seq
	t.last, t.hasLast = ev, true
	subs := make([]*subscription[T], 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	if ev.Terminal() {
		t.closed = true
		t.subs = make(map[uint64]*subscription[T])
	}
	h.mu.Unlock()

	for _, s := range dropped {
		s.done.Store(true)
	}
	for _, s := range subs {
		s.deliver(seq, ev, h.logger)
	}
	return true
}

// Last returns the latest snapshot for key.
func (h *Hub[T]) Last(key string) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[key]; ok && t.hasLast {
		return t.last, true
	}
	var zero T
	return zero, false
}

// Subscribers counts the live subscribers of key.
func (h *Hub[T]) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[key]; ok {
		return len(t.subs)
	}
	return 0
}

// Forget drops every trace of key, detaching its subscribers.
func (h *Hub[T]) Forget(key string) {
	h.mu.Lock()
	t, ok := h.topics[key]
	delete(h.topics, key)
	h.mu.Unlock()

	if !ok {
		return
	}
	for _, s := range t.subs {
		s.done.Store(true)
	}
}
