package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/amoylab/evalcoach/pkg/uci"
	"go.uber.org/zap"
)

// MemoryStore keeps entries in process. With maxEntries > 0 the oldest
// written entry is evicted first.
type MemoryStore struct {
	logger     *zap.Logger
	maxEntries int

	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List
}

type memoryItem struct {
	key   string
	entry Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(logger *zap.Logger, maxEntries int) *MemoryStore {
	return &MemoryStore{
		logger:     logger.Named("cache.store.memory"),
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := el.Value.(*memoryItem).entry
	e.Lines = uci.CloneLines(e.Lines)
	return &e, nil
}

// Set implements Store.Set
func (s *MemoryStore) Set(_ context.Context, key string, e *Entry) error {
	item := &memoryItem{key: key, entry: *e}
	item.entry.Lines = uci.CloneLines(e.Lines)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(item)
	return nil
}

// Upgrade implements Store.Upgrade
func (s *MemoryStore) Upgrade(_ context.Context, key string, e *Entry) (bool, error) {
	item := &memoryItem{key: key, entry: *e}
	item.entry.Lines = uci.CloneLines(e.Lines)

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[item.key]; ok && el.Value.(*memoryItem).entry.Depth > e.Depth {
		return false, nil
	}
	s.setLocked(item)
	return true, nil
}

func (s *MemoryStore) setLocked(item *memoryItem) {
	if el, ok := s.entries[item.key]; ok {
		s.order.Remove(el)
	}
	s.entries[item.key] = s.order.PushBack(item)

	for s.maxEntries > 0 && s.order.Len() > s.maxEntries {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*memoryItem).key)
	}
}

// Clear implements Store.Clear
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store.Close
func (s *MemoryStore) Close() error { return nil }
