package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type snap struct {
	key      string
	gen      uint64
	depth    int
	terminal bool
}

func (s snap) Key() string        { return s.key }
func (s snap) Generation() uint64 { return s.gen }
func (s snap) Terminal() bool     { return s.terminal }

type collector struct {
	mu  sync.Mutex
	got []snap
}

func (c *collector) add(s snap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, s)
}

func (c *collector) depths() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.got))
	for _, s := range c.got {
		out = append(out, s.depth)
	}
	return out
}

func TestSubscribeReplaysLastSnapshot(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	h.Publish(snap{key: "s", gen: 1, depth: 1})
	h.Publish(snap{key: "s", gen: 1, depth: 2})

	c := &collector{}
	unsubscribe := h.Subscribe("s", c.add)
	defer unsubscribe()
	assert.Equal(t, []int{2}, c.depths())

	h.Publish(snap{key: "s", gen: 1, depth: 3})
	assert.Equal(t, []int{2, 3}, c.depths())
}

func TestSubscribeBeforeAnySnapshot(t *testing.T) {
	h := New[snap](zap.NewNop())
	c := &collector{}
	h.Subscribe("s", c.add)
	assert.Empty(t, c.depths())

	h.Open("s", 1)
	h.Publish(snap{key: "s", gen: 1, depth: 1})
	assert.Equal(t, []int{1}, c.depths())
}

func TestTerminalClearsSubscribers(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	c := &collector{}
	h.Subscribe("s", c.add)

	assert.True(t, h.Publish(snap{key: "s", gen: 1, depth: 5, terminal: true}))
	assert.Equal(t, 0, h.Subscribers("s"))
	assert.False(t, h.Publish(snap{key: "s", gen: 1, depth: 6}))
	assert.Equal(t, []int{5}, c.depths())

	// late subscriber sees only the final snapshot and is not registered
	late := &collector{}
	h.Subscribe("s", late.add)
	assert.Equal(t, []int{5}, late.depths())
	assert.Equal(t, 0, h.Subscribers("s"))
}

func TestStaleGenerationDropped(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	c := &collector{}
	h.Subscribe("s", c.add)
	h.Publish(snap{key: "s", gen: 1, depth: 1, terminal: true})

	h.Open("s", 2)
	c2 := &collector{}
	h.Subscribe("s", c2.add)
	assert.False(t, h.Publish(snap{key: "s", gen: 1, depth: 9}))
	assert.True(t, h.Publish(snap{key: "s", gen: 2, depth: 1}))

	assert.Equal(t, []int{1}, c.depths())
	assert.Equal(t, []int{1}, c2.depths())

	// opening an older generation is ignored
	h.Open("s", 1)
	last, ok := h.Last("s")
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.gen)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	h.Subscribe("s", func(snap) { panic("boom") })
	c := &collector{}
	h.Subscribe("s", c.add)

	assert.NotPanics(t, func() {
		h.Publish(snap{key: "s", gen: 1, depth: 1})
	})
	assert.Equal(t, []int{1}, c.depths())
}

func TestUnsubscribe(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	c := &collector{}
	unsubscribe := h.Subscribe("s", c.add)
	assert.Equal(t, 1, h.Subscribers("s"))

	unsubscribe()
	unsubscribe()
	h.Publish(snap{key: "s", gen: 1, depth: 1})
	assert.Empty(t, c.depths())
	assert.Equal(t, 0, h.Subscribers("s"))
}

func TestUnsubscribeFromCallback(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	var unsubscribe func()
	calls := 0
	unsubscribe = h.Subscribe("s", func(snap) {
		calls++
		unsubscribe()
	})
	h.Publish(snap{key: "s", gen: 1, depth: 1})
	h.Publish(snap{key: "s", gen: 1, depth: 2})
	assert.Equal(t, 1, calls)
}

func TestForget(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	c := &collector{}
	h.Subscribe("s", c.add)
	h.Forget("s")

	_, ok := h.Last("s")
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("s"))
	h.Publish(snap{key: "s", gen: 1, depth: 1})
	assert.Empty(t, c.depths())
}

func TestConcurrentPublishKeepsPerSubscriberOrder(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)

	var mu sync.Mutex
	last := 0
	violations := 0
	h.Subscribe("s", func(s snap) {
		mu.Lock()
		defer mu.Unlock()
		if s.depth < last {
			violations++
		}
		last = s.depth
	})

	// publishers are serialized per key by callers; the hub must not reorder
	for d := 1; d <= 200; d++ {
		h.Publish(snap{key: "s", gen: 1, depth: d})
	}
	assert.Equal(t, 0, violations)
	assert.Equal(t, 200, last)
}

func TestOpenDetachesOlderSubscribers(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	c := &collector{}
	h.Subscribe("s", c.add)
	h.Publish(snap{key: "s", gen: 1, depth: 1})

	// generation 1 never published its terminal snapshot
	h.Open("s", 2)
	assert.Equal(t, 0, h.Subscribers("s"))
	assert.True(t, h.Publish(snap{key: "s", gen: 2, depth: 7}))
	assert.Equal(t, []int{1}, c.depths())

	c2 := &collector{}
	h.Subscribe("s", c2.add)
	assert.Equal(t, 1, h.Subscribers("s"))
	assert.Equal(t, []int{7}, c2.depths())
}

func TestNewerGenerationPublishDetachesOlderSubscribers(t *testing.T) {
	h := New[snap](zap.NewNop())
	h.Open("s", 1)
	c := &collector{}
	h.Subscribe("s", c.add)

	assert.True(t, h.Publish(snap{key: "s", gen: 3, depth: 2}))
	assert.Empty(t, c.depths())
	assert.Equal(t, 0, h.Subscribers("s"))
}
