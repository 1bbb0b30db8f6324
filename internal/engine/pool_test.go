package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/internal/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPoolConfig(max int) config.PoolConfig {
	return config.PoolConfig{
		MaxWorkers:           max,
		HandshakeTimeout:     200 * time.Millisecond,
		HandshakeRetries:     3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		IdleTimeout:          time.Minute,
	}
}

func newPool(t *testing.T, cfg config.PoolConfig, l *enginetest.Launcher) *engine.Pool {
	t.Helper()
	p := engine.NewPool(cfg, map[string]string{"Threads": "1", "Hash": "16"}, l, zap.NewNop(), nil)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestAcquireSpawnsAndHandshakes(t *testing.T) {
	l := &enginetest.Launcher{}
	p := newPool(t, testPoolConfig(2), l)

	w, err := p.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, w)

	procs := l.Processes()
	require.Len(t, procs, 1)
	assert.Equal(t, []string{"uci", "setoption name Hash value 16", "setoption name Threads value 1", "isready"}, procs[0].Sent())

	stats := p.Stats()
	assert.Equal(t, engine.Stats{Max: 2, Size: 1, Busy: 1}, stats)

	infos := p.Workers()
	require.Len(t, infos, 1)
	assert.Equal(t, "s1", infos[0].SessionID)
	assert.True(t, infos[0].Busy)
}

func TestReleaseReusesIdleWorker(t *testing.T) {
	l := &enginetest.Launcher{}
	p := newPool(t, testPoolConfig(2), l)

	w1, err := p.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	p.Release(w1)
	assert.Equal(t, 1, p.Stats().Idle)

	w2, err := p.Acquire(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, w1.ID(), w2.ID())
	assert.Equal(t, 1, l.Launched())
	assert.Equal(t, "s2", p.Workers()[0].SessionID)
}

func TestWaitersAreServedFIFO(t *testing.T) {
	l := &enginetest.Launcher{}
	p := newPool(t, testPoolConfig(2), l)
	ctx := context.Background()

	w1, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	w2, err := p.Acquire(ctx, "b")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	got := make(map[string]*engine.Worker)
	for i, id := range []string{"c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			w, err := p.Acquire(ctx, id)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, id)
			got[id] = w
			mu.Unlock()
		}(id)
		// queue c strictly before d
		want := i + 1
		require.Eventually(t, func() bool { return p.Stats().Waiting == want }, time.Second, time.Millisecond)
	}

	assert.Equal(t, 2, p.Stats().Waiting)
	assert.Equal(t, 2, p.Stats().Busy)

	p.Release(w1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"c"}, order)
	assert.Equal(t, w1.ID(), got["c"].ID())
	mu.Unlock()

	p.Release(w2)
	wg.Wait()
	assert.Equal(t, []string{"c", "d"}, order)
	assert.Equal(t, 2, l.Launched())
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestAcquireTimeoutReturnsCapacityError(t *testing.T) {
	cfg := testPoolConfig(1)
	cfg.AcquireTimeout = 20 * time.Millisecond
	p := newPool(t, cfg, &enginetest.Launcher{})

	_, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "b")
	assert.ErrorIs(t, err, errorx.ErrCapacity)
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestAcquireHonoursContext(t *testing.T) {
	p := newPool(t, testPoolConfig(1), &enginetest.Launcher{})
	_, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestHandshakeRetriesThenSucceeds(t *testing.T) {
	l := &enginetest.Launcher{SilentFirst: 1, ErrorFirst: 1}
	p := newPool(t, testPoolConfig(1), l)

	w, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 3, l.Launched())
	// the silent process was killed, the good one is live
	assert.Equal(t, 1, l.Live())
}

func TestHandshakeFailureDiscardsWorker(t *testing.T) {
	l := &enginetest.Launcher{SilentFirst: 10}
	p := newPool(t, testPoolConfig(1), l)

	_, err := p.Acquire(context.Background(), "a")
	assert.ErrorIs(t, err, errorx.ErrInitialization)
	assert.Equal(t, 3, l.Launched())
	assert.Equal(t, 0, l.Live())
	assert.Equal(t, engine.Stats{Max: 1}, p.Stats())
}

func TestDiscardFreesSlotForWaiter(t *testing.T) {
	l := &enginetest.Launcher{}
	p := newPool(t, testPoolConfig(1), l)

	w, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	done := make(chan *engine.Worker)
	go func() {
		w2, err := p.Acquire(context.Background(), "b")
		assert.NoError(t, err)
		done <- w2
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	p.Discard(w)
	select {
	case w2 := <-done:
		assert.NotEqual(t, w.ID(), w2.ID())
	case <-time.After(time.Second):
		t.Fatal("waiter was not granted the freed slot")
	}
	assert.Equal(t, 2, l.Launched())
	assert.True(t, l.Processes()[0].Closed())

	// releasing a discarded worker is a no-op
	p.Release(w)
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestSweepReapsIdleWorkers(t *testing.T) {
	l := &enginetest.Launcher{}
	p := newPool(t, testPoolConfig(2), l)

	w1, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	w2, err := p.Acquire(context.Background(), "b")
	require.NoError(t, err)
	p.Release(w1)

	assert.Equal(t, 0, p.Sweep(time.Now()))
	assert.Equal(t, 1, p.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, engine.Stats{Max: 2, Size: 1, Busy: 1}, p.Stats())
	assert.Equal(t, 1, l.Live())

	// busy workers are never reaped
	assert.Equal(t, 0, p.Sweep(time.Now().Add(time.Hour)))
	p.Release(w2)
}

func TestShutdownFailsWaitersAndKillsWorkers(t *testing.T) {
	l := &enginetest.Launcher{}
	p := engine.NewPool(testPoolConfig(1), nil, l, zap.NewNop(), nil)

	_, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)

	errCh := make(chan error)
	go func() {
		_, err := p.Acquire(context.Background(), "b")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, <-errCh, errorx.ErrDestroyed)
	assert.Equal(t, 0, l.Live())

	_, err = p.Acquire(context.Background(), "c")
	assert.ErrorIs(t, err, errorx.ErrDestroyed)
	require.NoError(t, p.Shutdown(context.Background()))
}
