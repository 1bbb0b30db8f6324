// Package enginetest provides in-process engine processes for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/internal/mockengine"
)

// Process runs a mockengine.Engine behind the engine.Process interface.
type Process struct {
	eng    *mockengine.Engine
	silent bool

	lines      chan string
	done       chan struct{}
	doneOnce   sync.Once
	closeOnce  sync.Once
	crashAfter int64
	emitted    atomic.Int64

	mu     sync.Mutex
	closed bool
	sent   []string
}

var _ engine.Process = (*Process)(nil)

// NewProcess creates a fake engine. A silent process swallows every command.
// crashAfter > 0 closes the output after that many emitted lines.
func NewProcess(opts mockengine.Options, silent bool, crashAfter int) *Process {
	p := &Process{
		silent:     silent,
		lines:      make(chan string, 64),
		done:       make(chan struct{}),
		crashAfter: int64(crashAfter),
	}
	p.eng = mockengine.New(opts, p.emit)
	return p
}

func (p *Process) emit(line string) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.lines <- line:
	case <-p.done:
		return
	}
	if p.crashAfter > 0 && p.emitted.Add(1) == p.crashAfter {
		go func() { _ = p.Close() }()
	}
}

// Send implements engine.Process.
func (p *Process) Send(cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("broken pipe")
	}
	p.sent = append(p.sent, cmd)
	if p.silent {
		return nil
	}
	p.eng.Handle(cmd)
	return nil
}

// Lines implements engine.Process.
func (p *Process) Lines() <-chan string { return p.lines }

// Close implements engine.Process.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.doneOnce.Do(func() { close(p.done) })
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.eng.Close()
		close(p.lines)
	})
	return nil
}

// Sent returns every command received so far.
func (p *Process) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Closed reports whether the process was closed or crashed.
func (p *Process) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Launcher starts fake processes and records them.
type Launcher struct {
	Options mockengine.Options
	// SilentFirst makes the first N launches never complete the handshake.
	SilentFirst int
	// ErrorFirst makes the first N launches fail outright.
	ErrorFirst int
	// CrashAfter is passed to every launched process.
	CrashAfter int

	launches atomic.Int64
	mu       sync.Mutex
	procs    []*Process
}

var _ engine.Launcher = (*Launcher)(nil)

// Launch implements engine.Launcher.
func (l *Launcher) Launch(ctx context.Context) (engine.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(l.launches.Add(1))
	if n <= l.ErrorFirst {
		return nil, errors.New("exec: engine binary not found")
	}
	p := NewProcess(l.Options, n <= l.ErrorFirst+l.SilentFirst, l.CrashAfter)

	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	return p, nil
}

// Launched returns how many launches were attempted.
func (l *Launcher) Launched() int { return int(l.launches.Load()) }

// Processes returns every process launched so far.
func (l *Launcher) Processes() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Process(nil), l.procs...)
}

// Live counts processes not yet closed.
func (l *Launcher) Live() int {
	n := 0
	for _, p := range l.Processes() {
		if !p.Closed() {
			n++
		}
	}
	return n
}
