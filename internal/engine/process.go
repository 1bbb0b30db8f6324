package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/pkg/uci"
	"github.com/amoylab/evalcoach/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Process is a running engine speaking the UCI protocol.
type Process interface {
	// Send writes one command line to the engine.
	Send(cmd string) error
	// Lines delivers the engine's output, one line at a time. It is closed
	// when the output ends, which callers treat as a broken channel.
	Lines() <-chan string
	// Close asks the engine to quit and kills it if it does not exit in time.
	Close() error
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Process, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context) (Process, error) { return f(ctx) }

const lineBuffer = 256

// ExecLauncher starts engines as child processes.
type ExecLauncher struct {
	cfg    config.EngineConfig
	logger *zap.Logger
}

var _ Launcher = (*ExecLauncher)(nil)

// NewExecLauncher creates a launcher for the configured engine binary.
func NewExecLauncher(cfg config.EngineConfig, logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{cfg: cfg, logger: logger.Named("engine.exec")}
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the process outlives the request that spawned it, so ctx is not bound to it
	cmd := exec.Command(l.cfg.Path, l.cfg.Args...)
	cmd.Env = utils.MergeEnv(os.Environ(), l.cfg.Env)
	cmd.Stderr = &zapio.Writer{Log: l.logger, Level: zap.DebugLevel}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine %s: %w", l.cfg.Path, err)
	}

	p := &execProcess{
		cmd:         cmd,
		stdin:       stdin,
		lines:       make(chan string, lineBuffer),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		quitTimeout: l.cfg.QuitTimeout,
	}
	go p.read(stdout)

	l.logger.Debug("engine process started",
		zap.String("path", l.cfg.Path),
		zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	lines   chan string
	done    chan struct{}
	exited  chan struct{}

	closeOnce   sync.Once
	quitTimeout time.Duration
}

func (p *execProcess) read(stdout io.Reader) {
	defer func() {
		close(p.lines)
		_ = p.cmd.Wait()
		close(p.exited)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.done:
			return
		}
	}
}

func (p *execProcess) Send(cmd string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(p.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("%w: write %q: %v", errorx.ErrCommunication, cmd, err)
	}
	return nil
}

func (p *execProcess) Lines() <-chan string { return p.lines }

func (p *execProcess) Close() error {
	p.closeOnce.Do(func() {
		_ = p.Send(uci.CmdQuit)
		_ = p.stdin.Close()
		close(p.done)

		timer := time.NewTimer(p.quitTimeout)
		defer timer.Stop()
		select {
		case <-p.exited:
		case <-timer.C:
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
	})
	return nil
}
