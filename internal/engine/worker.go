package engine

import (
	"time"
)

// Worker is one pooled engine process. Binding fields are guarded by the pool.
type Worker struct {
	id        string
	proc      Process
	createdAt time.Time

	busy      bool
	sessionID string
	lastUsed  time.Time
}

func newWorker(id string, proc Process, now time.Time) *Worker {
	return &Worker{
		id:        id,
		proc:      proc,
		createdAt: now,
		lastUsed:  now,
	}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Send writes a command to the engine.
func (w *Worker) Send(cmd string) error { return w.proc.Send(cmd) }

// Lines returns the engine output channel.
func (w *Worker) Lines() <-chan string { return w.proc.Lines() }

// WorkerInfo is a point-in-time view of a worker.
type WorkerInfo struct {
	ID        string    `json:"id"`
	Busy      bool      `json:"busy"`
	SessionID string    `json:"sessionId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

func (w *Worker) info() WorkerInfo {
	return WorkerInfo{
		ID:        w.id,
		Busy:      w.busy,
		SessionID: w.sessionID,
		CreatedAt: w.createdAt,
		LastUsed:  w.lastUsed,
	}
}
