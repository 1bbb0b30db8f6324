// Package session runs analysis sessions on pooled engine workers.
package session

import (
	"sort"
	"time"

	"github.com/amoylab/evalcoach/pkg/uci"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Terminal reports whether no further updates follow this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// Spec is a validated analysis request.
type Spec struct {
	ID string
	// Root is the FEN the engine is given; Moves are played from it.
	Root  string
	Moves []string
	// Position is the FEN after Moves and SideToMove its side to move.
	Position   string
	SideToMove uci.Color
	Depth      int
	Lines      int
}

// Snapshot is an immutable view of a session at one point in time.
type Snapshot struct {
	ID          string     `json:"sessionId"`
	Gen         uint64     `json:"generation"`
	Status      Status     `json:"status"`
	Position    string     `json:"position"`
	Root        string     `json:"root"`
	Moves       []string   `json:"moves,omitempty"`
	TargetDepth int        `json:"targetDepth"`
	Depth       int        `json:"depth"`
	LineCount   int        `json:"lineCount"`
	Lines       []uci.Line `json:"lines"`
	Best        *uci.Score `json:"bestEvaluation,omitempty"`
	BestMove    string     `json:"bestMove,omitempty"`
	Ponder      string     `json:"ponderMove,omitempty"`
	Cached      bool       `json:"cached,omitempty"`
	Err         error      `json:"-"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Key implements hub.Event.
func (s Snapshot) Key() string { return s.ID }

// Generation implements hub.Event.
func (s Snapshot) Generation() uint64 { return s.Gen }

// Terminal implements hub.Event.
func (s Snapshot) Terminal() bool { return s.Status.Terminal() }

// contiguous returns lines 1..k where k+1 is the first missing index.
func contiguous(lines map[int]uci.Line, limit int) []uci.Line {
	out := make([]uci.Line, 0, len(lines))
	for i := 1; i <= limit; i++ {
		l, ok := lines[i]
		if !ok {
			break
		}
		out = append(out, l.Clone())
	}
	return out
}

func linesByIndex(lines []uci.Line) map[int]uci.Line {
	m := make(map[int]uci.Line, len(lines))
	sorted := uci.CloneLines(lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for _, l := range sorted {
		m[l.Index] = l
	}
	return m
}
