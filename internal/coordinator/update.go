package coordinator

import (
	"errors"

	"github.com/amoylab/evalcoach/internal/session"
	"github.com/amoylab/evalcoach/pkg/uci"
)

// UpdateStatus is the client-facing session state.
type UpdateStatus string

const (
	UpdateAnalyzing UpdateStatus = "analyzing"
	UpdateCompleted UpdateStatus = "completed"
	UpdateStopped   UpdateStatus = "stopped"
	UpdateError     UpdateStatus = "error"
)

// LineUpdate is one analysis line as shown to clients.
type LineUpdate struct {
	Moves      []string  `json:"moves"`
	UCI        []string  `json:"uci"`
	Evaluation uci.Score `json:"evaluation"`
	Depth      int       `json:"depth"`
}

// Update is pushed to stream watchers.
type Update struct {
	SessionID  string       `json:"sessionId"`
	RequestID  uint64       `json:"requestId"`
	Status     UpdateStatus `json:"status"`
	Depth      int          `json:"depth"`
	Evaluation *uci.Score   `json:"evaluation,omitempty"`
	Lines      []LineUpdate `json:"lines"`
	BestMove   string       `json:"bestMove,omitempty"`
	Cached     bool         `json:"cached,omitempty"`
	Error      *Failure     `json:"error,omitempty"`
}

// Terminal reports whether no further updates follow for the request.
func (u Update) Terminal() bool {
	return u.Status != UpdateAnalyzing
}

// StatusOf maps a session status to its client-facing form.
func StatusOf(s session.Status) UpdateStatus {
	switch s {
	case session.StatusCompleted:
		return UpdateCompleted
	case session.StatusStopped:
		return UpdateStopped
	case session.StatusError:
		return UpdateError
	default:
		return UpdateAnalyzing
	}
}

// FromSnapshot converts a snapshot without failure classification.
func FromSnapshot(s session.Snapshot) Update {
	u := Update{
		SessionID:  s.ID,
		Status:     StatusOf(s.Status),
		Depth:      s.Depth,
		Evaluation: s.Best,
		Lines:      make([]LineUpdate, 0, len(s.Lines)),
		BestMove:   s.BestMove,
		Cached:     s.Cached,
	}
	for _, l := range s.Lines {
		u.Lines = append(u.Lines, LineUpdate{
			Moves:      l.SAN,
			UCI:        l.PV,
			Evaluation: l.Eval,
			Depth:      l.Depth,
		})
	}
	return u
}

func (c *Coordinator) toUpdate(s session.Snapshot, id uint64, lang string) Update {
	u := FromSnapshot(s)
	u.RequestID = id
	if s.Status == session.StatusError {
		err := s.Err
		if err == nil {
			err = errors.New(s.Error)
		}
		u.Error = c.failure(err, lang)
	}
	return u
}

// Render converts a snapshot that was not requested through a stream.
func (c *Coordinator) Render(s session.Snapshot, lang string) Update {
	return c.toUpdate(s, 0, lang)
}
