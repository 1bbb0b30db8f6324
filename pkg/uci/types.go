package uci

import "fmt"

// Color is the side to move in a position.
type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "b"
	}
	return "w"
}

// ScoreKind distinguishes material scores from forced mates.
type ScoreKind string

const (
	// ScoreCP is a centipawn score
	ScoreCP ScoreKind = "cp"
	// ScoreMate is a mate-in-N score, negative when the side is being mated
	ScoreMate ScoreKind = "mate"
)

// Score is an engine evaluation. Values reported by the engine are relative to
// the side to move; values stored anywhere else are relative to White.
type Score struct {
	Kind  ScoreKind `json:"kind"`
	Value int       `json:"value"`
}

// CP builds a centipawn score.
func CP(v int) Score { return Score{Kind: ScoreCP, Value: v} }

// Mate builds a mate score.
func Mate(n int) Score { return Score{Kind: ScoreMate, Value: n} }

// Negate mirrors the score to the other side's point of view.
func (s Score) Negate() Score {
	return Score{Kind: s.Kind, Value: -s.Value}
}

func (s Score) String() string {
	if s.Kind == ScoreMate {
		return fmt.Sprintf("#%d", s.Value)
	}
	return fmt.Sprintf("%+.2f", float64(s.Value)/100)
}

// Info is one fully populated analysis line emitted by the engine.
type Info struct {
	Depth      int
	SelDepth   int
	MultiPV    int
	Score      Score
	LowerBound bool
	UpperBound bool
	Nodes      int64
	NPS        int64
	TimeMS     int64
	PV         []string
}

// BestMove is the final move signal that ends a search.
type BestMove struct {
	Move   string
	Ponder string
}

// None reports whether the engine had no legal move to play.
func (b BestMove) None() bool {
	return b.Move == "" || b.Move == NoMove
}

// Line is an analysis line after normalization and display translation.
type Line struct {
	Index int      `json:"index"`
	Depth int      `json:"depth"`
	Eval  Score    `json:"evaluation"`
	PV    []string `json:"pv"`
	SAN   []string `json:"san"`
}

// Clone returns a deep copy of the line.
func (l Line) Clone() Line {
	out := l
	out.PV = append([]string(nil), l.PV...)
	out.SAN = append([]string(nil), l.SAN...)
	return out
}

// CloneLines deep copies a line set.
func CloneLines(lines []Line) []Line {
	if lines == nil {
		return nil
	}
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = l.Clone()
	}
	return out
}

// MaxDepth returns the deepest depth among lines, 0 for an empty set.
func MaxDepth(lines []Line) int {
	max := 0
	for _, l := range lines {
		if l.Depth > max {
			max = l.Depth
		}
	}
	return max
}
