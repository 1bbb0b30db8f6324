// Package rules adapts a chess move generator to the analysis layer: FEN
// validation, move replay and display labels.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/pkg/uci"
	"github.com/notnil/chess"
)

// Chess implements uci.Rules on top of github.com/notnil/chess.
type Chess struct{}

var _ uci.Rules = Chess{}

// New returns the rules collaborator.
func New() Chess { return Chess{} }

// Parse decodes and sanity checks a FEN.
func (Chess) Parse(fen string) (*chess.Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("%w: empty fen", errorx.ErrInvalidPosition)
	}
	pos := &chess.Position{}
	if err := pos.UnmarshalText([]byte(fen)); err != nil {
		return nil, fmt.Errorf("%w: invalid fen %q: %v", errorx.ErrInvalidPosition, fen, err)
	}

	var whiteKings, blackKings int
	for _, p := range pos.Board().SquareMap() {
		if p.Type() != chess.King {
			continue
		}
		if p.Color() == chess.White {
			whiteKings++
		} else {
			blackKings++
		}
	}
	if whiteKings != 1 || blackKings != 1 {
		return nil, fmt.Errorf("%w: invalid fen %q: expected one king per side", errorx.ErrInvalidPosition, fen)
	}
	return pos, nil
}

// Validate reports whether fen describes a usable position.
func (c Chess) Validate(fen string) error {
	_, err := c.Parse(fen)
	return err
}

// SideToMove returns the side to move in fen.
func (c Chess) SideToMove(fen string) (uci.Color, error) {
	pos, err := c.Parse(fen)
	if err != nil {
		return uci.White, err
	}
	return colorOf(pos.Turn()), nil
}

// Play applies a long algebraic move and returns the next FEN and the SAN label.
func (c Chess) Play(fen, move string) (string, string, error) {
	pos, err := c.Parse(fen)
	if err != nil {
		return "", "", err
	}
	next, san, err := play(pos, move)
	if err != nil {
		return "", "", err
	}
	return next.String(), san, nil
}

// Replay applies moves in order and returns the resulting FEN.
func (c Chess) Replay(fen string, moves []string) (string, error) {
	pos, err := c.Parse(fen)
	if err != nil {
		return "", err
	}
	for i, mv := range moves {
		pos, _, err = play(pos, mv)
		if err != nil {
			return "", fmt.Errorf("move %d: %w", i+1, err)
		}
	}
	return pos.String(), nil
}

// LegalMoves lists the legal moves of fen in long algebraic notation, sorted.
func (c Chess) LegalMoves(fen string) ([]string, error) {
	pos, err := c.Parse(fen)
	if err != nil {
		return nil, err
	}
	valid := pos.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, m := range valid {
		out = append(out, m.String())
	}
	sort.Strings(out)
	return out, nil
}

var pieceValues = map[chess.PieceType]int{
	chess.Pawn:   100,
	chess.Knight: 300,
	chess.Bishop: 300,
	chess.Rook:   500,
	chess.Queen:  900,
}

// Material returns White's material balance in centipawns.
func (c Chess) Material(fen string) (int, error) {
	pos, err := c.Parse(fen)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range pos.Board().SquareMap() {
		v := pieceValues[p.Type()]
		if p.Color() == chess.Black {
			v = -v
		}
		total += v
	}
	return total, nil
}

func play(pos *chess.Position, move string) (*chess.Position, string, error) {
	if !uci.IsMove(move) {
		return nil, "", fmt.Errorf("%w: malformed move %q", errorx.ErrInvalidPosition, move)
	}
	for _, m := range pos.ValidMoves() {
		if m.String() != move {
			continue
		}
		san := chess.AlgebraicNotation{}.Encode(pos, m)
		return pos.Update(m), san, nil
	}
	return nil, "", fmt.Errorf("%w: illegal move %q", errorx.ErrInvalidPosition, move)
}

func colorOf(c chess.Color) uci.Color {
	if c == chess.Black {
		return uci.Black
	}
	return uci.White
}

// Canonical reduces a FEN to the fields that identify a position for caching:
// placement, side to move, castling rights and en passant square.
func Canonical(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
