package uci

// Normalize converts a score reported relative to the side to move into
// White's frame of reference.
func Normalize(s Score, sideToMove Color) Score {
	if sideToMove == Black {
		return s.Negate()
	}
	return s
}

// Rules plays a single move on a position.
type Rules interface {
	// Play applies move (long algebraic) to fen and returns the resulting FEN
	// and the move's display label.
	Play(fen, move string) (next string, label string, err error)
}

// TranslateToDisplay replays moves on fen and returns one display label per
// move. Translation stops at the first move the rules reject and the labels
// translated so far are returned.
func TranslateToDisplay(r Rules, fen string, moves []string) []string {
	out := make([]string, 0, len(moves))
	cur := fen
	for _, mv := range moves {
		next, label, err := r.Play(cur, mv)
		if err != nil {
			break
		}
		out = append(out, label)
		cur = next
	}
	return out
}
