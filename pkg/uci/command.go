package uci

import (
	"fmt"
	"strings"
)

// Commands sent to the engine process.
const (
	CmdUCI     = "uci"
	CmdIsReady = "isready"
	CmdNewGame = "ucinewgame"
	CmdStop    = "stop"
	CmdQuit    = "quit"
)

// Engine acknowledgements.
const (
	RespUCIOK   = "uciok"
	RespReadyOK = "readyok"
	NoMove      = "(none)"
)

// BestMoveNone is reported when the side to move has no legal move.
const BestMoveNone = "bestmove " + NoMove

// OptionMultiPV is the engine option controlling the number of reported lines.
const OptionMultiPV = "MultiPV"

// SetOption builds a setoption command.
func SetOption(name, value string) string {
	return fmt.Sprintf("setoption name %s value %s", name, value)
}

// Position builds a position command for a FEN with optional trailing moves.
func Position(fen string, moves []string) string {
	var sb strings.Builder
	sb.WriteString("position fen ")
	sb.WriteString(strings.TrimSpace(fen))
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}

// GoDepth builds a depth-limited search command.
func GoDepth(depth int) string {
	return fmt.Sprintf("go depth %d", depth)
}

// IsUCIOK reports whether line acknowledges the uci handshake.
func IsUCIOK(line string) bool {
	return strings.TrimSpace(line) == RespUCIOK
}

// IsReadyOK reports whether line acknowledges isready.
func IsReadyOK(line string) bool {
	return strings.TrimSpace(line) == RespReadyOK
}
