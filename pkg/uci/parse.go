package uci

import (
	"strconv"
	"strings"
)

// tokens is a cursor over the whitespace separated fields of an engine line.
type tokens struct {
	fields []string
	pos    int
}

func tokenize(line string) *tokens {
	return &tokens{fields: strings.Fields(line)}
}

func (t *tokens) done() bool { return t.pos >= len(t.fields) }

func (t *tokens) peek() string {
	if t.done() {
		return ""
	}
	return t.fields[t.pos]
}

func (t *tokens) next() (string, bool) {
	if t.done() {
		return "", false
	}
	tok := t.fields[t.pos]
	t.pos++
	return tok, true
}

func (t *tokens) int() (int, bool) {
	tok, ok := t.next()
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (t *tokens) int64() (int64, bool) {
	tok, ok := t.next()
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// infoKeywords terminate a pv or a free-form field.
var infoKeywords = map[string]bool{
	"depth": true, "seldepth": true, "time": true, "nodes": true, "pv": true,
	"multipv": true, "score": true, "currmove": true, "currmovenumber": true,
	"hashfull": true, "nps": true, "tbhits": true, "sbhits": true, "cpuload": true,
	"string": true, "refutation": true, "currline": true, "wdl": true,
}

// ParseInfo parses an "info" line carrying a scored principal variation.
// It returns false unless depth, score and a non-empty pv are present and
// well formed; a partial Info is never returned.
func ParseInfo(line string) (Info, bool) {
	t := tokenize(line)
	if tok, ok := t.next(); !ok || tok != "info" {
		return Info{}, false
	}

	info := Info{MultiPV: 1}
	var hasDepth, hasScore bool

	for !t.done() {
		key, _ := t.next()
		switch key {
		case "depth":
			v, ok := t.int()
			if !ok || v < 0 {
				return Info{}, false
			}
			info.Depth, hasDepth = v, true
		case "seldepth":
			v, ok := t.int()
			if !ok {
				return Info{}, false
			}
			info.SelDepth = v
		case "multipv":
			v, ok := t.int()
			if !ok || v < 1 {
				return Info{}, false
			}
			info.MultiPV = v
		case "nodes":
			v, ok := t.int64()
			if !ok {
				return Info{}, false
			}
			info.Nodes = v
		case "nps":
			v, ok := t.int64()
			if !ok {
				return Info{}, false
			}
			info.NPS = v
		case "time":
			v, ok := t.int64()
			if !ok {
				return Info{}, false
			}
			info.TimeMS = v
		case "score":
			s, ok := parseScore(t, &info)
			if !ok {
				return Info{}, false
			}
			info.Score, hasScore = s, true
		case "pv":
			for !t.done() && !infoKeywords[t.peek()] {
				mv, _ := t.next()
				if !IsMove(mv) {
					return Info{}, false
				}
				info.PV = append(info.PV, mv)
			}
		case "string":
			// free text runs to end of line
			t.pos = len(t.fields)
		case "wdl":
			for i := 0; i < 3; i++ {
				if _, ok := t.int(); !ok {
					return Info{}, false
				}
			}
		default:
			// unknown keyword with a single argument, e.g. hashfull 12
			if !t.done() && !infoKeywords[t.peek()] {
				t.next()
			}
		}
	}

	if !hasDepth || !hasScore || len(info.PV) == 0 {
		return Info{}, false
	}
	return info, true
}

func parseScore(t *tokens, info *Info) (Score, bool) {
	kind, ok := t.next()
	if !ok {
		return Score{}, false
	}
	var s Score
	switch kind {
	case "cp":
		s.Kind = ScoreCP
	case "mate":
		s.Kind = ScoreMate
	default:
		return Score{}, false
	}
	v, ok := t.int()
	if !ok {
		return Score{}, false
	}
	s.Value = v
	switch t.peek() {
	case "lowerbound":
		t.next()
		info.LowerBound = true
	case "upperbound":
		t.next()
		info.UpperBound = true
	}
	return s, true
}

// ParseBestMove parses the "bestmove <move> [ponder <move>]" completion line.
func ParseBestMove(line string) (BestMove, bool) {
	t := tokenize(line)
	if tok, ok := t.next(); !ok || tok != "bestmove" {
		return BestMove{}, false
	}
	mv, ok := t.next()
	if !ok || (mv != NoMove && !IsMove(mv)) {
		return BestMove{}, false
	}
	bm := BestMove{Move: mv}
	if t.peek() == "ponder" {
		t.next()
		p, ok := t.next()
		if !ok || !IsMove(p) {
			return BestMove{}, false
		}
		bm.Ponder = p
	}
	if !t.done() {
		return BestMove{}, false
	}
	return bm, true
}

// IsMove reports whether s is a move in long algebraic notation, e.g. e2e4 or e7e8q.
func IsMove(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	if !isFile(s[0]) || !isRank(s[1]) || !isFile(s[2]) || !isRank(s[3]) {
		return false
	}
	if len(s) == 5 {
		switch s[4] {
		case 'q', 'r', 'b', 'n':
		default:
			return false
		}
	}
	return true
}

func isFile(b byte) bool { return b >= 'a' && b <= 'h' }
func isRank(b byte) bool { return b >= '1' && b <= '8' }
