package rules

import (
	"strings"
	"unicode"
)

// Mirror returns the color-reversed position: ranks flipped, piece colors
// swapped and the other side to move. The evaluation of the mirror is the
// negation of the original's.
func Mirror(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fen
	}

	ranks := strings.Split(fields[0], "/")
	for i, j := 0, len(ranks)-1; i < j; i, j = i+1, j-1 {
		ranks[i], ranks[j] = ranks[j], ranks[i]
	}
	fields[0] = swapCase(strings.Join(ranks, "/"))

	if fields[1] == "w" {
		fields[1] = "b"
	} else {
		fields[1] = "w"
	}

	if fields[2] != "-" {
		castle := swapCase(fields[2])
		var upper, lower []rune
		for _, r := range castle {
			if unicode.IsUpper(r) {
				upper = append(upper, r)
			} else {
				lower = append(lower, r)
			}
		}
		fields[2] = string(upper) + string(lower)
	}

	if ep := fields[3]; len(ep) == 2 {
		fields[3] = string(ep[0]) + string('1'+('8'-ep[1]))
	}
	return strings.Join(fields, " ")
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsUpper(r) {
			return unicode.ToLower(r)
		}
		return unicode.ToUpper(r)
	}, s)
}
