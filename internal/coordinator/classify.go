package coordinator

import (
	"errors"
	"regexp"

	"github.com/amoylab/evalcoach/internal/common/errorx"
)

// FailureKind groups analysis failures for display.
type FailureKind string

const (
	FailureCommunication   FailureKind = "communication"
	FailureTimeout         FailureKind = "timeout"
	FailureDestroyed       FailureKind = "destroyed"
	FailureInvalidPosition FailureKind = "invalid_position"
	FailureUnknown         FailureKind = "unknown"
)

// Failure is a classified, displayable analysis failure.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	// Detail is the raw error text, only filled in development mode.
	Detail string `json:"detail,omitempty"`
}

// MessageID is the translation key of the kind's user message.
func (k FailureKind) MessageID() string {
	return "analysis.failure." + string(k)
}

var sentinelKinds = []struct {
	err  error
	kind FailureKind
}{
	{errorx.ErrInvalidPosition, FailureInvalidPosition},
	{errorx.ErrDestroyed, FailureDestroyed},
	{errorx.ErrTimeout, FailureTimeout},
	{errorx.ErrCapacity, FailureTimeout},
	{errorx.ErrCommunication, FailureCommunication},
	{errorx.ErrInitialization, FailureCommunication},
}

// patterns are checked in order; the first match wins.
var patterns = []struct {
	re   *regexp.Regexp
	kind FailureKind
}{
	{regexp.MustCompile(`(?i)invalid (position|fen)|illegal move|malformed move`), FailureInvalidPosition},
	{regexp.MustCompile(`(?i)destroyed|shut(ting)? down`), FailureDestroyed},
	{regexp.MustCompile(`(?i)time(d)? ?out|deadline exceeded`), FailureTimeout},
	{regexp.MustCompile(`(?i)communication|broken pipe|output closed|exited|connection`), FailureCommunication},
}

// KindOf classifies err, first by identity and then by its text.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindOfText(err.Error())
}

// KindOfText classifies a raw failure description.
func KindOfText(text string) FailureKind {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.kind
		}
	}
	return FailureUnknown
}
