package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var raw string

// Version is the release number embedded at build time.
var Version = strings.TrimSpace(raw)

// Get returns the release number.
func Get() string {
	return Version
}

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

// Info collects the release number and whatever VCS stamp the toolchain
// recorded.
func Info() Build {
	b := Build{Version: Version, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

func (b Build) String() string {
	s := fmt.Sprintf("%s (%s", b.Version, b.GoVersion)
	if b.Revision != "" {
		rev := b.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		s += ", " + rev
		if b.Modified {
			s += "-dirty"
		}
	}
	return s + ")"
}
