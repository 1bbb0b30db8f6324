package utils

import (
	"sort"
	"strings"
)

// MergeEnv returns base with overrides applied. Keys present in overrides
// replace their entries in base; new keys are appended in sorted order.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[key]; ok {
			if !seen[key] {
				out = append(out, key+"="+v)
				seen[key] = true
			}
			continue
		}
		out = append(out, kv)
	}

	rest := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
