package session

import (
	"sort"
	"strings"
)

// BuildEnvironment returns base with the terminal, locale and status file
// variables set. Existing keys are replaced in place; new keys are appended
// in sorted order.
func BuildEnvironment(base []string, cfg Config, statusPath string) []string {
	cfg = cfg.withDefaults()
	overrides := map[string]string{
		cfg.StatusEnvVar: statusPath,
	}
	set := func(key, value string) {
		if value != "" {
			overrides[key] = value
		}
	}
	set("TERM", cfg.Term)
	set("COLORTERM", cfg.ColorTerm)
	set("LANG", cfg.Lang)
	set("LC_ALL", cfg.Lang)
	set("LC_CTYPE", cfg.Lang)

	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if v, override := overrides[key]; override {
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key+"="+v)
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
