package terminal

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ChromePatterns describes how the assistant's terminal output is classified.
// Entries prefixed with "re:" are compiled as regular expressions; everything
// else is a literal prefix (or substring for the *Contains fields).
type ChromePatterns struct {
	// QuestionPrefixes start an interactive prompt line.
	QuestionPrefixes []string `toml:"question_prefixes"`
	// QuestionMinLength is the grapheme count a "?"-terminated line must exceed.
	QuestionMinLength int `toml:"question_min_length"`
	// MenuPrefixes identify the option line shown under a question.
	MenuPrefixes []string `toml:"menu_prefixes"`
	// BulletGlyphs open an assistant response block.
	BulletGlyphs []string `toml:"bullet_glyphs"`
	// ShellPrompts are leading glyphs of shell prompt lines.
	ShellPrompts []string `toml:"shell_prompts"`
	// ToolNames combined with FlagMarker identify the tool's own command line.
	ToolNames  []string `toml:"tool_names"`
	FlagMarker string   `toml:"flag_marker"`
	// ChromePrefixes and ChromeContains mark status/hint lines.
	ChromePrefixes []string `toml:"chrome_prefixes"`
	ChromeContains []string `toml:"chrome_contains"`
	// ChromeContainsAll lists groups whose members must all be present.
	ChromeContainsAll [][]string `toml:"chrome_contains_all"`
	// MinContentRatio is the minimum share of alphanumeric or CJK characters.
	MinContentRatio float64 `toml:"min_content_ratio"`
}

// DefaultChromePatterns returns the patterns tuned against Claude Code's
// terminal chrome. toolName replaces "claude" in the command-line check.
func DefaultChromePatterns(toolName string) *ChromePatterns {
	tool := strings.ToLower(strings.TrimSpace(toolName))
	if tool == "" {
		tool = "claude"
	}
	return &ChromePatterns{
		QuestionPrefixes:  []string{"Do you want", "Would you like", "Are you sure"},
		QuestionMinLength: 10,
		MenuPrefixes:      []string{`re:^[0-9]+\.`, ">", "Yes", "No"},
		BulletGlyphs:      []string{"⏺", "●", "◆"},
		ShellPrompts:      []string{"$", "%"},
		ToolNames:         []string{tool},
		FlagMarker:        "--",
		ChromePrefixes: []string{
			"Esc to",
			"- Booping", "+ Booping",
			"- Determining", "+ Determining",
			"- Processing", "+ Processing",
			"* Cooked", "* Brewed", "* Churned",
		},
		ChromeContains: []string{
			"ctrl+c to interrupt",
			"bypass permissions",
			"accept edits",
		},
		ChromeContainsAll: [][]string{{"tokens", "thinking"}},
		MinContentRatio:   0.3,
	}
}

// MergeChromePatterns layers overrides and extras on top of defaults.
//   - a non-nil override slice (even empty) replaces the default
//   - non-zero override scalars replace the default
//   - extras are appended after defaults/overrides
func MergeChromePatterns(defaults, overrides, extras *ChromePatterns) *ChromePatterns {
	out := &ChromePatterns{}
	if defaults != nil {
		*out = *defaults.clone()
	}
	if overrides != nil {
		replace := func(dst *[]string, src []string) {
			if src != nil {
				*dst = append([]string{}, src...)
			}
		}
		replace(&out.QuestionPrefixes, overrides.QuestionPrefixes)
		replace(&out.MenuPrefixes, overrides.MenuPrefixes)
		replace(&out.BulletGlyphs, overrides.BulletGlyphs)
		replace(&out.ShellPrompts, overrides.ShellPrompts)
		replace(&out.ToolNames, overrides.ToolNames)
		replace(&out.ChromePrefixes, overrides.ChromePrefixes)
		replace(&out.ChromeContains, overrides.ChromeContains)
		if overrides.ChromeContainsAll != nil {
			out.ChromeContainsAll = cloneGroups(overrides.ChromeContainsAll)
		}
		if overrides.QuestionMinLength > 0 {
			out.QuestionMinLength = overrides.QuestionMinLength
		}
		if overrides.FlagMarker != "" {
			out.FlagMarker = overrides.FlagMarker
		}
		if overrides.MinContentRatio > 0 {
			out.MinContentRatio = overrides.MinContentRatio
		}
	}
	if extras != nil {
		out.QuestionPrefixes = append(out.QuestionPrefixes, extras.QuestionPrefixes...)
		out.MenuPrefixes = append(out.MenuPrefixes, extras.MenuPrefixes...)
		out.BulletGlyphs = append(out.BulletGlyphs, extras.BulletGlyphs...)
		out.ShellPrompts = append(out.ShellPrompts, extras.ShellPrompts...)
		out.ToolNames = append(out.ToolNames, extras.ToolNames...)
		out.ChromePrefixes = append(out.ChromePrefixes, extras.ChromePrefixes...)
		out.ChromeContains = append(out.ChromeContains, extras.ChromeContains...)
		out.ChromeContainsAll = append(out.ChromeContainsAll, cloneGroups(extras.ChromeContainsAll)...)
	}
	return out
}

func (p *ChromePatterns) clone() *ChromePatterns {
	c := *p
	c.QuestionPrefixes = copySlice(p.QuestionPrefixes)
	c.MenuPrefixes = copySlice(p.MenuPrefixes)
	c.BulletGlyphs = copySlice(p.BulletGlyphs)
	c.ShellPrompts = copySlice(p.ShellPrompts)
	c.ToolNames = copySlice(p.ToolNames)
	c.ChromePrefixes = copySlice(p.ChromePrefixes)
	c.ChromeContains = copySlice(p.ChromeContains)
	c.ChromeContainsAll = cloneGroups(p.ChromeContainsAll)
	return &c
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func cloneGroups(groups [][]string) [][]string {
	if groups == nil {
		return nil
	}
	out := make([][]string, len(groups))
	for i, g := range groups {
		out[i] = copySlice(g)
	}
	return out
}

// matcher is a literal or a compiled "re:" pattern.
type matcher struct {
	literal string
	re      *regexp.Regexp
}

func (m matcher) hasPrefix(s string) bool {
	if m.re != nil {
		loc := m.re.FindStringIndex(s)
		return loc != nil && loc[0] == 0
	}
	return strings.HasPrefix(s, m.literal)
}

func (m matcher) contained(s string) bool {
	if m.re != nil {
		return m.re.MatchString(s)
	}
	return strings.Contains(s, m.literal)
}

type compiledPatterns struct {
	questions      []matcher
	questionMinLen int
	menus          []matcher
	bullets        []string
	shellPrompts   []string
	toolNames      []string
	flagMarker     string
	chromePrefixes []matcher
	chromeContains []matcher
	containsAll    [][]string
	minRatio       float64
}

// compilePatterns resolves "re:" entries. Invalid regexes are logged and
// skipped so a bad config line never disables extraction.
func compilePatterns(p *ChromePatterns) (*compiledPatterns, error) {
	if p == nil {
		return nil, fmt.Errorf("nil ChromePatterns")
	}
	c := &compiledPatterns{
		questionMinLen: p.QuestionMinLength,
		bullets:        copySlice(p.BulletGlyphs),
		shellPrompts:   copySlice(p.ShellPrompts),
		toolNames:      copySlice(p.ToolNames),
		flagMarker:     p.FlagMarker,
		containsAll:    cloneGroups(p.ChromeContainsAll),
		minRatio:       p.MinContentRatio,
	}
	c.questions = compileMatchers("question", p.QuestionPrefixes)
	c.menus = compileMatchers("menu", p.MenuPrefixes)
	c.chromePrefixes = compileMatchers("chrome_prefix", p.ChromePrefixes)
	c.chromeContains = compileMatchers("chrome_contains", p.ChromeContains)
	return c, nil
}

func compileMatchers(kind string, raw []string) []matcher {
	out := make([]matcher, 0, len(raw))
	for _, p := range raw {
		if !strings.HasPrefix(p, "re:") {
			out = append(out, matcher{literal: p})
			continue
		}
		re, err := regexp.Compile(p[3:])
		if err != nil {
			extractLog.Warn("invalid_pattern_regex",
				slog.String("kind", kind),
				slog.String("pattern", p),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, matcher{re: re})
	}
	return out
}
