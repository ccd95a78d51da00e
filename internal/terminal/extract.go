package terminal

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"

	"github.com/taskdeck/taskdeck/internal/logging"
)

var extractLog = logging.ForComponent(logging.CompExtract)

// widthCond measures display width independent of the host locale.
var widthCond = func() *runewidth.Condition {
	c := runewidth.NewCondition()
	c.EastAsianWidth = false
	return c
}()

// Defaults for ExtractorConfig.
const (
	DefaultMaxLines     = 100
	DefaultSnippetLines = 2
)

// ExtractorConfig tunes the response extractor. Zero values select defaults.
type ExtractorConfig struct {
	// MaxLines is how many trailing scrollback lines are inspected.
	MaxLines int
	// SnippetLines caps the lines taken from a response block or the fallback.
	SnippetLines int
	// MaxWidth truncates each snippet line to this display width (0 = off).
	MaxWidth int
	// Patterns defaults to DefaultChromePatterns("claude").
	Patterns *ChromePatterns
}

// Extractor derives a short "latest response" snippet from scrollback.
type Extractor struct {
	maxLines     int
	snippetLines int
	maxWidth     int
	p            *compiledPatterns
}

// NewExtractor builds an extractor from cfg.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.SnippetLines <= 0 {
		cfg.SnippetLines = DefaultSnippetLines
	}
	patterns := cfg.Patterns
	if patterns == nil {
		patterns = DefaultChromePatterns("")
	}
	compiled, err := compilePatterns(patterns)
	if err != nil {
		compiled, _ = compilePatterns(DefaultChromePatterns(""))
	}
	return &Extractor{
		maxLines:     cfg.MaxLines,
		snippetLines: cfg.SnippetLines,
		maxWidth:     cfg.MaxWidth,
		p:            compiled,
	}
}

var defaultExtractor = NewExtractor(ExtractorConfig{})

// Extract runs the default extractor over raw scrollback.
func Extract(raw []byte) string {
	return defaultExtractor.Extract(raw)
}

// IsMeaningfulLine applies the default meaningfulness predicate.
func IsMeaningfulLine(line string) bool {
	return defaultExtractor.IsMeaningful(line)
}

// Extract cleans the last MaxLines of raw and returns the snippet, or "" when
// nothing survives filtering.
func (e *Extractor) Extract(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	lines := TailLines(raw, e.maxLines)
	snippet := e.ExtractLines(lines)
	extractLog.Debug("snippet_extracted",
		slog.Int("lines", len(lines)),
		slog.Int("snippet_len", len(snippet)))
	return snippet
}

// ExtractLines runs the priority cascade over already-cleaned lines:
// question prompt, then response block, then trailing meaningful lines.
func (e *Extractor) ExtractLines(lines []string) string {
	if q := e.questionIndex(lines); q >= 0 {
		return e.join(e.questionSnippet(lines, q))
	}
	if b := e.blockIndex(lines); b >= 0 {
		return e.join(e.blockSnippet(lines, b))
	}
	return e.join(e.fallbackSnippet(lines))
}

func (e *Extractor) questionIndex(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if e.isQuestion(TrimHorizontal(lines[i])) {
			return i
		}
	}
	return -1
}

func (e *Extractor) isQuestion(trimmed string) bool {
	for _, m := range e.p.questions {
		if m.hasPrefix(trimmed) {
			return true
		}
	}
	return strings.HasSuffix(trimmed, "?") && uniseg.GraphemeClusterCount(trimmed) > e.p.questionMinLen
}

func (e *Extractor) questionSnippet(lines []string, q int) []string {
	var out []string
	if question := TrimHorizontal(lines[q]); question != "" {
		out = append(out, question)
	}
	if q+1 < len(lines) {
		next := TrimHorizontal(lines[q+1])
		if next != "" && e.isMenuOption(next) {
			out = append(out, next)
		}
	}
	return out
}

func (e *Extractor) isMenuOption(trimmed string) bool {
	for _, m := range e.p.menus {
		if m.hasPrefix(trimmed) {
			return true
		}
	}
	return false
}

func (e *Extractor) blockIndex(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if _, ok := e.bulletPrefix(TrimHorizontal(lines[i])); ok {
			return i
		}
	}
	return -1
}

func (e *Extractor) bulletPrefix(trimmed string) (string, bool) {
	for _, g := range e.p.bullets {
		if g != "" && strings.HasPrefix(trimmed, g) {
			return g, true
		}
	}
	return "", false
}

func (e *Extractor) blockSnippet(lines []string, start int) []string {
	var out []string
	for _, line := range lines[start:] {
		clean := TrimHorizontal(line)
		if g, ok := e.bulletPrefix(clean); ok {
			clean = TrimHorizontal(strings.TrimPrefix(clean, g))
		}
		if clean == "" || !e.IsMeaningful(clean) {
			continue
		}
		out = append(out, clean)
		if len(out) >= e.snippetLines {
			break
		}
	}
	return out
}

func (e *Extractor) fallbackSnippet(lines []string) []string {
	var kept []string
	for _, line := range lines {
		if e.IsMeaningful(line) {
			kept = append(kept, line)
		}
	}
	if len(kept) > e.snippetLines {
		kept = kept[len(kept)-e.snippetLines:]
	}
	return kept
}

func (e *Extractor) join(lines []string) string {
	if e.maxWidth > 0 {
		for i, l := range lines {
			lines[i] = widthCond.Truncate(l, e.maxWidth, "…")
		}
	}
	return strings.Join(lines, "\n")
}

// IsMeaningful reports whether line looks like assistant prose rather than
// prompt noise, status chrome, spinners or box drawing.
func (e *Extractor) IsMeaningful(line string) bool {
	trimmed := TrimHorizontal(line)
	if trimmed == "" {
		return false
	}
	for _, p := range e.p.shellPrompts {
		if p != "" && strings.HasPrefix(trimmed, p) {
			return false
		}
	}
	if e.p.flagMarker != "" && strings.Contains(trimmed, e.p.flagMarker) {
		for _, tool := range e.p.toolNames {
			if tool != "" && strings.Contains(trimmed, tool) {
				return false
			}
		}
	}
	for _, m := range e.p.chromePrefixes {
		if m.hasPrefix(trimmed) {
			return false
		}
	}
	for _, m := range e.p.chromeContains {
		if m.contained(trimmed) {
			return false
		}
	}
	for _, group := range e.p.containsAll {
		if len(group) > 0 && containsAll(trimmed, group) {
			return false
		}
	}
	return contentRatio(trimmed) >= e.p.minRatio
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

// contentRatio is the share of alphanumeric or CJK code points relative to
// the user-perceived character count.
func contentRatio(s string) float64 {
	total := uniseg.GraphemeClusterCount(s)
	if total == 0 {
		return 0
	}
	content := 0
	for _, r := range s {
		if isContentRune(r) {
			content++
		}
	}
	return float64(content) / float64(total)
}

func isContentRune(r rune) bool {
	if r >= 0x3040 && r <= 0x9FFF {
		return true
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsNumber(r) || unicode.IsMark(r)
}
