package terminal

import (
	"strings"
	"unicode"
)

// StripANSI removes ANSI escape sequences in a single pass.
// Handles CSI (ESC [ ... final), OSC (ESC ] ... BEL or ST), charset
// designators (ESC ( X, ESC ) X), other two-byte escapes and 8-bit CSI.
func StripANSI(content string) string {
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9b') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == '\x1b' && i+1 < len(content):
			switch content[i+1] {
			case '[':
				i = skipCSI(content, i+2)
				continue
			case ']':
				if end := oscEnd(content, i+2); end > 0 {
					i = end
					continue
				}
				i += 2
				continue
			case '(', ')':
				if i+2 < len(content) {
					i += 3
				} else {
					i += 2
				}
				continue
			default:
				i += 2
				continue
			}
		case c == '\x1b':
			// Trailing lone ESC.
			i++
			continue
		case c == '\x9b':
			i = skipCSI(content, i+1)
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// skipCSI returns the index just past the final byte of a CSI sequence whose
// parameters start at i.
func skipCSI(s string, i int) int {
	for i < len(s) {
		c := s[i]
		i++
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '@' || c == '~' {
			break
		}
	}
	return i
}

// oscEnd returns the index past the OSC terminator, or -1 if unterminated.
func oscEnd(s string, i int) int {
	rest := s[i:]
	bel := strings.IndexByte(rest, '\x07')
	st := strings.Index(rest, "\x1b\\")
	switch {
	case bel >= 0 && (st < 0 || bel < st):
		return i + bel + 1
	case st >= 0:
		return i + st + 2
	default:
		return -1
	}
}

// StripControl drops control characters below U+0020 except newline and tab.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// CleanLine strips escapes and control characters and trims surrounding
// horizontal whitespace.
func CleanLine(line string) string {
	return TrimHorizontal(StripControl(StripANSI(line)))
}

// TrimHorizontal trims Unicode whitespace other than line separators.
func TrimHorizontal(s string) string {
	return strings.TrimFunc(s, isHorizontalSpace)
}

func isHorizontalSpace(r rune) bool {
	return r == '\t' || unicode.Is(unicode.Zs, r)
}

// SplitLines splits terminal output on any newline convention.
func SplitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// TailLines returns the last n cleaned lines of raw scrollback.
func TailLines(raw []byte, n int) []string {
	lines := SplitLines(string(raw))
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = CleanLine(line)
	}
	return out
}
