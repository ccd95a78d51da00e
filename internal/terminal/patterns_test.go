package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChromePatterns(t *testing.T) {
	p := DefaultChromePatterns("")
	assert.Equal(t, []string{"claude"}, p.ToolNames)
	assert.Equal(t, 10, p.QuestionMinLength)
	assert.InDelta(t, 0.3, p.MinContentRatio, 1e-9)
	assert.Contains(t, p.ChromeContains, "ctrl+c to interrupt")
	assert.Equal(t, []string{"⏺", "●", "◆"}, p.BulletGlyphs)

	custom := DefaultChromePatterns("  Aider ")
	assert.Equal(t, []string{"aider"}, custom.ToolNames)
}

func TestMergeChromePatterns(t *testing.T) {
	defaults := DefaultChromePatterns("claude")

	t.Run("nil layers clone defaults", func(t *testing.T) {
		merged := MergeChromePatterns(defaults, nil, nil)
		require.Equal(t, defaults, merged)
		merged.BulletGlyphs[0] = "x"
		assert.Equal(t, "⏺", defaults.BulletGlyphs[0], "merge must not alias defaults")
	})

	t.Run("override replaces", func(t *testing.T) {
		merged := MergeChromePatterns(defaults, &ChromePatterns{
			BulletGlyphs:    []string{"▶"},
			MinContentRatio: 0.5,
		}, nil)
		assert.Equal(t, []string{"▶"}, merged.BulletGlyphs)
		assert.InDelta(t, 0.5, merged.MinContentRatio, 1e-9)
		assert.Equal(t, defaults.MenuPrefixes, merged.MenuPrefixes)
	})

	t.Run("empty override clears", func(t *testing.T) {
		merged := MergeChromePatterns(defaults, &ChromePatterns{ChromeContains: []string{}}, nil)
		assert.Empty(t, merged.ChromeContains)
	})

	t.Run("extras append", func(t *testing.T) {
		merged := MergeChromePatterns(defaults, nil, &ChromePatterns{
			ChromePrefixes:    []string{"* Simmered"},
			ChromeContainsAll: [][]string{{"esc", "undo"}},
		})
		assert.Contains(t, merged.ChromePrefixes, "* Simmered")
		assert.Contains(t, merged.ChromePrefixes, "* Cooked")
		assert.Len(t, merged.ChromeContainsAll, 2)
	})
}

func TestCompilePatterns_InvalidRegexSkipped(t *testing.T) {
	p := DefaultChromePatterns("claude")
	p.MenuPrefixes = []string{"re:[", "re:^opt"}
	c, err := compilePatterns(p)
	require.NoError(t, err)
	require.Len(t, c.menus, 1)
	assert.True(t, c.menus[0].hasPrefix("option a"))
	assert.False(t, c.menus[0].hasPrefix("an option"))

	_, err = compilePatterns(nil)
	assert.Error(t, err)
}

func TestMatcher(t *testing.T) {
	lit := matcher{literal: "Esc to"}
	assert.True(t, lit.hasPrefix("Esc to cancel"))
	assert.False(t, lit.hasPrefix("Press Esc to cancel"))
	assert.True(t, lit.contained("Press Esc to cancel"))

	ms := compileMatchers("menu", []string{`re:[0-9]+\.`})
	require.Len(t, ms, 1)
	assert.False(t, ms[0].hasPrefix("step 1. go"), "regex prefix must anchor at start")
	assert.True(t, ms[0].contained("step 1. go"))
}
