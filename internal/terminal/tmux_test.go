package terminal

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSessionName(t *testing.T) {
	assert.Equal(t, "taskdeck-abc_1", SanitizeSessionName("taskdeck-abc_1"))
	assert.Equal(t, "task-deck-x-y", SanitizeSessionName("task deck:x.y"))
}

func TestTmux_SendAndCapture(t *testing.T) {
	if !TmuxAvailable() {
		t.Skip("tmux not installed")
	}
	name := fmt.Sprintf("taskdeck-test-%d", os.Getpid())
	tm, err := NewTmuxSession(name, t.TempDir(), []string{"TASKDECK_TMUX_TEST=from-env"})
	if err != nil {
		t.Skipf("cannot create tmux session: %v", err)
	}
	t.Cleanup(func() { _ = tm.Kill() })

	require.True(t, tm.Exists())
	require.NoError(t, SendCommand(tm, "echo got-$TASKDECK_TMUX_TEST"))
	require.Eventually(t, func() bool {
		b, err := tm.Scrollback()
		return err == nil && strings.Contains(string(b), "got-from-env")
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, tm.Kill())
	assert.False(t, tm.Exists())
}
