package terminal

import (
	"context"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestPTY(t *testing.T) *PTY {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty not supported on windows")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	p, err := StartPTY(context.Background(), PTYOptions{
		Shell: "/bin/sh",
		Dir:   t.TempDir(),
		Env:   []string{"PATH=" + os.Getenv("PATH"), "PS1=$ ", "TASKDECK_PTY_TEST=marker-value"},
	})
	if err != nil {
		t.Skipf("cannot start pty: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPTY_SendAndScrollback(t *testing.T) {
	p := startTestPTY(t)

	require.NoError(t, SendCommand(p, "echo out-$TASKDECK_PTY_TEST"))
	require.Eventually(t, func() bool {
		b, _ := p.Scrollback()
		return strings.Contains(string(b), "out-marker-value")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPTY_ExitClosesDone(t *testing.T) {
	p := startTestPTY(t)

	require.NoError(t, SendCommand(p, "exit"))
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}
	assert.NoError(t, p.Close())
}

func TestPTY_SendAfterClose(t *testing.T) {
	p := startTestPTY(t)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send("echo hi\r"), ErrClosed)
	assert.ErrorIs(t, p.Resize(80, 24), ErrClosed)
	assert.NoError(t, p.Close(), "second close is a no-op")
}
