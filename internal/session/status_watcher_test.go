package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextToken(t *testing.T, w *StatusFileWatcher) State {
	t.Helper()
	select {
	case st := <-w.Tokens():
		return st
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for status token")
		return ""
	}
}

func TestStatusFileWatcher_DeliversTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.status")
	w, err := NewStatusFileWatcher(path, 0)
	require.NoError(t, err)
	defer w.Close()
	require.True(t, w.Attached())

	require.NoError(t, WriteStatusFile(path, StateRunning))
	assert.Equal(t, StateRunning, nextToken(t, w))

	// Hook-style truncate and write in place.
	require.NoError(t, os.WriteFile(path, []byte("waiting\n"), 0o644))
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-w.Tokens():
			if st == StateWaiting {
				return
			}
		case <-deadline:
			t.Fatal("never observed waiting")
		}
	}
}

func TestStatusFileWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewStatusFileWatcher(filepath.Join(dir, "mine.status"), 0)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, WriteStatusFile(filepath.Join(dir, "other.status"), StateRunning))
	select {
	case st := <-w.Tokens():
		t.Fatalf("unexpected token %s for another task's file", st)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStatusFileWatcher_DebounceCoalesces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.status")
	w, err := NewStatusFileWatcher(path, 100*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	for _, st := range []State{StateRunning, StateWaiting, StateCompleted} {
		require.NoError(t, WriteStatusFile(path, st))
	}
	assert.Equal(t, StateCompleted, nextToken(t, w))
	select {
	case st := <-w.Tokens():
		t.Fatalf("expected a single coalesced token, got extra %s", st)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStatusFileWatcher_LastTokenMatchesLastWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.status")
	w, err := NewStatusFileWatcher(path, time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	states := []State{StateRunning, StateWaiting, StateRunning, StateCompleted}
	for i := 0; i < 40; i++ {
		require.NoError(t, WriteStatusFile(path, states[i%len(states)]))
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, WriteStatusFile(path, StateIdle))

	// Debounced reads run one at a time, so the final read always sees the
	// final write.
	var last State
	for {
		select {
		case st := <-w.Tokens():
			last = st
			continue
		case <-time.After(300 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, StateIdle, last)
}

func TestStatusFileWatcher_DebounceWindowsStaySeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.status")
	w, err := NewStatusFileWatcher(path, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	for _, st := range []State{StateRunning, StateWaiting, StateCompleted} {
		require.NoError(t, WriteStatusFile(path, st))
		assert.Equal(t, st, nextToken(t, w))
	}
}

func TestStatusFileWatcher_DeleteAndRecreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.status")
	w, err := NewStatusFileWatcher(path, 0)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, WriteStatusFile(path, StateRunning))
	assert.Equal(t, StateRunning, nextToken(t, w))

	require.NoError(t, os.Remove(path))
	require.NoError(t, WriteStatusFile(path, StateCompleted))
	assert.Equal(t, StateCompleted, nextToken(t, w))
}

func TestStatusFileWatcher_ReattachesAfterDirRemoval(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "status")
	path := filepath.Join(dir, "task.status")
	w, err := NewStatusFileWatcher(path, 0)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.RemoveAll(dir))
	require.Eventually(t, func() bool { return !w.Attached() }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return w.EnsureAttached()
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, WriteStatusFile(path, StateWaiting))
	assert.Equal(t, StateWaiting, nextToken(t, w))
}

func TestStatusFileWatcher_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.status")
	w, err := NewStatusFileWatcher(path, 0)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close(), "second close is a no-op")
	assert.False(t, w.EnsureAttached())

	require.NoError(t, WriteStatusFile(path, StateRunning))
	select {
	case st := <-w.Tokens():
		t.Fatalf("token %s delivered after Close", st)
	case <-time.After(200 * time.Millisecond):
	}
}
