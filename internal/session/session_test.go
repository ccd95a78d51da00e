package session

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockScrollback = "$ claude\n⏺ All tests pass now.\n"

func TestSession_Initial(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(t, clock)
	s := startTestSession(t, cfg, Params{WorkingDirectory: "/srv/app"}, &fakeTerminal{})

	assert.Equal(t, "task-1", s.ID())
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.LatestResponse())
	assert.Equal(t, StatusFilePath(cfg.StatusDir, "task-1"), s.StatusFilePath())
	assert.Equal(t, StateIdle, ReadStatusFile(s.StatusFilePath()))

	info := s.Info()
	assert.Equal(t, "/srv/app", info.WorkingDirectory)
	assert.Equal(t, clock.Now(), info.CreatedAt)
	assert.False(t, info.ToolLaunched)
}

func TestSession_FileDrivenTransitions(t *testing.T) {
	term := &fakeTerminal{}
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{Callbacks: rec.callbacks()}, term)

	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateRunning))
	assert.Equal(t, change{state: StateRunning}, rec.next(t))

	term.SetScrollback(blockScrollback)
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateCompleted))
	assert.Equal(t, change{state: StateCompleted, snippet: "All tests pass now."}, rec.next(t))
	assert.Equal(t, "All tests pass now.", s.LatestResponse())

	// Idle reports the retained snippet without re-extracting.
	term.SetScrollback("")
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateIdle))
	assert.Equal(t, change{state: StateIdle, snippet: "All tests pass now."}, rec.next(t))
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_BackToBackHookWritesKeepEveryState(t *testing.T) {
	rec := newRecorder()
	cfg := testConfig(t, newFakeClock())
	require.Zero(t, cfg.Debounce, "default config reads on every event")
	s := startTestSession(t, cfg, Params{Callbacks: rec.callbacks()}, &fakeTerminal{})

	// PreToolUse immediately followed by a permission prompt.
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateRunning))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateWaiting))

	assert.Equal(t, StateRunning, rec.next(t).state)
	assert.Equal(t, StateWaiting, rec.next(t).state)
	rec.none(t, 100*time.Millisecond)
}

func TestSession_DuplicateTokensSuppressed(t *testing.T) {
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{Callbacks: rec.callbacks()}, &fakeTerminal{})

	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateRunning))
	assert.Equal(t, StateRunning, rec.next(t).state)

	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateRunning))
	rec.none(t, 200*time.Millisecond)
}

func TestSession_WaitingExtractsQuestion(t *testing.T) {
	term := &fakeTerminal{}
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{Callbacks: rec.callbacks()}, term)

	term.SetScrollback("⏺ I drafted the migration.\nShould I also update the docs?\n")
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateWaiting))
	assert.Equal(t, change{state: StateWaiting, snippet: "Should I also update the docs?"}, rec.next(t))
}

func TestSession_NoTerminalYieldsEmptySnippet(t *testing.T) {
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{Callbacks: rec.callbacks()}, nil)

	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateCompleted))
	assert.Equal(t, change{state: StateCompleted}, rec.next(t))
}

func TestSession_IdleTimeout(t *testing.T) {
	clock := newFakeClock()
	t0 := clock.Now()
	cfg := testConfig(t, clock)

	var mu sync.Mutex
	var transitions []Transition
	rec := newRecorder()
	s := newSession("task-1", Params{Callbacks: rec.callbacks()}, cfg, &fakeTerminal{}, func(tr Transition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})
	t.Cleanup(s.terminate)

	require.NoError(t, s.SetState(StateRunning))
	assert.Equal(t, StateRunning, rec.next(t).state)
	// Let the watcher deliver the running token from our own write.
	time.Sleep(200 * time.Millisecond)

	// A poll re-read of the stale "running" token does not extend the
	// deadline, and exactly the timeout does not fire.
	clock.Set(t0.Add(3 * time.Second))
	clock.tick()
	clock.Set(t0.Add(cfg.IdleTimeout))
	clock.tick()
	rec.none(t, 100*time.Millisecond)
	assert.Equal(t, StateRunning, s.State())

	clock.Set(t0.Add(cfg.IdleTimeout + time.Millisecond))
	clock.tick()
	assert.Equal(t, StateIdle, rec.next(t).state)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StateIdle, ReadStatusFile(s.StatusFilePath()))

	rec.none(t, 200*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 2)
	assert.Equal(t, SourceManual, transitions[0].Source)
	assert.Equal(t, SourceIdleTimeout, transitions[1].Source)
	assert.Equal(t, StateRunning, transitions[1].PrevState)
	assert.Equal(t, "task-1", transitions[1].TaskID)
}

func TestSession_FreshRunningSignalExtendsDeadline(t *testing.T) {
	clock := newFakeClock()
	t0 := clock.Now()
	cfg := testConfig(t, clock)
	rec := newRecorder()
	s := startTestSession(t, cfg, Params{Callbacks: rec.callbacks()}, &fakeTerminal{})

	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateRunning))
	assert.Equal(t, StateRunning, rec.next(t).state)

	clock.Set(t0.Add(4 * time.Second))
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateRunning))
	time.Sleep(200 * time.Millisecond)

	clock.Set(t0.Add(6 * time.Second))
	clock.tick()
	rec.none(t, 100*time.Millisecond)
	assert.Equal(t, StateRunning, s.State())
}

func TestSession_PollFallback(t *testing.T) {
	clock := newFakeClock()
	term := &fakeTerminal{}
	term.SetScrollback(blockScrollback)
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, clock), Params{Callbacks: rec.callbacks()}, term)

	// Simulate a lost watch: only the poll can pick the change up.
	require.NoError(t, s.watcher.Close())
	require.NoError(t, WriteStatusFile(s.StatusFilePath(), StateWaiting))
	rec.none(t, 100*time.Millisecond)

	clock.tick()
	assert.Equal(t, change{state: StateWaiting, snippet: "All tests pass now."}, rec.next(t))
}

func TestSession_SetState(t *testing.T) {
	term := &fakeTerminal{}
	term.SetScrollback(blockScrollback)
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{Callbacks: rec.callbacks()}, term)

	require.NoError(t, s.SetState(StateWaiting))
	assert.Equal(t, change{state: StateWaiting, snippet: "All tests pass now."}, rec.next(t))
	assert.Equal(t, StateWaiting, ReadStatusFile(s.StatusFilePath()))

	// Same state: the file is rewritten but no callback fires.
	require.NoError(t, s.SetState(StateWaiting))
	rec.none(t, 200*time.Millisecond)

	require.NoError(t, s.SetState(StateCompleted))
	assert.Equal(t, StateCompleted, rec.next(t).state)
	assert.Equal(t, StateCompleted, ReadStatusFile(s.StatusFilePath()))
}

func TestSession_LaunchToolFirstTime(t *testing.T) {
	term := &fakeTerminal{}
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{
		InitialPrompt: `fix "quoted" \ path`,
		Callbacks:     rec.callbacks(),
	}, term)

	require.NoError(t, s.LaunchTool())
	select {
	case <-rec.launched:
	case <-time.After(3 * time.Second):
		t.Fatal("OnToolLaunchedOnce did not fire")
	}
	assert.Equal(t, []string{`claude --dangerously-skip-permissions "fix \"quoted\" \\ path"` + "\r"}, term.Sent())
	assert.True(t, s.Info().ToolLaunched)

	// Later calls are no-ops.
	require.NoError(t, s.LaunchTool())
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, term.Sent(), 1)
	select {
	case <-rec.launched:
		t.Fatal("OnToolLaunchedOnce fired twice")
	default:
	}
}

func TestSession_LaunchToolContinues(t *testing.T) {
	term := &fakeTerminal{}
	rec := newRecorder()
	cfg := testConfig(t, newFakeClock())
	cfg.SkipPermissions = false
	s := startTestSession(t, cfg, Params{
		InitialPrompt:   "ignored on resume",
		HasLaunchedTool: true,
		Callbacks:       rec.callbacks(),
	}, term)

	require.NoError(t, s.LaunchTool())
	require.Eventually(t, func() bool { return len(term.Sent()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "claude --continue\r", term.Sent()[0])

	time.Sleep(50 * time.Millisecond)
	select {
	case <-rec.launched:
		t.Fatal("OnToolLaunchedOnce fired for a resumed task")
	default:
	}
}

func TestSession_StartupSequence(t *testing.T) {
	term := &fakeTerminal{}
	cfg := testConfig(t, newFakeClock())
	cfg.AutoLaunch = true
	startTestSession(t, cfg, Params{WorkingDirectory: "/tmp/my project", InitialPrompt: "hello"}, term)

	require.Eventually(t, func() bool { return len(term.Sent()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		`cd "/tmp/my project" && clear` + "\r",
		`claude --dangerously-skip-permissions "hello"` + "\r",
	}, term.Sent())
}

func TestSession_StartupWithoutDirectory(t *testing.T) {
	term := &fakeTerminal{}
	startTestSession(t, testConfig(t, newFakeClock()), Params{}, term)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, term.Sent())
}

func TestSession_Terminate(t *testing.T) {
	term := &fakeTerminal{}
	rec := newRecorder()
	s := startTestSession(t, testConfig(t, newFakeClock()), Params{Callbacks: rec.callbacks()}, term)
	path := s.StatusFilePath()

	s.terminate()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "status file removed")
	assert.Equal(t, []string{"exit\r"}, term.Sent())

	assert.ErrorIs(t, s.SendCommand("ls"), ErrSessionClosed)
	assert.ErrorIs(t, s.SetState(StateRunning), ErrSessionClosed)
	assert.ErrorIs(t, s.LaunchTool(), ErrSessionClosed)

	require.NoError(t, WriteStatusFile(path, StateRunning))
	rec.none(t, 200*time.Millisecond)

	s.terminate()
	assert.Len(t, term.Sent(), 1)
}

func TestSession_TerminateKeepsShellWhenConfigured(t *testing.T) {
	term := &fakeTerminal{}
	cfg := testConfig(t, newFakeClock())
	cfg.ExitOnTerminate = false
	s := startTestSession(t, cfg, Params{}, term)
	s.terminate()
	assert.Empty(t, term.Sent())
}
