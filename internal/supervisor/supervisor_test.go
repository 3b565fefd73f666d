//go:build unix

package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/botpanel-dev/bot-panel-backend/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type observerStub struct {
	mu      sync.Mutex
	started int
	failed  int
	exited  int
	stopped map[supervisor.StopResult]int
}

func (o *observerStub) ProcessStarted(string) { o.mu.Lock(); o.started++; o.mu.Unlock() }
func (o *observerStub) SpawnFailed(string)    { o.mu.Lock(); o.failed++; o.mu.Unlock() }
func (o *observerStub) ProcessExited(string)  { o.mu.Lock(); o.exited++; o.mu.Unlock() }
func (o *observerStub) ProcessStopped(_ string, r supervisor.StopResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped == nil {
		o.stopped = make(map[supervisor.StopResult]int)
	}
	o.stopped[r]++
}

func setupSupervisor(t *testing.T, obs supervisor.Observer) (*supervisor.Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	sup, err := supervisor.New(supervisor.Config{
		Interpreter: "/bin/sh",
		LogDir:      filepath.Join(dir, "logs"),
		StopTimeout: 2 * time.Second,
		KillTimeout: 2 * time.Second,
		ScrubEnv:    []string{"PANEL_TEST_SECRET"},
		Observer:    obs,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup, dir
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	return p
}

func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func TestSupervisor_StartStop(t *testing.T) {
	obs := &observerStub{}
	sup, dir := setupSupervisor(t, obs)
	script := writeScript(t, dir, "42_bot1.sh", "sleep 30\n")

	assert.Equal(t, supervisor.StateStopped, sup.Status("42_bot1.sh"))

	require.NoError(t, sup.Start("42_bot1.sh", script))
	assert.Equal(t, supervisor.StateRunning, sup.Status("42_bot1.sh"))

	info, ok := sup.Info("42_bot1.sh")
	require.True(t, ok)
	assert.Greater(t, info.PID, 0)
	assert.True(t, alive(info.PID))

	result, err := sup.Stop(context.Background(), "42_bot1.sh")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StopGraceful, result)
	assert.Equal(t, supervisor.StateStopped, sup.Status("42_bot1.sh"))
	assert.Eventually(t, func() bool { return !alive(info.PID) }, 2*time.Second, 20*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, 1, obs.stopped[supervisor.StopGraceful])
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	sup, dir := setupSupervisor(t, nil)
	script := writeScript(t, dir, "42_bot.sh", "sleep 30\n")

	t.Run("sequential", func(t *testing.T) {
		require.NoError(t, sup.Start("42_bot.sh", script))
		first, ok := sup.Info("42_bot.sh")
		require.True(t, ok)

		require.NoError(t, sup.Start("42_bot.sh", script))
		second, ok := sup.Info("42_bot.sh")
		require.True(t, ok)

		assert.Equal(t, first.PID, second.PID)
		assert.Equal(t, 1, sup.Running())

		_, err := sup.Stop(context.Background(), "42_bot.sh")
		require.NoError(t, err)
	})

	t.Run("racing", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- sup.Start("42_bot.sh", script)
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, 1, sup.Running())
		assert.Equal(t, supervisor.StateRunning, sup.Status("42_bot.sh"))
	})
}

func TestSupervisor_StopNotRunning(t *testing.T) {
	sup, _ := setupSupervisor(t, nil)

	result, err := sup.Stop(context.Background(), "42_nothing.py")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StopNotRunning, result)
	assert.Equal(t, supervisor.StateStopped, sup.Status("42_nothing.py"))
}

func TestSupervisor_StopEscalatesToKill(t *testing.T) {
	dir := t.TempDir()
	sup, err := supervisor.New(supervisor.Config{
		Interpreter: "/bin/sh",
		StopTimeout: 200 * time.Millisecond,
		KillTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	marker := filepath.Join(dir, "trapped")
	script := writeScript(t, dir, "42_stubborn.sh", "trap '' TERM\ntouch "+marker+"\nwhile :; do sleep 1; done\n")

	require.NoError(t, sup.Start("42_stubborn.sh", script))
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	info, ok := sup.Info("42_stubborn.sh")
	require.True(t, ok)

	result, err := sup.Stop(context.Background(), "42_stubborn.sh")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StopForced, result)
	assert.Equal(t, supervisor.StateStopped, sup.Status("42_stubborn.sh"))
	assert.Eventually(t, func() bool { return !alive(info.PID) }, 2*time.Second, 20*time.Millisecond)
}

// stubbornScript ignores SIGTERM, touching termed when it arrives.
func stubbornScript(t *testing.T, dir, name string) (path, ready, termed string) {
	t.Helper()
	ready = filepath.Join(dir, name+".ready")
	termed = filepath.Join(dir, name+".termed")
	path = writeScript(t, dir, name,
		"trap 'touch "+termed+"' TERM\ntouch "+ready+"\nwhile :; do sleep 1; done\n")
	return path, ready, termed
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSupervisor_StopDoesNotBlockOtherKeys(t *testing.T) {
	sup, dir := setupSupervisor(t, nil)
	stubborn, ready, termed := stubbornScript(t, dir, "1_stubborn.sh")
	other := writeScript(t, dir, "2_other.sh", "sleep 30\n")

	require.NoError(t, sup.Start("1_stubborn.sh", stubborn))
	require.NoError(t, sup.Start("2_other.sh", other))
	waitForFile(t, ready)

	stopped := make(chan supervisor.StopResult, 1)
	go func() {
		result, _ := sup.Stop(context.Background(), "1_stubborn.sh")
		stopped <- result
	}()
	waitForFile(t, termed)

	began := time.Now()
	assert.Equal(t, supervisor.StateRunning, sup.Status("2_other.sh"))
	assert.Equal(t, 2, sup.Running())
	assert.Equal(t, 0, sup.Reap())
	assert.Less(t, time.Since(began), 500*time.Millisecond)

	select {
	case result := <-stopped:
		assert.Equal(t, supervisor.StopForced, result)
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not finish")
	}
	assert.Equal(t, supervisor.StateStopped, sup.Status("1_stubborn.sh"))
	assert.Equal(t, supervisor.StateRunning, sup.Status("2_other.sh"))
}

func TestSupervisor_StartWaitsForPendingStop(t *testing.T) {
	sup, dir := setupSupervisor(t, nil)
	stubborn, ready, termed := stubbornScript(t, dir, "1_bot.sh")

	require.NoError(t, sup.Start("1_bot.sh", stubborn))
	waitForFile(t, ready)
	before, ok := sup.Info("1_bot.sh")
	require.True(t, ok)

	results := make(chan supervisor.StopResult, 2)
	stop := func() {
		result, _ := sup.Stop(context.Background(), "1_bot.sh")
		results <- result
	}
	go stop()
	waitForFile(t, termed)
	go stop()

	replacement := writeScript(t, dir, "1_next.sh", "sleep 30\n")
	require.NoError(t, sup.Start("1_bot.sh", replacement))

	assert.Equal(t, supervisor.StopForced, <-results)
	assert.Equal(t, supervisor.StopForced, <-results)
	assert.False(t, alive(before.PID))

	after, ok := sup.Info("1_bot.sh")
	require.True(t, ok)
	assert.NotEqual(t, before.PID, after.PID)
	assert.Equal(t, 1, sup.Running())
}

func TestSupervisor_StopWithCancelledContextSkipsGrace(t *testing.T) {
	sup, dir := setupSupervisor(t, nil)
	stubborn, ready, _ := stubbornScript(t, dir, "1_bot.sh")

	require.NoError(t, sup.Start("1_bot.sh", stubborn))
	waitForFile(t, ready)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	began := time.Now()
	result, err := sup.Stop(ctx, "1_bot.sh")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StopForced, result)
	assert.Less(t, time.Since(began), 2*time.Second)
}

func TestSupervisor_CrashedChildIsReconciled(t *testing.T) {
	obs := &observerStub{}
	sup, dir := setupSupervisor(t, obs)
	script := writeScript(t, dir, "42_crash.sh", "exit 3\n")

	require.NoError(t, sup.Start("42_crash.sh", script))
	assert.Eventually(t, func() bool {
		return sup.Status("42_crash.sh") == supervisor.StateStopped
	}, 5*time.Second, 20*time.Millisecond)

	result, err := sup.Stop(context.Background(), "42_crash.sh")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StopNotRunning, result)

	t.Run("restart after a crash spawns again", func(t *testing.T) {
		longRunning := writeScript(t, dir, "42_crash.sh", "sleep 30\n")
		require.NoError(t, sup.Start("42_crash.sh", longRunning))
		assert.Equal(t, supervisor.StateRunning, sup.Status("42_crash.sh"))
	})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.exited)
	assert.Equal(t, 2, obs.started)
}

func TestSupervisor_Reap(t *testing.T) {
	sup, dir := setupSupervisor(t, nil)
	quick := writeScript(t, dir, "1_quick.sh", "exit 0\n")
	slow := writeScript(t, dir, "1_slow.sh", "sleep 30\n")

	require.NoError(t, sup.Start("1_quick.sh", quick))
	require.NoError(t, sup.Start("1_slow.sh", slow))

	reaped := 0
	require.Eventually(t, func() bool {
		reaped += sup.Reap()
		return reaped == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, sup.Running())
	assert.Equal(t, map[string]supervisor.State{
		"1_quick.sh": supervisor.StateStopped,
		"1_slow.sh":  supervisor.StateRunning,
	}, sup.Statuses([]string{"1_quick.sh", "1_slow.sh"}))
}

func TestSupervisor_SpawnFailures(t *testing.T) {
	obs := &observerStub{}
	sup, dir := setupSupervisor(t, obs)

	t.Run("missing artifact", func(t *testing.T) {
		err := sup.Start("42_gone.py", filepath.Join(dir, "42_gone.py"))
		assert.ErrorIs(t, err, supervisor.ErrSpawnFailed)
		assert.Equal(t, supervisor.StateStopped, sup.Status("42_gone.py"))
	})

	t.Run("missing interpreter", func(t *testing.T) {
		bad, err := supervisor.New(supervisor.Config{Interpreter: filepath.Join(dir, "no-such-interpreter")})
		require.NoError(t, err)
		script := writeScript(t, dir, "42_x.py", "print(1)\n")

		err = bad.Start("42_x.py", script)
		assert.ErrorIs(t, err, supervisor.ErrSpawnFailed)
		assert.Equal(t, supervisor.StateStopped, bad.Status("42_x.py"))
	})

	t.Run("directory instead of file", func(t *testing.T) {
		err := sup.Start("42_dir", dir)
		assert.ErrorIs(t, err, supervisor.ErrSpawnFailed)
	})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.failed)
}

func TestSupervisor_ChildEnvironmentAndLogs(t *testing.T) {
	t.Setenv("PANEL_TEST_SECRET", "hunter2")
	t.Setenv("PANEL_TEST_VISIBLE", "yes")

	sup, dir := setupSupervisor(t, nil)
	script := writeScript(t, dir, "42_env.sh",
		`echo "secret=${PANEL_TEST_SECRET:-unset} visible=${PANEL_TEST_VISIBLE} key=${ARTIFACT_KEY}"`+"\n")

	require.NoError(t, sup.Start("42_env.sh", script))
	require.Eventually(t, func() bool {
		return sup.Status("42_env.sh") == supervisor.StateStopped
	}, 5*time.Second, 20*time.Millisecond)

	out, err := sup.LogTail("42_env.sh", 4096)
	require.NoError(t, err)
	assert.Contains(t, string(out), "secret=unset visible=yes key=42_env.sh")
	assert.True(t, strings.HasPrefix(string(out), "=== 42_env.sh started"))

	t.Run("tail is bounded", func(t *testing.T) {
		out, err := sup.LogTail("42_env.sh", 10)
		require.NoError(t, err)
		assert.Len(t, out, 10)
	})

	t.Run("unknown key has no logs", func(t *testing.T) {
		_, err := sup.LogTail("42_other.sh", 10)
		assert.ErrorIs(t, err, supervisor.ErrNoLogs)

		_, err = sup.LogTail("../etc/passwd", 10)
		assert.ErrorIs(t, err, supervisor.ErrNoLogs)
	})
}

func TestSupervisor_Shutdown(t *testing.T) {
	sup, dir := setupSupervisor(t, nil)
	for _, key := range []string{"1_a.sh", "1_b.sh", "2_a.sh"} {
		require.NoError(t, sup.Start(key, writeScript(t, dir, key, "sleep 30\n")))
	}
	require.Equal(t, 3, sup.Running())

	require.NoError(t, sup.Shutdown(context.Background()))
	assert.Equal(t, 0, sup.Running())
}
