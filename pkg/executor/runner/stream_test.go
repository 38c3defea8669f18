package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"drapo/pkg/executor/runner"
	"drapo/pkg/logger"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func TestStreamRunner_StreamsMergedOutput(t *testing.T) {
	skipOnWindows(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r := runner.NewStreamRunner(zap.New(core))

	res := r.Run(context.Background(), runner.Command{
		Args: []string{"sh", "-c", "echo one; echo two 1>&2; echo three"},
		Step: "build",
	})

	require.NoError(t, res.Error)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 3, res.Lines)
	assert.Equal(t, []string{">>> RUN >>> : sh -c echo one; echo two 1>&2; echo three", "one", "two", "three"}, messages(logs))

	for _, e := range logs.All() {
		assert.Equal(t, "build", e.ContextMap()["step"])
	}
}

func TestStreamRunner_LinesVisibleBeforeExit(t *testing.T) {
	skipOnWindows(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r := runner.NewStreamRunner(zap.New(core))

	done := make(chan runner.Result, 1)
	go func() {
		done <- r.Run(context.Background(), runner.Command{
			Args: []string{"sh", "-c", "echo first; sleep 2; echo second"},
		})
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("first").Len() == 1
	}, 1500*time.Millisecond, 20*time.Millisecond)
	select {
	case <-done:
		t.Fatal("Run returned before the child exited")
	default:
	}
	assert.Zero(t, logs.FilterMessage("second").Len())

	res := <-done
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{">>> RUN >>> : sh -c echo first; sleep 2; echo second", "first", "second"}, messages(logs))
}

func TestStreamRunner_ReturnsWhenChildExitsDespiteBackgroundProcess(t *testing.T) {
	skipOnWindows(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r := runner.NewStreamRunner(zap.New(core))
	r.DrainDelay = 100 * time.Millisecond

	start := time.Now()
	res := r.Run(context.Background(), runner.Command{
		Args: []string{"sh", "-c", "sleep 3 & echo parent-exits"},
	})

	require.True(t, res.Succeeded())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, logs.FilterMessage("parent-exits").Len())
	assert.Equal(t, 1, res.Lines)
}

func TestStreamRunner_NonZeroExitIsNotAnError(t *testing.T) {
	skipOnWindows(t)
	r := runner.NewStreamRunner(zap.NewNop())

	res := r.Run(context.Background(), runner.Command{Args: []string{"sh", "-c", "exit 3"}})

	assert.NoError(t, res.Error)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Succeeded())
}

func TestStreamRunner_WorkingDirAndEnv(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	core, logs := observer.New(zapcore.InfoLevel)
	r := runner.NewStreamRunner(zap.New(core))

	res := r.Run(context.Background(), runner.Command{
		Args: []string{"sh", "-c", "ls; echo $DRAPO_TEST_VAR"},
		Dir:  dir,
		Env:  []string{"DRAPO_TEST_VAR=hello"},
	})

	require.True(t, res.Succeeded())
	assert.Contains(t, messages(logs), "marker.txt")
	assert.Contains(t, messages(logs), "hello")
}

func TestStreamRunner_DryRunNeverStartsProcess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "created")

	core, logs := observer.New(zapcore.InfoLevel)
	r := runner.NewStreamRunner(zap.New(core))

	res := r.Run(context.Background(), runner.Command{
		Args:   []string{"touch", target},
		DryRun: true,
	})

	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Error)
	assert.NoFileExists(t, target)
	assert.Equal(t, []string{">>> RUN >>> : touch " + target, "[DRY RUN] command: touch " + target}, messages(logs))
}

func TestStreamRunner_StartFailure(t *testing.T) {
	r := runner.NewStreamRunner(zap.NewNop())

	res := r.Run(context.Background(), runner.Command{Args: []string{"definitely-not-a-real-binary-xyz"}})

	require.Error(t, res.Error)
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, strings.Contains(res.Error.Error(), "start"))
}

func TestStreamRunner_EmptyCommand(t *testing.T) {
	r := runner.NewStreamRunner(nil)
	res := r.Run(context.Background(), runner.Command{})
	assert.Error(t, res.Error)
}

func TestStreamRunner_UsesContextLogger(t *testing.T) {
	skipOnWindows(t)
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.WithContext(context.Background(), zap.New(core).With(zap.String("flow", "nightly")))

	r := runner.NewStreamRunner(zap.NewNop())
	res := r.Run(ctx, runner.Command{Args: []string{"echo", "ok"}})

	require.True(t, res.Succeeded())
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "nightly", logs.All()[1].ContextMap()["flow"])
}

func TestStreamRunner_LongLine(t *testing.T) {
	skipOnWindows(t)
	core, logs := observer.New(zapcore.InfoLevel)
	r := runner.NewStreamRunner(zap.New(core))

	res := r.Run(context.Background(), runner.Command{
		Args: []string{"sh", "-c", "head -c 200000 /dev/zero | tr '\\0' a; echo"},
	})

	require.True(t, res.Succeeded())
	assert.Len(t, logs.All()[1].Message, 200000)
}
