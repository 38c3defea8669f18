package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"drapo/pkg/executor"
	"drapo/pkg/executor/handlers"
	"drapo/pkg/executor/probe"
	"drapo/pkg/executor/runner"
	"drapo/pkg/executor/runner/runnertest"
	"drapo/pkg/models"
	"drapo/pkg/storage"
)

type sleepRecorder struct {
	total time.Duration
	calls int
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.calls++
	s.total += d
	return nil
}

// probeSequence answers from results in order, then repeats the last one.
func probeSequence(results ...bool) (probe.Prober, *int) {
	calls := 0
	return probe.Func(func(ctx context.Context, host string, port int) bool {
		i := calls
		calls++
		if i >= len(results) {
			i = len(results) - 1
		}
		return results[i]
	}), &calls
}

type fixture struct {
	engine *executor.Engine
	runner *runnertest.Recorder
	sleeps *sleepRecorder
	logs   *observer.ObservedLogs
	probes *int
}

func newFixture(t *testing.T, probes ...bool) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	rec := &runnertest.Recorder{}
	p, calls := probeSequence(probes...)
	sleeps := &sleepRecorder{}
	eng := executor.NewEngine(p, handlers.DefaultRegistry(rec, log), log, executor.WithSleeper(sleeps.Sleep))
	return &fixture{engine: eng, runner: rec, sleeps: sleeps, logs: logs, probes: calls}
}

func gateJob(retry time.Duration) models.Job {
	return models.Job{Name: "gate", Type: models.JobTypeConnection, Host: "db.internal", Port: 5432, RetryInterval: retry}
}

func buildJob() models.Job {
	return models.Job{Name: "build", Type: models.JobTypeDataBuild, Command: []string{"echo", "ok"}}
}

func TestEngine_GateReachableFirstProbeNeverSleeps(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"gate": gateJob(10 * time.Minute), "build": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "nightly", Steps: []string{"gate", "build"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.GateAttempts)
	assert.Zero(t, f.sleeps.calls)
}

func TestEngine_GateSleepsIntervalPerFailedProbe(t *testing.T) {
	f := newFixture(t, false, false, false, true)
	jobs := models.JobTable{"gate": gateJob(10 * time.Minute), "build": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "nightly", Steps: []string{"gate", "build"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.Equal(t, 4, report.GateAttempts)
	assert.Equal(t, 3, f.sleeps.calls)
	assert.GreaterOrEqual(t, f.sleeps.total, 30*time.Minute)
	assert.Equal(t, 3, f.logs.FilterMessage("db.internal:5432 unreachable, waiting 10m0s").Len())
	assert.Equal(t, 1, f.runner.Calls())
}

func TestEngine_GateMaxAttempts(t *testing.T) {
	f := newFixture(t, false)
	jobs := models.JobTable{"gate": gateJob(time.Minute), "build": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "nightly", Steps: []string{"gate", "build"}}, jobs, models.RunOptions{GateMaxAttempts: 3})

	assert.ErrorIs(t, report.Err, executor.ErrGateExhausted)
	assert.Equal(t, 3, report.GateAttempts)
	assert.Equal(t, 2, f.sleeps.calls)
	assert.Zero(t, f.runner.Calls())
	assert.False(t, report.Succeeded())
}

func TestEngine_MissingStepIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"gate": gateJob(0), "valid": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "missing", "valid"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, models.OutcomeSkippedUnknown, report.Steps[0].Outcome.Status)
	assert.Equal(t, models.OutcomeSucceeded, report.Steps[1].Outcome.Status)
	assert.Equal(t, 1, f.logs.FilterMessage("job missing not found").Len())
	assert.Equal(t, 1, f.logs.FilterMessage(">>> JOB : missing >>>").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("<<< JOB missing SKIPPED_UNKNOWN_JOB <<<").Len())
	assert.Equal(t, 1, f.runner.Calls())
}

func TestEngine_UnhandledTypeIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{
		"gate":  gateJob(0),
		"weird": {Name: "weird", Type: models.JobType("ftp")},
		"build": buildJob(),
	}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "weird", "build"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.Equal(t, models.OutcomeSkippedType, report.Steps[0].Outcome.Status)
	assert.Equal(t, models.OutcomeSucceeded, report.Steps[1].Outcome.Status)
	assert.Equal(t, 1, f.logs.FilterMessage("unhandled job type").Len())
}

func TestEngine_MissingScriptNeverInvokesRunner(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{
		"gate": gateJob(0),
		"etl":  {Name: "etl", Type: models.JobTypeScript, ScriptPath: filepath.Join(t.TempDir(), "nope.py")},
	}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "etl"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.Equal(t, models.OutcomeInvalidInput, report.Steps[0].Outcome.Status)
	assert.Zero(t, f.runner.Calls())
}

func TestEngine_EndToEndGateAndBuild(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"gate": gateJob(0), "build": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "e2e", Steps: []string{"gate", "build"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.True(t, report.Succeeded())
	require.Equal(t, 1, f.runner.Calls())
	assert.Equal(t, []string{"echo", "ok"}, f.runner.Commands()[0].Args)
	assert.Equal(t, 1, f.logs.FilterMessage(">>> JOB : build >>>").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("<<< JOB build done <<<").Len())
}

func TestEngine_RepoSyncOnWindowsNeverInvokesRunner(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{
		"gate": gateJob(0),
		"sync": {Name: "sync", Type: models.JobTypeRepoSync, RepoDir: "/repo", Branch: "main"},
	}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "sync"}}, jobs, models.RunOptions{GOOS: "windows"})

	require.NoError(t, report.Err)
	assert.Equal(t, models.OutcomeSkippedPlatform, report.Steps[0].Outcome.Status)
	assert.Zero(t, f.runner.Calls())
	assert.True(t, report.Succeeded())
}

func TestEngine_MisconfiguredGateBestEffort(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"build": buildJob(), "other": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"build", "other"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.Zero(t, *f.probes)
	assert.Equal(t, 1, f.logs.FilterMessage("connection gate missing or incorrect").Len())
	// steps[0] is consumed as the gate slot even when it is not a connection job.
	assert.Equal(t, 1, f.runner.Calls())
	assert.True(t, report.GateMisconfigured)
	assert.False(t, report.Succeeded())
	finished := f.logs.FilterMessage("flow finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "failed", finished[0].ContextMap()["result"])
}

func TestEngine_FlowWithoutStepsIsNotSuccessful(t *testing.T) {
	f := newFixture(t, true)

	report := f.engine.Run(context.Background(), models.Flow{Name: "empty"}, models.JobTable{}, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.True(t, report.GateMisconfigured)
	assert.False(t, report.Succeeded())
	assert.Empty(t, report.Steps)
	assert.Zero(t, f.runner.Calls())
}

func TestEngine_MisconfiguredGateStrict(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"build": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"nope", "build"}}, jobs, models.RunOptions{StrictGate: true})

	assert.ErrorIs(t, report.Err, executor.ErrGateMisconfigured)
	assert.True(t, report.GateMisconfigured)
	assert.Zero(t, f.runner.Calls())
}

func TestEngine_RepoSyncFailureAbortsFlow(t *testing.T) {
	f := newFixture(t, true)
	f.runner.Respond = func(c runner.Command) runner.Result {
		if c.Args[0] == "git" {
			return runner.Result{ExitCode: 1}
		}
		return runner.Result{}
	}
	jobs := models.JobTable{
		"gate":  gateJob(0),
		"sync":  {Name: "sync", Type: models.JobTypeRepoSync, RepoDir: "/repo", Branch: "main"},
		"build": buildJob(),
	}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "sync", "build"}}, jobs, models.RunOptions{GOOS: "linux"})

	require.Error(t, report.Err)
	assert.ErrorIs(t, report.Err, executor.ErrStepFatal)
	assert.False(t, errors.Is(report.Err, executor.ErrProcessFatal))
	assert.Len(t, report.Steps, 1)
	assert.Equal(t, 1, f.runner.Calls())

	var stepErr *executor.StepError
	require.ErrorAs(t, report.Err, &stepErr)
	assert.Equal(t, "sync", stepErr.Step)
}

func TestEngine_FailedStepDoesNotAbort(t *testing.T) {
	f := newFixture(t, true)
	f.runner.Respond = func(c runner.Command) runner.Result { return runner.Result{ExitCode: 2} }
	jobs := models.JobTable{"gate": gateJob(0), "a": buildJob(), "b": buildJob()}

	report := f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "a", "b"}}, jobs, models.RunOptions{})

	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Count(models.OutcomeFailed))
	assert.False(t, report.Succeeded())
}

func TestEngine_DryRunIsThreadedToRunner(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"gate": gateJob(0), "build": buildJob()}

	f.engine.Run(context.Background(), models.Flow{Name: "f", Steps: []string{"gate", "build"}}, jobs, models.RunOptions{DryRun: true})

	assert.True(t, f.runner.Commands()[0].DryRun)
}

func TestEngine_RunAllStopsOnProcessFatal(t *testing.T) {
	f := newFixture(t, true)
	jobs := models.JobTable{"gate": gateJob(0), "deps": {Name: "deps", Type: models.JobTypeDependencyInstall}, "build": buildJob()}
	flows := []models.Flow{
		{Name: "first", Steps: []string{"gate", "build"}},
		{Name: "install", Steps: []string{"gate", "deps", "build"}},
		{Name: "never", Steps: []string{"gate", "build"}},
	}

	reports, err := f.engine.RunAll(context.Background(), flows, jobs, models.RunOptions{BaseDir: t.TempDir(), GOOS: "linux"})

	assert.ErrorIs(t, err, executor.ErrProcessFatal)
	assert.Len(t, reports, 2)
	assert.Equal(t, 1, f.runner.Calls())
}

func TestEngine_RunAllContinuesAfterStepFatal(t *testing.T) {
	f := newFixture(t, true)
	f.runner.Respond = func(c runner.Command) runner.Result {
		if c.Args[0] == "git" {
			return runner.Result{ExitCode: 128}
		}
		return runner.Result{}
	}
	jobs := models.JobTable{"gate": gateJob(0), "sync": {Name: "sync", Type: models.JobTypeRepoSync, Branch: "main"}, "build": buildJob()}
	flows := []models.Flow{
		{Name: "sync", Steps: []string{"gate", "sync"}},
		{Name: "build", Steps: []string{"gate", "build"}},
	}

	reports, err := f.engine.RunAll(context.Background(), flows, jobs, models.RunOptions{GOOS: "linux"})

	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.ErrorIs(t, reports[0].Err, executor.ErrStepFatal)
	assert.True(t, reports[1].Succeeded())
}

func TestEngine_ArchivesTranscript(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalLogStore(dir)
	require.NoError(t, err)

	rec := &runnertest.Recorder{}
	eng := executor.NewEngine(probe.Func(func(context.Context, string, int) bool { return true }),
		handlers.DefaultRegistry(rec, nil), zap.NewNop(), executor.WithArchive(store))

	jobs := models.JobTable{"gate": gateJob(0), "build": buildJob()}
	report := eng.Run(context.Background(), models.Flow{Name: "nightly", Steps: []string{"gate", "build"}}, jobs, models.RunOptions{})
	require.NoError(t, report.Err)

	data, err := os.ReadFile(filepath.Join(dir, "nightly", report.RunID.String()+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ">>> JOB : build >>>")
	assert.Contains(t, string(data), "flow finished")
}
