// Package executor runs flows: a reachability gate followed by typed steps.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"drapo/pkg/executor/handlers"
	"drapo/pkg/executor/probe"
	"drapo/pkg/logger"
	"drapo/pkg/metrics"
	"drapo/pkg/models"
	tracing "drapo/pkg/observability"
	"drapo/pkg/resilience"
	"drapo/pkg/storage"
)

var (
	ErrGateMisconfigured = errors.New("connection gate missing or incorrect")
	ErrGateExhausted     = errors.New("gate target still unreachable")
	ErrStepFatal         = errors.New("step failed fatally")
	ErrProcessFatal      = errors.New("process-fatal step failure")
)

// StepError is the terminal error of a flow aborted by a fatal step. It
// matches ErrStepFatal or ErrProcessFatal with errors.Is.
type StepError struct {
	Step   string
	Status models.OutcomeStatus
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s: %v", e.Step, e.Status, e.Err)
}

func (e *StepError) Unwrap() []error {
	kind := ErrStepFatal
	if e.Status == models.OutcomeProcessFatal {
		kind = ErrProcessFatal
	}
	return []error{kind, e.Err}
}

// Engine executes one flow at a time. It is safe to share between
// goroutines but the scheduler never runs two flows concurrently.
type Engine struct {
	ID       string
	Hostname string

	prober   probe.Prober
	handlers *handlers.Registry
	log      *zap.Logger
	sleep    resilience.Sleeper
	clock    resilience.Clock
	tracer   trace.Tracer

	archive storage.LogStore
	breaker *resilience.CircuitBreaker
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSleeper replaces the real sleep used between gate probes.
func WithSleeper(s resilience.Sleeper) Option { return func(e *Engine) { e.sleep = s } }

// WithClock replaces the wall clock used for reports.
func WithClock(c resilience.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithArchive stores each run's transcript in ls. Upload failures never
// fail the flow; repeated failures pause archiving for a cooldown.
func WithArchive(ls storage.LogStore) Option { return func(e *Engine) { e.archive = ls } }

func NewEngine(p probe.Prober, reg *handlers.Registry, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	hostname, _ := os.Hostname()
	e := &Engine{
		ID:       fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		Hostname: hostname,
		prober:   p,
		handlers: reg,
		log:      log.Named("engine"),
		sleep:    resilience.Sleep,
		clock:    resilience.SystemClock{},
		tracer:   otel.Tracer(tracing.TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.archive != nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.Clock = e.clock
		e.breaker = resilience.NewCircuitBreaker("archive", cfg)
	}
	return e
}

// Run executes flow against jobs and returns its report. A fatal step, a
// strict-mode gate error or an exhausted gate is returned in report.Err.
func (e *Engine) Run(ctx context.Context, flow models.Flow, jobs models.JobTable, opts models.RunOptions) *models.FlowReport {
	report := &models.FlowReport{
		RunID:     uuid.New(),
		Flow:      flow.Name,
		StartedAt: e.clock.Now(),
	}

	log := e.log.With(zap.String("flow", flow.Name), zap.String("run_id", report.RunID.String()))
	var transcript *bytes.Buffer
	if e.archive != nil {
		transcript = &bytes.Buffer{}
		log = log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, transcriptCore(transcript))
		}))
	}
	ctx = logger.WithContext(ctx, log)

	ctx, span := e.tracer.Start(ctx, "flow.run", trace.WithAttributes(
		attribute.String("flow.name", flow.Name),
		attribute.String("flow.run_id", report.RunID.String()),
		attribute.Bool("flow.dry_run", opts.DryRun),
	))
	defer span.End()

	metrics.FlowsRunning.Inc()
	defer metrics.FlowsRunning.Dec()

	log.Info("flow started", zap.Strings("steps", flow.Steps), zap.Bool("dry_run", opts.DryRun), zap.String("node", e.ID))

	if err := e.gate(ctx, flow, jobs, opts, report, log); err != nil {
		report.GateMisconfigured = errors.Is(err, ErrGateMisconfigured)
		if !report.GateMisconfigured || opts.StrictGate {
			report.Err = err
			return e.finish(ctx, report, log, transcript)
		}
	}

	if len(flow.Steps) > 1 {
		for _, name := range flow.Steps[1:] {
			if err := ctx.Err(); err != nil {
				report.Err = err
				break
			}
			step := e.step(ctx, name, jobs, opts, log)
			report.Steps = append(report.Steps, step)
			if step.Outcome.Status.Fatal() {
				report.Err = &StepError{Step: name, Status: step.Outcome.Status, Err: step.Outcome.Err}
				break
			}
		}
	}

	return e.finish(ctx, report, log, transcript)
}

// gate blocks until steps[0] is reachable. A missing or non-connection gate
// yields ErrGateMisconfigured and the caller decides whether to continue.
func (e *Engine) gate(ctx context.Context, flow models.Flow, jobs models.JobTable, opts models.RunOptions, report *models.FlowReport, log *zap.Logger) error {
	name := flow.Gate()
	job, ok := jobs.Lookup(name)
	if !ok || job.Type != models.JobTypeConnection {
		log.Error("connection gate missing or incorrect", zap.String("step", name), zap.Bool("strict", opts.StrictGate))
		return fmt.Errorf("%w: flow %q step %q", ErrGateMisconfigured, flow.Name, name)
	}

	ctx, span := e.tracer.Start(ctx, "flow.gate", trace.WithAttributes(
		attribute.String("gate.host", job.Host),
		attribute.Int("gate.port", job.Port),
	))
	defer span.End()

	addr := net.JoinHostPort(job.Host, strconv.Itoa(job.Port))
	policy := resilience.GatePolicy{Interval: job.RetryInterval, MaxAttempts: opts.GateMaxAttempts}

	attempts, err := policy.Wait(ctx, e.sleep,
		func(attempt int) bool {
			log.Info("checking "+addr, zap.Int("attempt", attempt))
			reachable := e.prober.Reachable(ctx, job.Host, job.Port)
			metrics.RecordProbe(flow.Name, reachable)
			return reachable
		},
		func(attempt int, wait time.Duration) {
			log.Warn(fmt.Sprintf("%s unreachable, waiting %s", addr, wait), zap.Int("attempt", attempt))
			tracing.AddEvent(ctx, "gate.retry", attribute.Int("attempt", attempt))
		},
	)
	report.GateAttempts = attempts
	span.SetAttributes(attribute.Int("gate.attempts", attempts))

	switch {
	case errors.Is(err, resilience.ErrAttemptsExhausted):
		err = fmt.Errorf("%w: %s after %d attempts", ErrGateExhausted, addr, attempts)
		log.Error("gate gave up", zap.Error(err))
		tracing.SetError(ctx, err)
		return err
	case err != nil:
		return fmt.Errorf("gate wait: %w", err)
	}

	log.Info(addr+" reachable", zap.Int("attempts", attempts))
	return nil
}

// step dispatches one non-gate step to its handler.
func (e *Engine) step(ctx context.Context, name string, jobs models.JobTable, opts models.RunOptions, log *zap.Logger) models.StepReport {
	log = log.With(zap.String("step", name))
	log.Info(">>> JOB : " + name + " >>>")

	job, ok := jobs.Lookup(name)
	if !ok {
		log.Error("job " + name + " not found")
		log.Error("<<< JOB " + name + " " + string(models.OutcomeSkippedUnknown) + " <<<")
		metrics.RecordStep(name, "unknown", string(models.OutcomeSkippedUnknown), 0)
		return models.StepReport{Step: name, Outcome: models.Outcome{Status: models.OutcomeSkippedUnknown}}
	}

	ctx, span := e.tracer.Start(ctx, "flow.step", trace.WithAttributes(
		attribute.String("step.name", name),
		attribute.String("step.type", string(job.Type)),
	))
	defer span.End()

	var out models.Outcome
	h, err := e.handlers.Get(job.Type)
	if err != nil {
		log.Error("unhandled job type", zap.String("type", string(job.Type)))
		out = models.Outcome{Status: models.OutcomeSkippedType, Err: err, Detail: err.Error()}
	} else {
		start := e.clock.Now()
		out = h.Execute(logger.WithContext(ctx, log), job, opts)
		if out.Duration == 0 {
			out.Duration = e.clock.Now().Sub(start)
		}
	}

	metrics.RecordStep(name, string(job.Type), string(out.Status), out.Duration.Seconds())
	span.SetAttributes(attribute.String("step.status", string(out.Status)))

	fields := []zap.Field{zap.String("status", string(out.Status)), zap.Duration("duration", out.Duration)}
	switch out.Status {
	case models.OutcomeSucceeded, models.OutcomeSkippedPlatform:
		log.Info("<<< JOB "+name+" done <<<", fields...)
	case models.OutcomeFailed:
		log.Error("<<< JOB "+name+" failed <<<", append(fields, zap.Int("exit_code", out.ExitCode), zap.Error(out.Err))...)
		tracing.SetError(ctx, fmt.Errorf("exit code %d", out.ExitCode))
	default:
		log.Error("<<< JOB "+name+" "+string(out.Status)+" <<<", append(fields, zap.Error(out.Err))...)
		if out.Err != nil {
			tracing.SetError(ctx, out.Err)
		}
	}

	return models.StepReport{Step: name, JobType: job.Type, Outcome: out}
}

func (e *Engine) finish(ctx context.Context, report *models.FlowReport, log *zap.Logger, transcript *bytes.Buffer) *models.FlowReport {
	report.Duration = e.clock.Now().Sub(report.StartedAt)

	result := "succeeded"
	if !report.Succeeded() {
		result = "failed"
	}
	metrics.RecordFlow(report.Flow, result, report.Duration.Seconds())
	tracing.SetAttributes(ctx, attribute.String("flow.result", result))

	fields := []zap.Field{
		zap.String("result", result),
		zap.Int("steps", len(report.Steps)),
		zap.Int("succeeded", report.Count(models.OutcomeSucceeded)),
		zap.Int("gate_attempts", report.GateAttempts),
		zap.Duration("duration", report.Duration),
	}
	if report.GateMisconfigured {
		fields = append(fields, zap.Bool("gate_misconfigured", true))
	}
	if report.Err != nil {
		tracing.SetError(ctx, report.Err)
		log.Error("flow aborted", append(fields, zap.Error(report.Err))...)
	} else {
		log.Info("flow finished", fields...)
	}

	if transcript != nil {
		e.store(ctx, report, transcript.Bytes())
	}
	return report
}

func (e *Engine) store(ctx context.Context, report *models.FlowReport, data []byte) {
	key := report.Flow + "/" + report.RunID.String()
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		ref, err := e.archive.Store(ctx, key, data)
		if err == nil {
			e.log.Debug("transcript archived", zap.String("flow", report.Flow), zap.String("ref", ref))
		}
		return err
	})
	if err != nil {
		metrics.ArchiveFailures.Inc()
		e.log.Warn("failed to archive transcript", zap.String("flow", report.Flow), zap.Error(err))
	}
}

func transcriptCore(buf *bytes.Buffer) zapcore.Core {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:     "ts",
		LevelKey:    "level",
		MessageKey:  "msg",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeLevel: zapcore.CapitalLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	})
	return zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(buf)), zapcore.DebugLevel)
}
