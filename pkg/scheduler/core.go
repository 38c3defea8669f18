// Package scheduler turns flow schedules into triggers and dispatches
// queued triggers to the engine one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "drapo/configs"
	"drapo/pkg/executor"
	"drapo/pkg/metrics"
	"drapo/pkg/models"
	"drapo/pkg/resilience"
	"drapo/pkg/storage"
)

// RotateSpec fires the log rotation entry at local midnight.
const RotateSpec = "0 0 0 * * *"

// ErrUnknownFlow is returned when a trigger names a flow that is not loaded.
var ErrUnknownFlow = errors.New("unknown flow")

// FlowRunner executes one flow. *executor.Engine satisfies it.
type FlowRunner interface {
	Run(ctx context.Context, flow models.Flow, jobs models.JobTable, opts models.RunOptions) *models.FlowReport
}

// Rotator is called at midnight. *logger.Rotator satisfies it.
type Rotator interface {
	Rotate() error
}

// Entry describes one scheduled flow.
type Entry struct {
	Flow     string          `json:"flow"`
	Schedule models.Schedule `json:"schedule"`
	Spec     string          `json:"spec"`
	Next     time.Time       `json:"next"`
}

// Core owns the cron table and the dispatch loop.
type Core struct {
	set    *config.FlowSet
	queue  storage.Queue
	engine FlowRunner
	opts   models.RunOptions
	log    *zap.Logger

	cron     *cron.Cron
	rotator  Rotator
	group    string
	consumer string
	sleep    resilience.Sleeper
	backoff  time.Duration

	mu      sync.RWMutex
	entries map[string]cron.EntryID
	specs   map[string]string
	baseCtx context.Context
}

// Option configures a Core.
type Option func(*Core)

// WithRotator rotates the log file every midnight.
func WithRotator(r Rotator) Option { return func(c *Core) { c.rotator = r } }

// WithConsumer sets the queue consumer group and name.
func WithConsumer(group, consumer string) Option {
	return func(c *Core) { c.group, c.consumer = group, consumer }
}

// WithLocation evaluates schedules in loc instead of local time.
func WithLocation(loc *time.Location) Option {
	return func(c *Core) { c.cron = newCron(loc) }
}

// WithSleeper replaces the pause after a queue error.
func WithSleeper(s resilience.Sleeper) Option { return func(c *Core) { c.sleep = s } }

func NewCore(set *config.FlowSet, queue storage.Queue, engine FlowRunner, opts models.RunOptions, log *zap.Logger, options ...Option) *Core {
	c := &Core{
		set:      set,
		queue:    queue,
		engine:   engine,
		opts:     opts,
		log:      log.Named("scheduler"),
		cron:     newCron(time.Local),
		group:    storage.DefaultGroup,
		consumer: "dispatcher",
		sleep:    resilience.Sleep,
		backoff:  time.Second,
		entries:  make(map[string]cron.EntryID),
		specs:    make(map[string]string),
		baseCtx:  context.Background(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Parser reads the six-field specs produced by models.Schedule.CronSpec.
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newCron(loc *time.Location) *cron.Cron {
	return cron.New(cron.WithParser(Parser), cron.WithLocation(loc))
}

// NextRun computes when a schedule next fires after now without a
// running cron table.
func NextRun(s models.Schedule, now time.Time) (time.Time, error) {
	spec, err := s.CronSpec()
	if err != nil {
		return time.Time{}, err
	}
	sched, err := Parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", spec, err)
	}
	return sched.Next(now), nil
}

// Register adds every scheduled flow to the cron table. Flows without a
// schedule can still be triggered by hand. A flow whose schedule does not
// parse is skipped and reported; the others are still registered.
func (c *Core) Register() error {
	var errs []error
	for _, flow := range c.set.Flows {
		if flow.Schedule.Cadence == "" {
			c.log.Debug("flow has no schedule", zap.String("flow", flow.Name))
			continue
		}
		spec, err := flow.Schedule.CronSpec()
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.Name, err))
			c.log.Error("invalid schedule, flow not registered", zap.String("flow", flow.Name), zap.Error(err))
			continue
		}
		name := flow.Name
		id, err := c.cron.AddFunc(spec, func() { c.fire(name) })
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.Name, err))
			c.log.Error("cron rejected schedule", zap.String("flow", flow.Name), zap.String("spec", spec), zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.entries[name] = id
		c.specs[name] = spec
		c.mu.Unlock()
		c.log.Info("flow scheduled", zap.String("flow", name), zap.String("schedule", flow.Schedule.String()), zap.String("spec", spec))
	}

	if c.rotator != nil {
		if _, err := c.cron.AddFunc(RotateSpec, c.rotate); err != nil {
			errs = append(errs, fmt.Errorf("log rotation: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Core) fire(name string) {
	c.mu.RLock()
	ctx := c.baseCtx
	c.mu.RUnlock()
	if _, err := c.Enqueue(ctx, name, models.TriggerSchedule); err != nil {
		c.log.Error("failed to enqueue scheduled run", zap.String("flow", name), zap.Error(err))
	}
}

func (c *Core) rotate() {
	if err := c.rotator.Rotate(); err != nil {
		c.log.Warn("log rotation failed", zap.Error(err))
		return
	}
	c.log.Info("log file rotated")
}

// Enqueue pushes a trigger for the named flow.
func (c *Core) Enqueue(ctx context.Context, name string, source models.TriggerSource) (*models.Trigger, error) {
	if _, ok := c.set.Flow(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
	}
	trigger := models.NewTrigger(name, source)
	if err := c.queue.Push(ctx, trigger); err != nil {
		return nil, fmt.Errorf("push trigger: %w", err)
	}
	metrics.RecordTrigger(string(source))
	c.log.Info("flow triggered",
		zap.String("flow", name),
		zap.String("source", string(source)),
		zap.String("trigger_id", trigger.ID.String()),
	)
	return trigger, nil
}

// Next returns the next scheduled run of a flow. ok is false for flows
// that are not scheduled or before Run has started the cron table.
func (c *Core) Next(name string) (time.Time, bool) {
	c.mu.RLock()
	id, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	next := c.cron.Entry(id).Next
	return next, !next.IsZero()
}

// Entries lists the scheduled flows by name.
func (c *Core) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for name, id := range c.entries {
		flow, _ := c.set.Flow(name)
		out = append(out, Entry{
			Flow:     name,
			Schedule: flow.Schedule,
			Spec:     c.specs[name],
			Next:     c.cron.Entry(id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Flow < out[j].Flow })
	return out
}

// Run starts the cron table and dispatches triggers until ctx is done or a
// flow ends with a process-fatal step, which is returned.
// It blocks until the context is cancelled.
func (c *Core) Run(ctx context.Context) error {
	if err := c.queue.EnsureGroup(ctx, c.group); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	c.cron.Start()
	c.log.Info("scheduler started", zap.Int("scheduled_flows", len(c.Entries())))
	defer func() {
		<-c.cron.Stop().Done()
		c.log.Info("scheduler stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.DispatchOne(ctx); err != nil {
			if errors.Is(err, executor.ErrProcessFatal) {
				return err
			}
			if errors.Is(err, storage.ErrQueueClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("dispatch failed", zap.Error(err))
			if err := c.sleep(ctx, c.backoff); err != nil {
				return nil
			}
		}
	}
}

// DispatchOne pops at most one trigger and runs its flow. It returns nil
// when the queue had nothing to offer.
func (c *Core) DispatchOne(ctx context.Context) error {
	msgID, trigger, err := c.queue.Pop(ctx, c.group, c.consumer)
	if err != nil {
		if msgID != "" {
			c.log.Error("dropping unreadable trigger", zap.String("msg_id", msgID), zap.Error(err))
			c.ack(ctx, msgID)
			return nil
		}
		return err
	}
	if trigger == nil {
		return nil
	}
	defer c.ack(ctx, msgID)

	log := c.log.With(
		zap.String("flow", trigger.Flow),
		zap.String("trigger_id", trigger.ID.String()),
		zap.String("source", string(trigger.Source)),
	)
	flow, ok := c.set.Flow(trigger.Flow)
	if !ok {
		log.Warn("trigger for unknown flow dropped")
		return nil
	}

	lag := time.Since(trigger.RequestedAt)
	metrics.RecordDispatch(lag.Seconds())
	log.Info("dispatching flow", zap.Duration("lag", lag))

	report := c.engine.Run(ctx, flow, c.set.Jobs, c.opts)
	if errors.Is(report.Err, executor.ErrProcessFatal) {
		return fmt.Errorf("flow %s: %w", flow.Name, report.Err)
	}
	return nil
}

func (c *Core) ack(ctx context.Context, msgID string) {
	// acks must land even while shutting down
	if err := c.queue.Ack(context.WithoutCancel(ctx), c.group, msgID); err != nil {
		c.log.Warn("failed to ack trigger", zap.String("msg_id", msgID), zap.Error(err))
	}
}
