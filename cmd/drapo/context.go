package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	config "drapo/configs"
	"drapo/pkg/coordination"
	"drapo/pkg/coordination/etcd"
	"drapo/pkg/coordination/flock"
	"drapo/pkg/executor"
	"drapo/pkg/executor/handlers"
	"drapo/pkg/executor/probe"
	"drapo/pkg/executor/runner"
	"drapo/pkg/logger"
	"drapo/pkg/models"
	tracing "drapo/pkg/observability"
	"drapo/pkg/storage"
	"drapo/pkg/storage/memory"
	"drapo/pkg/storage/redis"
)

// commandContext loads configuration and builds components lazily so each
// command only pays for what it uses.
type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	log        *zap.Logger
	rotator    *logger.Rotator
	loggerErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.flags.config)
		if err != nil {
			c.configErr = err
			return
		}
		if env := strings.ToLower(strings.TrimSpace(c.flags.env)); env != "" {
			if !slices.Contains(config.Environments, env) {
				c.configErr = fmt.Errorf("--env must be one of %s", strings.Join(config.Environments, ", "))
				return
			}
			cfg.Env = env
		}
		if c.flags.logLevel != "" {
			if _, err := logger.ParseLevel(c.flags.logLevel); err != nil {
				c.configErr = err
				return
			}
			cfg.Logging.Level = c.flags.logLevel
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*zap.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.log, c.rotator, c.loggerErr = logger.New(cfg.LoggerConfig("drapo"))
		if c.loggerErr == nil {
			c.log = c.log.With(zap.String("env", cfg.Env))
		}
	})
	return c.log, c.loggerErr
}

func (c *commandContext) close() {
	if c.log != nil {
		_ = c.log.Sync()
	}
	_ = c.rotator.Close()
}

// flowSet loads the flow file for the selected environment and logs every
// validation problem. Problems never stop loading.
func (c *commandContext) flowSet() (*config.FlowSet, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	path, err := cfg.FlowFile(cfg.Env)
	if err != nil {
		return nil, err
	}
	set, err := config.LoadFlowFile(path, cfg.Paths)
	if err != nil {
		return nil, err
	}
	if log, err := c.logger(); err == nil {
		for _, p := range config.Problems(set.Validate()) {
			log.Warn("flow file problem", zap.String("file", path), zap.Error(p))
		}
	}
	return set, nil
}

// runOptions applies command-line overrides to the configured defaults.
func (c *commandContext) runOptions() (models.RunOptions, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return models.RunOptions{}, err
	}
	opts := cfg.RunOptions()
	opts.DryRun = c.flags.dryRun
	opts.Interpreter = c.flags.interpreter
	opts.ScriptArgs = c.flags.scriptArgs
	opts.DataBuildArgs = c.flags.dataBuildArgs
	return opts, nil
}

// newEngine wires the runner, prober, handlers and optional archive.
func (c *commandContext) newEngine(ctx context.Context) (*executor.Engine, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	log, err := c.logger()
	if err != nil {
		return nil, err
	}

	cmdRunner := runner.NewStreamRunner(log)
	registry := handlers.DefaultRegistry(cmdRunner, log)
	prober := probe.NewTCPProber(cfg.Runtime.ProbeTimeout, log)

	var opts []executor.Option
	archive, err := newArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		opts = append(opts, executor.WithArchive(archive))
		log.Info("archiving run transcripts", zap.String("backend", cfg.Archive.Backend))
	}
	return executor.NewEngine(prober, registry, log, opts...), nil
}

func newArchive(ctx context.Context, cfg config.Archive) (storage.LogStore, error) {
	switch cfg.Backend {
	case "local":
		return storage.NewLocalLogStore(cfg.Dir)
	case "s3":
		return storage.NewS3LogStore(ctx, storage.S3LogStoreConfig{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	}
	return nil, nil
}

func newQueue(ctx context.Context, cfg config.Queue) (storage.Queue, error) {
	if cfg.Backend == "redis" {
		rc := redis.DefaultRedisQueueConfig(cfg.RedisAddr)
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		if cfg.Stream != "" {
			rc.Stream = cfg.Stream
		}
		if cfg.Block > 0 {
			rc.Block = cfg.Block
		}
		return redis.NewRedisQueueWithConfig(ctx, rc)
	}
	return memory.NewQueue(cfg.Size, cfg.Block), nil
}

func newCoordinator(cfg config.Coordination, log *zap.Logger) (coordination.Coordinator, error) {
	switch cfg.Backend {
	case "flock":
		return flock.NewCoordinator(cfg.LockFile, flock.DefaultRetryDelay, log)
	case "etcd":
		return etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.TTL, log)
	}
	return coordination.NewLocal(), nil
}

func initTracing(ctx context.Context, cfg *config.Config) (*tracing.Provider, error) {
	tc := tracing.DefaultConfig("drapo")
	tc.Enabled = cfg.Tracing.Enabled
	tc.Endpoint = cfg.Tracing.Endpoint
	tc.Insecure = cfg.Tracing.Insecure
	tc.SamplingRate = cfg.Tracing.SamplingRate
	tc.Environment = cfg.Env
	return tracing.Init(ctx, tc)
}

// identity names this process in elections and queue consumer groups.
func identity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "drapo"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
