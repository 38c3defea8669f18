package main

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drapo/pkg/api"
	"drapo/pkg/api/middleware"
	"drapo/pkg/auth"
	tracing "drapo/pkg/observability"
	"drapo/pkg/scheduler"
	"drapo/pkg/storage"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the scheduler daemon until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), ctx)
		},
	}
}

func runDaemon(parent context.Context, cc *commandContext) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	log, err := cc.logger()
	if err != nil {
		return err
	}
	set, err := cc.flowSet()
	if err != nil {
		return err
	}
	opts, err := cc.runOptions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logHostBanner(ctx, log, set.Path, len(set.Flows))

	provider, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := shutdownContext()
		defer scancel()
		if err := provider.Shutdown(sctx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	coord, err := newCoordinator(cfg.Coordination, log)
	if err != nil {
		return fmt.Errorf("coordination: %w", err)
	}
	defer coord.Close()

	self := identity()
	election := coord.NewElection(cfg.Coordination.Election)
	log.Info("requesting leadership", zap.String("identity", self), zap.String("backend", cfg.Coordination.Backend))
	if err := election.Campaign(ctx, self); err != nil {
		return fmt.Errorf("election campaign failed: %w", err)
	}
	log.Info("leadership acquired", zap.String("identity", self))
	defer func() {
		sctx, scancel := shutdownContext()
		defer scancel()
		if err := election.Resign(sctx); err != nil {
			log.Warn("failed to resign leadership", zap.Error(err))
			return
		}
		log.Info("leadership resigned")
	}()

	// an etcd session that expires means another instance may lead now
	if lost, ok := coord.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-lost.Done():
				log.Error("coordination session lost, stopping")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	queue, err := newQueue(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	defer queue.Close()

	engine, err := cc.newEngine(ctx)
	if err != nil {
		return err
	}

	core := scheduler.NewCore(set, queue, engine, opts, log,
		scheduler.WithConsumer(storage.DefaultGroup, self),
		scheduler.WithRotator(rotatorOrNil(cc, cfg.Logging.RotateDaily)),
	)
	if err := core.Register(); err != nil {
		log.Warn("some flows were not scheduled", zap.Error(err))
	}

	var server *api.Server
	if cfg.API.Enabled {
		authCfg := middleware.AuthConfig{}
		if store := auth.NewStaticKeyStore(cfg.API.APIKey, auth.RoleOperator); store != nil {
			authCfg.APIKeyStore = store
		}
		if cfg.API.JWTSecret != "" {
			jwtSvc, err := auth.NewJWTService(auth.JWTConfig{SecretKey: cfg.API.JWTSecret, Issuer: cfg.API.JWTIssuer})
			if err != nil {
				return err
			}
			authCfg.JWTService = jwtSvc
		}
		server = api.NewServer(api.Config{
			Addr:         cfg.API.Addr,
			Flows:        set,
			Scheduler:    core,
			Election:     election,
			Auth:         authCfg,
			MaxBodyBytes: cfg.API.MaxBodyBytes,
			TracerName:   tracing.TracerName,
			Log:          log,
		})
		go func() {
			if err := server.Start(); err != nil {
				log.Error("api server stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	runErr := core.Run(ctx)

	if server != nil {
		sctx, scancel := shutdownContext()
		if err := server.Shutdown(sctx); err != nil {
			log.Warn("api shutdown failed", zap.Error(err))
		}
		scancel()
	}
	if runErr != nil {
		log.Error("scheduler stopped on a process-fatal step", zap.Error(runErr))
		return runErr
	}
	log.Info("shutdown complete")
	return nil
}

// logHostBanner records the host the daemon starts on. Probe failures
// only drop the affected fields.
func logHostBanner(ctx context.Context, log *zap.Logger, flowFile string, flows int) {
	fields := []zap.Field{zap.String("flow_file", flowFile), zap.Int("flows", flows)}
	if info, err := host.InfoWithContext(ctx); err == nil {
		fields = append(fields,
			zap.String("hostname", info.Hostname),
			zap.String("platform", info.Platform),
			zap.String("kernel", info.KernelVersion),
		)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fields = append(fields, zap.Uint64("mem_total_bytes", vm.Total))
	}
	log.Info("scheduler daemon starting", fields...)
}

// rotatorOrNil returns nil unless daily rotation is enabled and a log
// file is configured.
func rotatorOrNil(cc *commandContext, enabled bool) scheduler.Rotator {
	if !enabled || cc.rotator == nil {
		return nil
	}
	return cc.rotator
}
