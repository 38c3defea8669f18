package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drapo/pkg/metrics"
	"drapo/pkg/models"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger NAME",
		Short: "Queue a flow run for the scheduler daemon",
		Long:  "Queue a flow run for the scheduler daemon. Requires the redis queue backend so the daemon can see the trigger.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != "redis" {
				return fmt.Errorf("trigger needs queue.backend redis, have %q; use `drapo run --flow %s` instead", cfg.Queue.Backend, args[0])
			}
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			set, err := ctx.flowSet()
			if err != nil {
				return err
			}
			if _, ok := set.Flow(args[0]); !ok {
				return fmt.Errorf("unknown flow %q", args[0])
			}

			queue, err := newQueue(cmd.Context(), cfg.Queue)
			if err != nil {
				return fmt.Errorf("queue: %w", err)
			}
			defer queue.Close()

			trigger := models.NewTrigger(args[0], models.TriggerCLI)
			if err := queue.Push(cmd.Context(), trigger); err != nil {
				return fmt.Errorf("push trigger: %w", err)
			}
			metrics.RecordTrigger(string(models.TriggerCLI))
			log.Info("flow triggered", zap.String("flow", trigger.Flow), zap.String("trigger_id", trigger.ID.String()))
			fmt.Fprintln(cmd.OutOrStdout(), trigger.ID.String())
			return nil
		},
	}
}
