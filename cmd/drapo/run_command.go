package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drapo/pkg/models"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flowName string
	var summary bool
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"enforce"},
		Short:   "Run every flow (or one with --flow) now and exit",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := ctx.logger()
			if err != nil {
				return err
			}
			set, err := ctx.flowSet()
			if err != nil {
				return err
			}
			opts, err := ctx.runOptions()
			if err != nil {
				return err
			}

			flows := set.Flows
			if flowName != "" {
				flow, ok := set.Flow(flowName)
				if !ok {
					return fmt.Errorf("unknown flow %q", flowName)
				}
				flows = []models.Flow{flow}
			}

			cfg, _ := ctx.ensureConfig()
			provider, err := initTracing(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				_ = provider.Shutdown(sctx)
			}()

			engine, err := ctx.newEngine(cmd.Context())
			if err != nil {
				return err
			}

			log.Info("enforcing flows", zap.Int("flows", len(flows)), zap.Bool("dry_run", opts.DryRun))
			reports, runErr := engine.RunAll(cmd.Context(), flows, set.Jobs, opts)
			if summary {
				writeRunSummary(cmd.OutOrStdout(), reports)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&flowName, "flow", "", "Run only this flow")
	cmd.Flags().BoolVar(&summary, "summary", true, "Print a table of step outcomes")
	return cmd
}

func writeRunSummary(w io.Writer, reports []*models.FlowReport) {
	var rows [][]string
	for _, r := range reports {
		if r.GateMisconfigured {
			rows = append(rows, []string{r.Flow, "(gate)", "-", "GATE_MISCONFIGURED", "-", "-"})
		}
		if len(r.Steps) == 0 {
			switch {
			case r.Err != nil:
				rows = append(rows, []string{r.Flow, "-", "-", "ABORTED", "-", r.Duration.String()})
			case r.Succeeded():
				rows = append(rows, []string{r.Flow, "-", "-", "OK", "-", r.Duration.String()})
			}
			continue
		}
		for _, s := range r.Steps {
			exit := "-"
			if s.Outcome.Status == models.OutcomeSucceeded || s.Outcome.Status == models.OutcomeFailed {
				exit = strconv.Itoa(s.Outcome.ExitCode)
			}
			rows = append(rows, []string{r.Flow, s.Step, string(s.JobType), string(s.Outcome.Status), exit, s.Outcome.Duration.String()})
		}
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Flow", "Step", "Type", "Status", "Exit", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
}
