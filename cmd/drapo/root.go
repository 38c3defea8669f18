package main

import (
	"github.com/spf13/cobra"
)

type globalFlags struct {
	config        string
	env           string
	logLevel      string
	dryRun        bool
	interpreter   string
	scriptArgs    string
	dataBuildArgs string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "drapo",
		Short:         "Run gated job flows now or on a schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", getenv("DRAPO_CONFIG", "drapo.yml"), "Application config file")
	pf.StringVar(&flags.env, "env", "", "Flow environment: prod, test or local (default from config or DRAPO_ENV)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Log commands instead of running them")
	pf.StringVar(&flags.interpreter, "interpreter", "", "Interpreter for every script job")
	pf.StringVar(&flags.scriptArgs, "script-args", "", "Extra arguments appended to every script job")
	pf.StringVar(&flags.dataBuildArgs, "data-build-args", "", "Extra arguments appended to every data-build job")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newScheduleCommand(ctx))
	rootCmd.AddCommand(newTriggerCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newFlowsCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
