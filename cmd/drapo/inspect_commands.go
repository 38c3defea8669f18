package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	config "drapo/configs"
	"drapo/pkg/models"
	"drapo/pkg/scheduler"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and flow file and list every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := cfg.FlowFile(cfg.Env)
			if err != nil {
				return err
			}
			set, err := config.LoadFlowFile(path, cfg.Paths)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			problems := config.Problems(set.Validate())
			if len(problems) == 0 {
				fmt.Fprintf(out, "%s: %d jobs, %d flows, no problems\n", path, len(set.Jobs), len(set.Flows))
				return nil
			}
			rows := make([][]string, 0, len(problems))
			for _, p := range problems {
				var ve *config.ValidationError
				if errors.As(p, &ve) {
					rows = append(rows, []string{ve.Field, ve.Message})
					continue
				}
				rows = append(rows, []string{"-", p.Error()})
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Problem"}, rows, nil))
			return fmt.Errorf("%s: %d problems", path, len(problems))
		},
	}
}

type flowRow struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Steps    []string   `json:"steps"`
	Next     *time.Time `json:"next_run_at"`
}

func newFlowsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "List flows with their schedule and next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := ctx.flowSet()
			if err != nil {
				return err
			}
			return writeFlows(cmd.OutOrStdout(), set.Flows, time.Now(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeFlows(w io.Writer, flows []models.Flow, now time.Time, asJSON bool) error {
	rows := make([]flowRow, len(flows))
	for i, f := range flows {
		rows[i] = flowRow{Name: f.Name, Schedule: f.Schedule.String(), Steps: f.Steps}
		if f.Schedule.Cadence != "" {
			if next, err := scheduler.NextRun(f.Schedule, now); err == nil {
				rows[i].Next = &next
			}
		}
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	table := make([][]string, len(rows))
	for i, r := range rows {
		next := "-"
		if r.Next != nil {
			next = r.Next.Format(time.DateTime)
		}
		table[i] = []string{r.Name, r.Schedule, next, strings.Join(r.Steps, " → ")}
	}
	fmt.Fprintln(w, renderTable([]string{"Flow", "Schedule", "Next Run", "Steps"}, table, nil))
	return nil
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the job table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := ctx.flowSet()
			if err != nil {
				return err
			}
			return writeJobs(cmd.OutOrStdout(), set.Jobs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeJobs(w io.Writer, jobs models.JobTable, asJSON bool) error {
	names := jobs.Names()
	if asJSON {
		list := make([]models.Job, len(names))
		for i, n := range names {
			list[i] = jobs[n]
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	rows := make([][]string, len(names))
	for i, n := range names {
		j := jobs[n]
		rows[i] = []string{n, string(j.Type), jobTarget(j)}
	}
	fmt.Fprintln(w, renderTable([]string{"Job", "Type", "Target"}, rows, nil))
	return nil
}

func jobTarget(j models.Job) string {
	switch j.Type {
	case models.JobTypeConnection:
		return j.Host + ":" + strconv.Itoa(j.Port) + " every " + j.RetryInterval.String()
	case models.JobTypeScript:
		return strings.TrimSpace(j.ScriptPath + " " + j.Args)
	case models.JobTypeDataBuild:
		return strings.Join(j.Command, " ")
	case models.JobTypeRepoSync:
		return j.RepoDir + " @ " + j.Branch
	}
	return "-"
}
