package handlers

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"drapo/pkg/executor/runner"
	"drapo/pkg/logger"
	"drapo/pkg/models"
)

// DataBuildHandler runs a data-build tool command in a working directory.
type DataBuildHandler struct {
	runner runner.CommandRunner
	log    *zap.Logger
}

func NewDataBuildHandler(r runner.CommandRunner, log *zap.Logger) *DataBuildHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DataBuildHandler{runner: r, log: log.Named("data-build")}
}

func (h *DataBuildHandler) Type() models.JobType { return models.JobTypeDataBuild }

func (h *DataBuildHandler) Execute(ctx context.Context, job models.Job, opts models.RunOptions) models.Outcome {
	log := logger.FromContext(ctx, h.log).With(zap.String("job", job.Name))

	if len(job.Command) == 0 {
		log.Error("data-build job has no command")
		return invalid("job %q has an empty command", job.Name)
	}

	dir := job.WorkingDir
	if dir == "" {
		dir = opts.BaseDir
	}

	args := append([]string{}, job.Command...)
	args = append(args, strings.Fields(opts.DataBuildArgs)...)

	res := h.runner.Run(ctx, runner.Command{
		Args:   args,
		Dir:    dir,
		DryRun: opts.DryRun,
		Step:   job.Name,
	})
	return fromResult(res)
}
