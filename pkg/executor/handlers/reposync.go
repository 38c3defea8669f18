package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"drapo/pkg/executor/runner"
	"drapo/pkg/logger"
	"drapo/pkg/models"
)

// RepoSyncHandler fetches a branch from origin. It does nothing on Windows.
type RepoSyncHandler struct {
	runner runner.CommandRunner
	log    *zap.Logger
	// Git is the binary to invoke.
	Git string
}

func NewRepoSyncHandler(r runner.CommandRunner, log *zap.Logger) *RepoSyncHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RepoSyncHandler{runner: r, log: log.Named("repo-sync"), Git: "git"}
}

func (h *RepoSyncHandler) Type() models.JobType { return models.JobTypeRepoSync }

func (h *RepoSyncHandler) Execute(ctx context.Context, job models.Job, opts models.RunOptions) models.Outcome {
	log := logger.FromContext(ctx, h.log).With(zap.String("job", job.Name))

	if platform(opts) == "windows" {
		log.Info("repo sync skipped on windows")
		return models.Outcome{Status: models.OutcomeSkippedPlatform, Detail: "windows"}
	}

	res := h.runner.Run(ctx, runner.Command{
		Args:   []string{h.Git, "fetch", "origin", job.Branch},
		Dir:    job.RepoDir,
		DryRun: opts.DryRun,
		Step:   job.Name,
	})
	if res.Error != nil || res.ExitCode != 0 {
		err := fmt.Errorf("git fetch origin %s in %s: exit code %d", job.Branch, job.RepoDir, res.ExitCode)
		if res.Error != nil {
			err = fmt.Errorf("git fetch origin %s in %s: %w", job.Branch, job.RepoDir, res.Error)
		}
		log.Error("repo sync failed", zap.Error(err))
		return models.Outcome{Status: models.OutcomeStepFatal, ExitCode: res.ExitCode, Duration: res.Duration, Err: err, Detail: err.Error()}
	}
	return models.Succeeded(res.Duration)
}
