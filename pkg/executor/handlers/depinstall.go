package handlers

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"drapo/pkg/executor/runner"
	"drapo/pkg/logger"
	"drapo/pkg/models"
)

// DependencyInstallHandler installs the project's dependencies either by
// running the platform install script or through pip and a requirements file.
// Any failure is process-fatal.
type DependencyInstallHandler struct {
	runner runner.CommandRunner
	log    *zap.Logger
}

func NewDependencyInstallHandler(r runner.CommandRunner, log *zap.Logger) *DependencyInstallHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DependencyInstallHandler{runner: r, log: log.Named("dependency-install")}
}

func (h *DependencyInstallHandler) Type() models.JobType { return models.JobTypeDependencyInstall }

func (h *DependencyInstallHandler) Execute(ctx context.Context, job models.Job, opts models.RunOptions) models.Outcome {
	log := logger.FromContext(ctx, h.log).With(zap.String("job", job.Name))

	var cmd runner.Command
	switch opts.InstallMode {
	case models.InstallModeRequirements:
		req := resolve(opts.BaseDir, opts.Requirements)
		if req == "" || !isFile(req) {
			log.Error("requirements file not found", zap.String("path", req))
			return fatal(fmt.Errorf("requirements file %q not found", req))
		}
		interp := opts.FallbackInterpreter
		if interp == "" {
			interp = DefaultInterpreter
		}
		cmd = runner.Command{Args: []string{interp, "-m", "pip", "install", "-r", req}, Dir: filepath.Dir(req)}
	default:
		name, shell := "install.sh", []string{"sh"}
		if platform(opts) == "windows" {
			name, shell = "install.bat", []string{"cmd", "/C"}
		}
		script := resolve(opts.BaseDir, name)
		if !isFile(script) {
			log.Error("install script not found", zap.String("path", script))
			return fatal(fmt.Errorf("install script %q not found", script))
		}
		cmd = runner.Command{Args: append(shell, script), Dir: filepath.Dir(script)}
	}

	cmd.DryRun = opts.DryRun
	cmd.Step = job.Name
	res := h.runner.Run(ctx, cmd)
	if res.Error != nil || res.ExitCode != 0 {
		err := fmt.Errorf("dependency install exited with code %d", res.ExitCode)
		if res.Error != nil {
			err = fmt.Errorf("dependency install: %w", res.Error)
		}
		log.Error("dependency install failed", zap.Error(err))
		o := fatal(err)
		o.ExitCode, o.Duration = res.ExitCode, res.Duration
		return o
	}
	return models.Succeeded(res.Duration)
}

func fatal(err error) models.Outcome {
	return models.Outcome{Status: models.OutcomeProcessFatal, ExitCode: -1, Err: err, Detail: err.Error()}
}
