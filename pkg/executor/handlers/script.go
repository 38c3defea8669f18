package handlers

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"drapo/pkg/executor/runner"
	"drapo/pkg/logger"
	"drapo/pkg/models"
)

const (
	DefaultInterpreter     = "python3"
	DefaultScriptExtension = ".py"
)

// ScriptHandler runs a script file through an interpreter.
type ScriptHandler struct {
	runner runner.CommandRunner
	log    *zap.Logger
}

func NewScriptHandler(r runner.CommandRunner, log *zap.Logger) *ScriptHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScriptHandler{runner: r, log: log.Named("script")}
}

func (h *ScriptHandler) Type() models.JobType { return models.JobTypeScript }

func (h *ScriptHandler) Execute(ctx context.Context, job models.Job, opts models.RunOptions) models.Outcome {
	log := logger.FromContext(ctx, h.log).With(zap.String("job", job.Name))

	interp := h.interpreter(job, opts, log)

	script := job.ScriptPath
	ext := opts.ScriptExtension
	if ext == "" {
		ext = DefaultScriptExtension
	}
	if script == "" || !strings.EqualFold(filepath.Ext(script), ext) || !isFile(script) {
		log.Error("invalid or missing script", zap.String("script", script), zap.String("extension", ext))
		return invalid("script %q is not an existing %s file", script, ext)
	}

	args := []string{interp, script}
	args = append(args, strings.Fields(job.Args)...)
	args = append(args, strings.Fields(opts.ScriptArgs)...)

	res := h.runner.Run(ctx, runner.Command{
		Args:   args,
		Dir:    filepath.Dir(script),
		Env:    []string{"PYTHONIOENCODING=utf-8"},
		DryRun: opts.DryRun,
		Step:   job.Name,
	})
	return fromResult(res)
}

// interpreter picks the runtime override, then the job's own interpreter,
// then the fallback. A chosen interpreter that is neither a file nor on
// PATH is replaced by the fallback.
func (h *ScriptHandler) interpreter(job models.Job, opts models.RunOptions, log *zap.Logger) string {
	fallback := opts.FallbackInterpreter
	if fallback == "" {
		fallback = DefaultInterpreter
	}

	interp := opts.Interpreter
	if isPath(interp) {
		interp = resolve(opts.BaseDir, interp)
	}
	if interp == "" {
		interp = job.Interpreter
	}
	if interp == "" {
		return fallback
	}
	if isFile(interp) {
		return interp
	}
	if !isPath(interp) {
		if p, err := exec.LookPath(interp); err == nil {
			return p
		}
	}
	log.Warn("interpreter not found, using fallback", zap.String("interpreter", interp), zap.String("fallback", fallback))
	return fallback
}

// isPath distinguishes "venv/bin/python" from a bare command name.
func isPath(s string) bool {
	return strings.ContainsAny(s, `/\`)
}
