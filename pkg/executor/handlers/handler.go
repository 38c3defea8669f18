// Package handlers executes the typed jobs that make up a flow.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"drapo/pkg/executor/runner"
	"drapo/pkg/models"
)

// ErrHandlerNotFound is returned when no handler serves a job type.
var ErrHandlerNotFound = errors.New("handler not found")

// Handler executes one job and reports a tagged outcome. Handlers never
// terminate the process; the caller decides what a fatal outcome means.
type Handler interface {
	Type() models.JobType
	Execute(ctx context.Context, job models.Job, opts models.RunOptions) models.Outcome
}

// Registry maps job types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.JobType]Handler)}
}

// DefaultRegistry registers every built-in handler on top of r.
func DefaultRegistry(r runner.CommandRunner, log *zap.Logger) *Registry {
	reg := NewRegistry()
	reg.Register(NewScriptHandler(r, log))
	reg.Register(NewDataBuildHandler(r, log))
	reg.Register(NewRepoSyncHandler(r, log))
	reg.Register(NewDependencyInstallHandler(r, log))
	return reg
}

// Register adds h, replacing any handler for the same type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

func (r *Registry) Get(t models.JobType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, t)
	}
	return h, nil
}

// Types lists registered job types in lexical order.
func (r *Registry) Types() []models.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func platform(opts models.RunOptions) string {
	if opts.GOOS != "" {
		return opts.GOOS
	}
	return runtime.GOOS
}

// resolve makes p absolute against base unless it already is.
func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// invalid builds an outcome for a precondition that failed before any
// process was started.
func invalid(format string, args ...any) models.Outcome {
	err := fmt.Errorf(format, args...)
	return models.Outcome{Status: models.OutcomeInvalidInput, ExitCode: -1, Err: err, Detail: err.Error()}
}

// fromResult maps a runner result to succeeded or failed.
func fromResult(res runner.Result) models.Outcome {
	if res.Error != nil {
		return models.Outcome{Status: models.OutcomeFailed, ExitCode: res.ExitCode, Duration: res.Duration, Err: res.Error, Detail: res.Error.Error()}
	}
	return models.FromExitCode(res.ExitCode, res.Duration)
}
