package runner

import (
	"context"
	"strings"
	"time"
)

// Command is a single process invocation.
type Command struct {
	Args []string
	Dir  string
	// Env is appended to the parent environment.
	Env []string
	// DryRun logs the command and reports success without starting it.
	DryRun bool
	// Step names the flow step for log context.
	Step string
}

// String renders the argument vector the way it is logged.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result captures the outcome of a command.
type Result struct {
	ExitCode int
	Lines    int
	Duration time.Duration
	Error    error // start or wait failure other than a non-zero exit
}

// Succeeded reports a zero exit with no runner error.
func (r Result) Succeeded() bool {
	return r.Error == nil && r.ExitCode == 0
}

// CommandRunner executes a command and streams its merged output.
type CommandRunner interface {
	// Run blocks until the process exits and returns its exit code.
	// A non-zero exit is not an error.
	Run(ctx context.Context, cmd Command) Result
}
