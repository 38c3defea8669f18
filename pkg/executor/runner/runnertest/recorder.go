// Package runnertest provides a CommandRunner double for tests.
package runnertest

import (
	"context"
	"sync"

	"drapo/pkg/executor/runner"
)

// Recorder records every command and answers with a scripted result.
type Recorder struct {
	mu       sync.Mutex
	commands []runner.Command

	// Respond computes the result for a command. nil means exit 0.
	Respond func(runner.Command) runner.Result
}

// ExitWith returns a recorder whose commands all exit with code.
func ExitWith(code int) *Recorder {
	return &Recorder{Respond: func(runner.Command) runner.Result {
		return runner.Result{ExitCode: code}
	}}
}

func (r *Recorder) Run(_ context.Context, c runner.Command) runner.Result {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	respond := r.Respond
	r.mu.Unlock()

	if respond == nil {
		return runner.Result{}
	}
	return respond(c)
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runner.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Calls returns how many commands were run.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}
