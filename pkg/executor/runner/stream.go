package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"drapo/pkg/logger"
)

// DefaultDrainDelay is how long output is still read after the child exits.
// Descendants that inherited the pipe are not waited for beyond it.
const DefaultDrainDelay = 250 * time.Millisecond

// StreamRunner runs commands with stdout and stderr merged into one pipe and
// logs every line as soon as it is read.
type StreamRunner struct {
	log *zap.Logger

	// DrainDelay overrides DefaultDrainDelay when positive.
	DrainDelay time.Duration
}

// NewStreamRunner creates a runner that logs through log, or through the
// logger attached to the call context when there is one.
func NewStreamRunner(log *zap.Logger) *StreamRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamRunner{log: log.Named("runner")}
}

func (s *StreamRunner) Run(ctx context.Context, c Command) Result {
	log := logger.FromContext(ctx, s.log)
	if c.Step != "" {
		log = log.With(zap.String("step", c.Step))
	}
	start := time.Now()

	log.Info(">>> RUN >>> : "+c.String(), zap.String("dir", c.Dir))

	if c.DryRun {
		log.Info("[DRY RUN] command: " + c.String())
		return Result{ExitCode: 0, Duration: time.Since(start)}
	}
	if len(c.Args) == 0 {
		return Result{ExitCode: -1, Error: errors.New("empty command")}
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	isolate(cmd)

	out, w, err := os.Pipe()
	if err != nil {
		return Result{ExitCode: -1, Duration: time.Since(start), Error: fmt.Errorf("output pipe: %w", err)}
	}
	defer out.Close()
	// Same *os.File for both streams keeps their lines interleaved in order.
	cmd.Stdout = w
	cmd.Stderr = w

	err = cmd.Start()
	w.Close()
	if err != nil {
		log.Error("failed to start command", zap.String("command", c.String()), zap.Error(err))
		return Result{ExitCode: -1, Duration: time.Since(start), Error: fmt.Errorf("start %s: %w", c.Args[0], err)}
	}

	counted := make(chan int, 1)
	go func() { counted <- stream(out, func(line string) { log.Info(line) }) }()

	err = cmd.Wait()
	// A background process may still hold the write end; stop reading once
	// what the child left in the pipe has been drained.
	_ = out.SetReadDeadline(time.Now().Add(s.drainDelay()))
	lines := <-counted

	res := Result{Lines: lines, Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Error = err
		}
	}
	if ctx.Err() != nil && res.ExitCode == 0 {
		res.ExitCode = -1
		res.Error = ctx.Err()
	}
	return res
}

func (s *StreamRunner) drainDelay() time.Duration {
	if s.DrainDelay > 0 {
		return s.DrainDelay
	}
	return DefaultDrainDelay
}

// stream forwards each line of r to emit and returns the line count. Lines
// of any length are delivered whole.
func stream(r io.Reader, emit func(string)) int {
	br := bufio.NewReader(r)
	n := 0
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			emit(strings.TrimRight(line, "\r\n"))
			n++
		}
		if err != nil {
			return n
		}
	}
}
