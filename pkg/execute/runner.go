package execute

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrLaunch matches every LaunchError via errors.Is.
var ErrLaunch = errors.New("process could not be started")

var errEmptyCommand = errors.New("empty command line")

// LaunchError reports that a process could not be started at all, as
// opposed to a process that ran and exited unsuccessfully.
type LaunchError struct {
	Command []string
	Err     error
}

func (e *LaunchError) Error() string {
	name := "<none>"
	if len(e.Command) > 0 {
		name = e.Command[0]
	}
	return fmt.Sprintf("launching %s: %v", name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// Result is the outcome of a process that was started.
type Result struct {
	// Success is true only for exit code 0.
	Success bool
	// Lines holds the merged stdout/stderr output, terminators stripped.
	Lines []string

	ExitCode int
	Signaled bool
	Canceled bool
	Duration time.Duration
}

// Tail returns at most the last n output lines.
func (r Result) Tail(n int) []string {
	if n <= 0 || len(r.Lines) <= n {
		return r.Lines
	}
	return r.Lines[len(r.Lines)-n:]
}

// Runner executes a command line and blocks until it has finished.
type Runner interface {
	Execute(ctx context.Context, command []string) (Result, error)
}

// ProcessRunner runs commands as child processes.
type ProcessRunner struct {
	// Sink receives each output line before the process exits. Nil discards.
	Sink LineSink
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env replaces the environment when non-nil.
	Env []string
}

// Execute starts command[0] with the remaining tokens as arguments. Output
// of stdout and stderr is read from a single pipe, so the relative order of
// the two streams is kept. When ctx is done the child is killed and the
// result is reported as canceled.
func (r *ProcessRunner) Execute(ctx context.Context, command []string) (Result, error) {
	if len(command) == 0 {
		return Result{}, &LaunchError{Err: errEmptyCommand}
	}

	if ctx.Err() != nil {
		return Result{ExitCode: -1, Canceled: true}, nil
	}

	sink := r.Sink
	if sink == nil {
		sink = discardSink{}
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return Result{}, &LaunchError{Command: command, Err: fmt.Errorf("creating output pipe: %w", err)}
	}
	defer func() { _ = pr.Close() }()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	cmd.Stdout = pw
	cmd.Stderr = pw

	slog.Info("executing", "command", strings.Join(command, " "))

	start := time.Now()
	err = cmd.Start()
	// The child owns its copy of the write end now.
	_ = pw.Close()
	if err != nil {
		return Result{}, &LaunchError{Command: command, Err: err}
	}

	// Grandchildren may keep the write end open after the child is killed,
	// so closing the read end is what unblocks the loop on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = pr.Close() })
	lines, readErr := readLines(pr, sink)
	stop()

	waitErr := cmd.Wait()
	result := Result{
		Lines:    lines,
		Duration: time.Since(start),
		Canceled: ctx.Err() != nil,
	}

	if readErr != nil && !result.Canceled {
		slog.Warn("reading process output failed", "command", command[0], "error", readErr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.Success = true
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		result.Signaled = result.ExitCode == -1
	default:
		result.ExitCode = -1
		if !result.Canceled {
			slog.Warn("waiting for process failed", "command", command[0], "error", waitErr)
		}
	}

	return result, nil
}

// readLines forwards every line to sink and collects it. A final line
// without terminator is kept.
func readLines(r io.Reader, sink LineSink) ([]string, error) {
	var lines []string
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			sink.Line(line)
			lines = append(lines, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return lines, nil
			}
			return lines, err
		}
	}
}
