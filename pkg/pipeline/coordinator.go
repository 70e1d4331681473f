package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/systemstart/dbt-pulse/pkg/api"
	"github.com/systemstart/dbt-pulse/pkg/dbt"
	"github.com/systemstart/dbt-pulse/pkg/execute"
	"github.com/systemstart/dbt-pulse/pkg/telemetry"
)

var ErrTargetRequired = errors.New("target is required")

// Config is the fixed environment every pipeline run of a deployment uses.
type Config struct {
	Executable  string
	ProjectDir  string
	ProfilesDir string
	Target      string
	// LogsTail is the number of output lines kept in a failed outcome.
	LogsTail int
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	Success     bool
	FailedStage Stage
	State       State
	Canceled    bool
	// Tail holds the last output lines of the failed stage.
	Tail []string
}

// Coordinator runs dbt deps followed by the requested action.
type Coordinator struct {
	cfg     Config
	runner  execute.Runner
	metrics *telemetry.Metrics
}

// New validates cfg and returns a coordinator. A nil metrics is allowed.
func New(cfg Config, runner execute.Runner, metrics *telemetry.Metrics) (*Coordinator, error) {
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, ErrTargetRequired
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Executable == "" {
		cfg.Executable = api.DefaultExecutable
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = cfg.ProjectDir
	}
	if cfg.LogsTail <= 0 {
		cfg.LogsTail = api.DefaultLogsTail
	}
	return &Coordinator{cfg: cfg, runner: runner, metrics: metrics}, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// run tracks the state of a single pipeline run.
type run struct {
	action string
	state  State
}

func (r *run) moveTo(next State) {
	if !r.state.canMoveTo(next) {
		slog.Error("invalid pipeline state transition", "action", r.action, "from", r.state, "to", next)
	}
	slog.Debug("pipeline state", "action", r.action, "from", r.state, "to", next)
	r.state = next
}

// Run executes the pipeline for command. Unless command is deps itself,
// dbt deps runs first without the overlay; if it fails the action is not
// attempted. The returned error is non-nil only when a process could not be
// started.
func (c *Coordinator) Run(ctx context.Context, command string, overlay api.Overlay) (Outcome, error) {
	r := &run{action: command, state: StateStart}
	if len(overlay.Ignored) > 0 {
		slog.Warn("ignoring unknown overlay keys", "action", command, "keys", overlay.Ignored)
	}

	if command != api.ActionDeps {
		r.moveTo(StatePreparing)
		slog.Info("installing dbt dependencies", "action", command)

		res, err := c.invoke(ctx, api.ActionDeps, api.Overlay{})
		if err != nil {
			r.moveTo(StatePrepareFailed)
			return c.finish(r, Outcome{FailedStage: StageDeps, State: r.state}, fmt.Errorf("deps stage: %w", err))
		}
		if !res.Success {
			r.moveTo(StatePrepareFailed)
			slog.Error("failed to install dbt dependencies", "action", command, "exitCode", res.ExitCode, "canceled", res.Canceled)
			return c.finish(r, c.failed(StageDeps, r.state, res), nil)
		}
	}

	r.moveTo(StateActionRunning)
	res, err := c.invoke(ctx, command, overlay)
	if err != nil {
		r.moveTo(StateActionFailed)
		return c.finish(r, Outcome{FailedStage: StageAction, State: r.state}, fmt.Errorf("%s stage: %w", command, err))
	}
	if !res.Success {
		r.moveTo(StateActionFailed)
		slog.Error("dbt command failed", "action", command, "exitCode", res.ExitCode, "canceled", res.Canceled)
		return c.finish(r, c.failed(StageAction, r.state, res), nil)
	}

	r.moveTo(StateDone)
	return c.finish(r, Outcome{Success: true, State: r.state}, nil)
}

func (c *Coordinator) invoke(ctx context.Context, command string, overlay api.Overlay) (execute.Result, error) {
	cmd := dbt.Build(c.cfg.Executable, dbt.Request{
		Command:     command,
		ProjectDir:  c.cfg.ProjectDir,
		ProfilesDir: c.cfg.ProfilesDir,
		Target:      c.cfg.Target,
		Overlay:     overlay,
	})

	res, err := c.runner.Execute(ctx, cmd)
	if err != nil {
		return res, err
	}
	c.metrics.ObserveInvocation(command, res.Success, res.Duration)
	return res, nil
}

func (c *Coordinator) failed(stage Stage, state State, res execute.Result) Outcome {
	tail := res.Tail(c.cfg.LogsTail)
	if len(tail) > 0 {
		slog.Error("last output lines", "stage", string(stage), "lines", strings.Join(tail, "\n"))
	}
	return Outcome{
		FailedStage: stage,
		State:       state,
		Canceled:    res.Canceled,
		Tail:        tail,
	}
}

func (c *Coordinator) finish(r *run, o Outcome, err error) (Outcome, error) {
	c.metrics.ObservePipeline(r.action, string(o.FailedStage), time.Now())
	if err != nil {
		slog.Error("pipeline aborted", "action", r.action, "state", r.state, "error", err)
		return o, err
	}
	slog.Info("pipeline finished", "action", r.action, "state", r.state, "success", o.Success)
	return o, nil
}
