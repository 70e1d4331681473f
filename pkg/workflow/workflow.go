package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/systemstart/dbt-pulse/pkg/api"
	"github.com/systemstart/dbt-pulse/pkg/pipeline"
)

// ErrRunInProgress is returned when a run is triggered while another one is active.
var ErrRunInProgress = errors.New("a workflow run is already in progress")

// Pipeline runs one dbt action, including its dependency preparation.
type Pipeline interface {
	Run(ctx context.Context, command string, overlay api.Overlay) (pipeline.Outcome, error)
}

// TaskState is the terminal state of a task within a run.
type TaskState string

const (
	TaskSuccess        TaskState = "success"
	TaskFailed         TaskState = "failed"
	TaskUpstreamFailed TaskState = "upstream_failed"
)

// TaskError is the hard failure of a task. Err is set when the task could
// not produce an outcome at all (template or launch errors).
type TaskError struct {
	TaskID  string
	Action  string
	Outcome pipeline.Outcome
	Err     error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dbt %s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("dbt %s failed (stage %s)", e.Action, e.Outcome.FailedStage)
}

func (e *TaskError) Unwrap() error { return e.Err }

// RunRequest is one triggered run.
type RunRequest struct {
	RunID       string
	LogicalDate time.Time
	Conf        api.RunConf
}

// TaskReport is the result of one task of a run.
type TaskReport struct {
	TaskID  string
	Action  string
	State   TaskState
	Outcome pipeline.Outcome
}

// Report summarises a run.
type Report struct {
	WorkflowID string
	RunID      string
	Success    bool
	Tasks      []TaskReport
}

// Workflow executes the task chain of a Definition against a Pipeline.
type Workflow struct {
	def      Definition
	client   api.ClientConfig
	pipeline Pipeline
	active   atomic.Int32
}

// New returns a workflow for def. client provides the template data of each run.
func New(def Definition, client api.ClientConfig, p Pipeline) *Workflow {
	return &Workflow{def: def, client: client, pipeline: p}
}

// Definition returns the workflow definition.
func (w *Workflow) Definition() Definition { return w.def }

// Trigger runs every task in order. The first failed task stops the chain:
// the remaining tasks are reported as upstream_failed and the returned error
// is that task's *TaskError.
func (w *Workflow) Trigger(ctx context.Context, req RunRequest) (*Report, error) {
	maxActive := int32(max(w.def.MaxActiveRuns, 1))
	if w.active.Add(1) > maxActive {
		w.active.Add(-1)
		return nil, ErrRunInProgress
	}
	defer w.active.Add(-1)

	if req.LogicalDate.IsZero() {
		req.LogicalDate = time.Now().UTC()
	}
	if req.RunID == "" {
		req.RunID = "manual__" + req.LogicalDate.Format(time.RFC3339)
	}

	slog.Info("workflow run started", "workflow", w.def.ID, "runID", req.RunID, "tasks", len(w.def.Tasks))

	report := &Report{WorkflowID: w.def.ID, RunID: req.RunID, Success: true}
	data := w.templateData(req)

	var failure error
	for _, task := range w.def.Tasks {
		tr := TaskReport{TaskID: task.ID, Action: task.Action}
		if failure != nil {
			tr.State = TaskUpstreamFailed
			slog.Warn("skipping task, upstream failed", "task", task.ID)
			report.Tasks = append(report.Tasks, tr)
			continue
		}

		outcome, err := w.runTask(ctx, task, req.Conf, data)
		tr.Outcome = outcome
		if err != nil {
			tr.State = TaskFailed
			failure = err
			report.Success = false
			slog.Error("task failed", "task", task.ID, "error", err)
		} else {
			tr.State = TaskSuccess
			slog.Info("task succeeded", "task", task.ID)
		}
		report.Tasks = append(report.Tasks, tr)
	}

	slog.Info("workflow run finished", "workflow", w.def.ID, "runID", req.RunID, "success", report.Success)
	return report, failure
}

func (w *Workflow) runTask(ctx context.Context, task Task, conf api.RunConf, data map[string]any) (pipeline.Outcome, error) {
	overlay, err := renderOverlay(conf.For(task.Action), data)
	if err != nil {
		return pipeline.Outcome{}, &TaskError{TaskID: task.ID, Action: task.Action, Err: err}
	}

	slog.Info("running task", "task", task.ID, "action", task.Action,
		"select", overlay.Select, "exclude", overlay.Exclude,
		"fullRefresh", overlay.FullRefresh, "vars", overlay.Vars.String())

	outcome, err := w.pipeline.Run(ctx, task.Action, overlay)
	if err != nil {
		return outcome, &TaskError{TaskID: task.ID, Action: task.Action, Outcome: outcome, Err: err}
	}
	if !outcome.Success {
		return outcome, &TaskError{TaskID: task.ID, Action: task.Action, Outcome: outcome}
	}
	return outcome, nil
}

func (w *Workflow) templateData(req RunRequest) map[string]any {
	return map[string]any{
		"ds":                   req.LogicalDate.Format(time.DateOnly),
		"ds_nodash":            req.LogicalDate.Format("20060102"),
		"ts":                   req.LogicalDate.Format(time.RFC3339),
		"run_id":               req.RunID,
		"dag_id":               w.def.ID,
		"target":               w.client.Environment,
		"client_name":          w.client.ClientName,
		"client_display_name":  w.client.ClientDisplayName,
		"client_id":            w.client.ClientID,
		"project_id":           w.client.ProjectID,
		"presentation_dataset": w.client.PresentationDatasetName(),
	}
}
