package workflow

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/systemstart/dbt-pulse/pkg/api"
	"github.com/systemstart/dbt-pulse/pkg/execute"
	"github.com/systemstart/dbt-pulse/pkg/pipeline"
)

type pipelineCall struct {
	command string
	overlay api.Overlay
}

// fakePipeline records runs and fails the actions listed in fail.
type fakePipeline struct {
	calls []pipelineCall
	fail  map[string]pipeline.Stage
	errs  map[string]error
	block chan struct{}
}

func (f *fakePipeline) Run(_ context.Context, command string, overlay api.Overlay) (pipeline.Outcome, error) {
	f.calls = append(f.calls, pipelineCall{command: command, overlay: overlay})
	if f.block != nil {
		<-f.block
	}
	if err := f.errs[command]; err != nil {
		return pipeline.Outcome{FailedStage: pipeline.StageDeps}, err
	}
	if stage, ok := f.fail[command]; ok {
		return pipeline.Outcome{FailedStage: stage}, nil
	}
	return pipeline.Outcome{Success: true, State: pipeline.StateDone}, nil
}

func (f *fakePipeline) commands() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.command)
	}
	return out
}

func testClient() api.ClientConfig {
	return api.ClientConfig{
		ClientName:        "acme",
		ClientDisplayName: "Acme Corp",
		ClientID:          "c-42",
		ProjectName:       "acme_pulse",
		ScheduleInterval:  "@daily",
		Environment:       "prod",
		ProjectID:         "warehouse",
	}
}

func newWorkflow(p Pipeline) *Workflow {
	client := testClient()
	return New(NewDefinition(client), client, p)
}

func TestNewDefinition(t *testing.T) {
	def := NewDefinition(testClient())
	if def.ID != "acme_pulse" || def.Description != "dbt DAG for Acme Corp" || def.Owner != "Acme Corp" {
		t.Errorf("unexpected labels %+v", def)
	}
	if def.Schedule != "@daily" || def.MaxActiveRuns != 1 || def.Catchup {
		t.Errorf("unexpected scheduling %+v", def)
	}
	if !slices.Equal(def.Tags, []string{"pulse", "Acme Corp", "c-42"}) {
		t.Errorf("unexpected tags %v", def.Tags)
	}
	want := []Task{{ID: "dbt_run", Action: "run"}, {ID: "dbt_test", Action: "test"}}
	if !slices.Equal(def.Tasks, want) {
		t.Errorf("expected %v, got %v", want, def.Tasks)
	}

	single := def.SingleAction("seed")
	if !slices.Equal(single.Tasks, []Task{{ID: "dbt_seed", Action: "seed"}}) {
		t.Errorf("unexpected single action tasks %v", single.Tasks)
	}
	if len(def.Tasks) != 2 {
		t.Error("SingleAction must not modify the original definition")
	}
}

func TestTrigger_RunThenTest(t *testing.T) {
	p := &fakePipeline{}
	w := newWorkflow(p)

	conf, err := api.ParseRunConf([]byte(`{"run": {"select": "model_a"}, "dbt_test": {"exclude": "tag:slow"}}`))
	if err != nil {
		t.Fatal(err)
	}

	report, err := w.Trigger(context.Background(), RunRequest{RunID: "r1", Conf: conf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Success || report.RunID != "r1" || report.WorkflowID != "acme_pulse" {
		t.Errorf("unexpected report %+v", report)
	}
	if got := p.commands(); !slices.Equal(got, []string{"run", "test"}) {
		t.Fatalf("expected run then test, got %v", got)
	}
	if p.calls[0].overlay.Select != "model_a" || p.calls[1].overlay.Exclude != "tag:slow" {
		t.Errorf("overlays not routed per action: %+v", p.calls)
	}
	for _, tr := range report.Tasks {
		if tr.State != TaskSuccess {
			t.Errorf("task %s: expected success, got %s", tr.TaskID, tr.State)
		}
	}
}

func TestTrigger_FailureHaltsChain(t *testing.T) {
	p := &fakePipeline{fail: map[string]pipeline.Stage{"run": pipeline.StageAction}}
	w := newWorkflow(p)

	report, err := w.Trigger(context.Background(), RunRequest{})
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("expected *TaskError, got %v", err)
	}
	if taskErr.TaskID != "dbt_run" || taskErr.Outcome.FailedStage != pipeline.StageAction {
		t.Errorf("unexpected task error %+v", taskErr)
	}
	if !strings.Contains(err.Error(), "dbt run failed") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if got := p.commands(); !slices.Equal(got, []string{"run"}) {
		t.Errorf("test must not run after run failed, got %v", got)
	}
	if report.Success {
		t.Error("expected failed report")
	}
	states := []TaskState{report.Tasks[0].State, report.Tasks[1].State}
	if !slices.Equal(states, []TaskState{TaskFailed, TaskUpstreamFailed}) {
		t.Errorf("unexpected task states %v", states)
	}
	if !strings.HasPrefix(report.RunID, "manual__") {
		t.Errorf("expected generated run id, got %q", report.RunID)
	}
}

func TestTrigger_LaunchErrorPropagates(t *testing.T) {
	launch := &execute.LaunchError{Command: []string{"dbt"}, Err: errors.New("permission denied")}
	p := &fakePipeline{errs: map[string]error{"run": launch}}
	w := newWorkflow(p)

	_, err := w.Trigger(context.Background(), RunRequest{})
	if !errors.Is(err, execute.ErrLaunch) {
		t.Fatalf("expected launch error in chain, got %v", err)
	}
}

func TestTrigger_RendersTemplates(t *testing.T) {
	p := &fakePipeline{}
	w := New(NewDefinition(testClient()).SingleAction("run"), testClient(), p)

	conf, err := api.ParseRunConf([]byte(`
run:
  select: "tag:{{ .client_name }}"
  vars:
    start: "{{ .ds }}"
    dataset: "{{ .presentation_dataset | upper }}"
    n: 3
`))
	if err != nil {
		t.Fatal(err)
	}

	date := time.Date(2025, time.March, 7, 5, 0, 0, 0, time.UTC)
	if _, err := w.Trigger(context.Background(), RunRequest{LogicalDate: date, Conf: conf}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := p.calls[0].overlay
	if got.Select != "tag:acme" {
		t.Errorf("unexpected select %q", got.Select)
	}
	if vars := got.Vars.String(); vars != `{"start":"2025-03-07","dataset":"ACME_PULSE_PRESENTATION","n":3}` {
		t.Errorf("unexpected vars %s", vars)
	}
}

func TestTrigger_TemplateErrorFailsTask(t *testing.T) {
	p := &fakePipeline{}
	w := newWorkflow(p)

	conf := api.RunConf{"run": {Select: "{{ .unknown_key }}"}}
	_, err := w.Trigger(context.Background(), RunRequest{Conf: conf})
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Err == nil {
		t.Fatalf("expected task error with cause, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("pipeline must not run with a broken template, got %v", p.commands())
	}
}

func TestTrigger_SingleActiveRun(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{})}
	w := New(NewDefinition(testClient()).SingleAction("run"), testClient(), p)

	done := make(chan error, 1)
	go func() {
		_, err := w.Trigger(context.Background(), RunRequest{})
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for w.active.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := w.Trigger(context.Background(), RunRequest{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}

	close(p.block)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.Trigger(context.Background(), RunRequest{}); err != nil {
		t.Errorf("expected a new run after the first finished, got %v", err)
	}
}

func TestRenderOverlay_NoTemplates(t *testing.T) {
	o := api.Overlay{Select: "a b", Exclude: "c", FullRefresh: true}
	if err := o.Vars.Set("k", map[string]any{"nested": "{{ not rendered }}"}); err != nil {
		t.Fatal(err)
	}
	got, err := renderOverlay(o, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Select != "a b" || got.Exclude != "c" || !got.FullRefresh {
		t.Errorf("unexpected overlay %+v", got)
	}
	if got.Vars.String() != o.Vars.String() {
		t.Errorf("expected vars unchanged, got %s", got.Vars.String())
	}
}
