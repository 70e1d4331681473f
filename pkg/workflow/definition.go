package workflow

import (
	"time"

	"github.com/systemstart/dbt-pulse/pkg/api"
)

// Task is one unit of the workflow chain. It runs the dbt pipeline for Action.
type Task struct {
	ID     string
	Action string
}

// Definition describes the scheduled workflow of one client deployment.
type Definition struct {
	ID            string
	Description   string
	Schedule      string
	StartDate     time.Time
	Catchup       bool
	MaxActiveRuns int
	Owner         string
	Tags          []string
	// Tasks run in order; a task only runs when every task before it succeeded.
	Tasks []Task
}

// NewDefinition builds the run >> test workflow labelled from the client configuration.
func NewDefinition(cfg api.ClientConfig) Definition {
	return Definition{
		ID:            cfg.ProjectName,
		Description:   "dbt DAG for " + cfg.ClientDisplayName,
		Schedule:      cfg.ScheduleInterval,
		StartDate:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Catchup:       false,
		MaxActiveRuns: 1,
		Owner:         cfg.ClientDisplayName,
		Tags:          []string{"pulse", cfg.ClientDisplayName, cfg.ClientID},
		Tasks: []Task{
			{ID: api.TaskID(api.ActionRun), Action: api.ActionRun},
			{ID: api.TaskID(api.ActionTest), Action: api.ActionTest},
		},
	}
}

// SingleAction returns a copy of d whose chain is the one task for action.
func (d Definition) SingleAction(action string) Definition {
	d.Tasks = []Task{{ID: api.TaskID(action), Action: action}}
	return d
}
