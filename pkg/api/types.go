package api

import "maps"

const (
	DefaultExecutable     = "dbt"
	DefaultConfigFilename = "dag_config.json"
	DefaultProjectSubdir  = "dbt"

	DefaultEnvironment        = "dev"
	DefaultProjectID          = "solutionsdw"
	DefaultDashboardTopicName = "dev-edm-insights-dashboards-topic"
	DefaultLogsTail           = 50

	ActionDeps = "deps"
	ActionRun  = "run"
	ActionTest = "test"

	OverlaySelect           = "select"
	OverlayExclude          = "exclude"
	OverlayFullRefresh      = "fullRefresh"
	OverlayFullRefreshAlias = "full_refresh"
	OverlayVars             = "vars"

	taskIDPrefix = "dbt_"
)

// ClientConfig is the static configuration of one client deployment.
// It is loaded once at startup and never mutated afterwards.
type ClientConfig struct {
	ClientName         string `koanf:"client_name"`
	ClientDisplayName  string `koanf:"client_display_name"`
	ClientID           string `koanf:"client_id"`
	ProjectName        string `koanf:"project_name"`
	ScheduleInterval   string `koanf:"schedule_interval"`
	Environment        string `koanf:"environment"`
	ProjectID          string `koanf:"bq_project_id"`
	DashboardTopicName string `koanf:"dashboard_topic_name"`
	LogsTail           int    `koanf:"logs_tail"`
}

// PresentationDatasetName is the warehouse dataset holding the client's presentation models.
func (c ClientConfig) PresentationDatasetName() string {
	return c.ProjectName + "_presentation"
}

func (c *ClientConfig) applyDefaults() {
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.ProjectID == "" {
		c.ProjectID = DefaultProjectID
	}
	if c.DashboardTopicName == "" {
		c.DashboardTopicName = DefaultDashboardTopicName
	}
	if c.LogsTail <= 0 {
		c.LogsTail = DefaultLogsTail
	}
}

// Overlay holds the optional per-invocation parameters of a dbt action.
type Overlay struct {
	Select      string
	Exclude     string
	FullRefresh bool
	Vars        Vars

	// Ignored lists the keys that were present but are not recognized.
	Ignored []string `yaml:"-"`
}

// IsZero reports whether the overlay changes nothing on the command line.
func (o Overlay) IsZero() bool {
	return o.Select == "" && o.Exclude == "" && !o.FullRefresh && o.Vars.Len() == 0
}

// RunConf maps an action (or its task id, e.g. "dbt_run") to the overlay for that action.
type RunConf map[string]Overlay

// TaskID returns the workflow task id for an action.
func TaskID(action string) string {
	return taskIDPrefix + action
}

// For returns the overlay for action. Missing entries yield an empty overlay.
func (c RunConf) For(action string) Overlay {
	if o, ok := c[action]; ok {
		return o
	}
	if o, ok := c[TaskID(action)]; ok {
		return o
	}
	return Overlay{}
}

// MergeRunConf performs a shallow merge of override over base.
// Entries of override replace whole entries of base.
func MergeRunConf(base, override RunConf) RunConf {
	merged := make(RunConf, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)
	return merged
}
