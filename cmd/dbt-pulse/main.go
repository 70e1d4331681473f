package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/systemstart/dbt-pulse/pkg/api"
	"github.com/systemstart/dbt-pulse/pkg/execute"
	"github.com/systemstart/dbt-pulse/pkg/logging"
	"github.com/systemstart/dbt-pulse/pkg/pipeline"
	"github.com/systemstart/dbt-pulse/pkg/project"
	"github.com/systemstart/dbt-pulse/pkg/telemetry"
	"github.com/systemstart/dbt-pulse/pkg/workflow"
)

var version = "dev"

const (
	_ = iota
	exitInvalidFlags
	exitDotenvError
	exitLoadConfigurationFileFailed
	exitLoadRunConfFailed
	exitPreflightFailed
	exitSetupFailed
	exitLaunchFailed
	exitTaskFailed
	exitRunInProgress
)

var (
	configFile    string
	baseDirectory string
	projectDir    string
	profilesDir   string
	executable    string
	action        string
	runConf       string
	runConfFile   string
	runID         string
	logicalDate   string
	dryRun        bool
	rawOutput     bool
	skipPreflight bool
	metricsFile   string
	loggingType   string
	logLevel      string
	showVersion   bool
)

func init() {
	flag.StringVar(
		&configFile,
		"config",
		"",
		"client configuration file (default <base-dir>/"+api.DefaultConfigFilename+")")
	flag.StringVar(
		&baseDirectory,
		"base-dir",
		".",
		"deployment base directory")
	flag.StringVar(
		&projectDir,
		"project-dir",
		"",
		"dbt project directory (default <base-dir>/"+api.DefaultProjectSubdir+")")
	flag.StringVar(
		&profilesDir,
		"profiles-dir",
		"",
		"dbt profiles directory (default: project directory)")
	flag.StringVar(
		&executable,
		"executable",
		api.DefaultExecutable,
		"dbt executable")
	flag.StringVar(
		&action,
		"action",
		"",
		"run a single dbt action (e.g. run, test, deps) instead of the run >> test workflow")
	flag.StringVar(
		&runConf,
		"conf",
		"",
		`run conf as JSON or YAML, e.g. '{"run": {"select": "model_a"}}'`)
	flag.StringVar(
		&runConfFile,
		"conf-file",
		"",
		"run conf file (JSON or YAML); entries of -conf override it per action")
	flag.StringVar(
		&runID,
		"run-id",
		"",
		"run identifier (default manual__<logical date>)")
	flag.StringVar(
		&logicalDate,
		"logical-date",
		"",
		"logical date of the run, RFC3339 or YYYY-MM-DD (default now)")
	flag.BoolVar(
		&dryRun,
		"dry-run",
		false,
		"log the dbt command lines without running them")
	flag.BoolVar(
		&rawOutput,
		"raw-output",
		false,
		"write dbt output lines unchanged to stdout instead of logging them")
	flag.BoolVar(
		&skipPreflight,
		"skip-preflight",
		false,
		"do not check for dbt_project.yml and profiles.yml")
	flag.StringVar(
		&metricsFile,
		"metrics-file",
		"",
		"write prometheus metrics to this textfile on exit")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := logging.Initialize(loggingType, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidFlags)
	}

	includeEnv()
	cfg := loadClientConfig()
	resolveDirectories()
	preflight()
	conf := loadRunConf()
	date := parseLogicalDate()

	metrics := telemetry.New(map[string]string{
		"client":  cfg.ClientID,
		"project": cfg.ProjectName,
		"target":  cfg.Environment,
	})

	coordinator, err := pipeline.New(pipeline.Config{
		Executable:  executable,
		ProjectDir:  projectDir,
		ProfilesDir: profilesDir,
		Target:      cfg.Environment,
		LogsTail:    cfg.LogsTail,
	}, newRunner(), metrics)
	if err != nil {
		slog.Error("failed to set up pipeline", "error", err)
		os.Exit(exitSetupFailed)
	}

	def := workflow.NewDefinition(*cfg)
	if action != "" {
		def = def.SingleAction(action)
	}
	wf := workflow.New(def, *cfg, coordinator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	report, err := wf.Trigger(ctx, workflow.RunRequest{RunID: runID, LogicalDate: date, Conf: conf})
	stop()

	writeMetrics(metrics)

	if err != nil {
		os.Exit(exitCode(err))
	}
	slog.Info("done", "workflow", report.WorkflowID, "runID", report.RunID)
}

func includeEnv() {
	err := godotenv.Load(filepath.Join(baseDirectory, ".env"))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load .env", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Info("no .env file found")
	} else {
		slog.Info("using .env file")
	}
}

func loadClientConfig() *api.ClientConfig {
	if configFile == "" {
		configFile = filepath.Join(baseDirectory, api.DefaultConfigFilename)
	}

	cfg, err := api.LoadClientConfig(configFile)
	if err != nil {
		slog.Error("failed to load client configuration", "filename", configFile, "error", err)
		os.Exit(exitLoadConfigurationFileFailed)
	}
	slog.Info("client configuration loaded",
		"client", cfg.ClientDisplayName, "project", cfg.ProjectName, "environment", cfg.Environment)
	return cfg
}

func resolveDirectories() {
	if projectDir == "" {
		projectDir = filepath.Join(baseDirectory, api.DefaultProjectSubdir)
	}
	if profilesDir == "" {
		profilesDir = projectDir
	}
}

func preflight() {
	if skipPreflight {
		return
	}

	p, err := project.Load(projectDir, profilesDir)
	if err != nil {
		slog.Error("dbt project check failed", "projectDir", projectDir, "profilesDir", profilesDir, "error", err)
		os.Exit(exitPreflightFailed)
	}

	models, err := p.Models()
	if err != nil {
		slog.Warn("could not list models", "error", err)
		return
	}
	slog.Info("dbt models found", "project", p.Name, "count", len(models))
}

func loadRunConf() api.RunConf {
	conf := make(api.RunConf)
	if runConfFile != "" {
		fromFile, err := api.LoadRunConf(runConfFile)
		if err != nil {
			slog.Error("failed to load run conf file", "filename", runConfFile, "error", err)
			os.Exit(exitLoadRunConfFailed)
		}
		conf = fromFile
	}

	if runConf != "" {
		fromFlag, err := api.ParseRunConf([]byte(runConf))
		if err != nil {
			slog.Error("failed to parse -conf", "error", err)
			os.Exit(exitLoadRunConfFailed)
		}
		conf = api.MergeRunConf(conf, fromFlag)
	}

	return conf
}

func parseLogicalDate() time.Time {
	if logicalDate == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, logicalDate); err == nil {
			return t
		}
	}
	slog.Error("-logical-date must be RFC3339 or YYYY-MM-DD", "value", logicalDate)
	os.Exit(exitInvalidFlags)
	return time.Time{}
}

func newRunner() execute.Runner {
	if dryRun {
		return execute.DryRunner{}
	}

	var sink execute.LineSink = execute.LogSink{}
	if rawOutput {
		sink = &execute.WriterSink{W: os.Stdout}
	}
	return &execute.ProcessRunner{Sink: sink}
}

func writeMetrics(metrics *telemetry.Metrics) {
	if metricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(metricsFile); err != nil {
		slog.Error("failed to write metrics", "filename", metricsFile, "error", err)
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, workflow.ErrRunInProgress):
		return exitRunInProgress
	case errors.Is(err, execute.ErrLaunch):
		return exitLaunchFailed
	default:
		return exitTaskFailed
	}
}
