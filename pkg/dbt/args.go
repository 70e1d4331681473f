package dbt

import (
	"strings"

	"github.com/systemstart/dbt-pulse/pkg/api"
)

// CommandLine is an ordered list of tokens. The first token is the executable.
type CommandLine []string

// String joins the tokens with spaces for logging. It is not shell-quoted.
func (c CommandLine) String() string {
	return strings.Join(c, " ")
}

// Action returns the dbt subcommand of the command line.
func (c CommandLine) Action() string {
	if len(c) < 2 {
		return ""
	}
	return c[1]
}

// Request describes one dbt invocation.
type Request struct {
	Command     string
	ProjectDir  string
	ProfilesDir string
	Target      string
	Overlay     api.Overlay
}

// Build returns the command line for req. It does not validate anything.
func Build(executable string, req Request) CommandLine {
	args := CommandLine{
		executable,
		req.Command,
		"--no-use-colors",
		"--profiles-dir", req.ProfilesDir,
		"--project-dir", req.ProjectDir,
		"--target", req.Target,
	}

	o := req.Overlay
	if o.Select != "" {
		args = append(args, "--select", o.Select)
	}
	if o.Exclude != "" {
		args = append(args, "--exclude", o.Exclude)
	}
	if o.FullRefresh {
		args = append(args, "--full-refresh")
	}
	if o.Vars.Len() > 0 {
		args = append(args, "--vars", o.Vars.String())
	}

	return args
}
