package execute

import (
	"context"
	"log/slog"
	"strings"
)

// DryRunner logs the command lines it is given and reports success without
// starting anything.
type DryRunner struct {
	Logger *slog.Logger
}

func (d DryRunner) Execute(_ context.Context, command []string) (Result, error) {
	if len(command) == 0 {
		return Result{}, &LaunchError{Err: errEmptyCommand}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry run", "command", strings.Join(command, " "))
	return Result{Success: true}, nil
}
