package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// New builds a logger writing to w with the given handler type and level name.
func New(w io.Writer, loggingType string, logLevelName string) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(logLevelName)); err != nil {
		return nil, fmt.Errorf("could not parse log level: %v", err)
	}

	opts := slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	}

	var handler slog.Handler
	switch loggingType {
	case JSON:
		handler = slog.NewJSONHandler(w, &opts)
	case Text:
		handler = slog.NewTextHandler(w, &opts)
	case Tint:
		handler = tint.NewHandler(w, &tint.Options{
			AddSource: opts.AddSource,
			Level:     opts.Level,
			NoColor:   !isTerminal(w),
		})
	default:
		return nil, fmt.Errorf("unknown logging type: %s", loggingType)
	}

	return slog.New(handler), nil
}

// Initialize installs a stdout logger as the slog default.
func Initialize(loggingType string, logLevelName string) error {
	logger, err := New(os.Stdout, loggingType, logLevelName)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	slog.Debug("logging initialized", "type", loggingType, "logLevel", logLevelName)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
