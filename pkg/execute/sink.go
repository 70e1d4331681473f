package execute

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// LineSink receives process output one line at a time, as it is produced.
type LineSink interface {
	Line(line string)
}

// LineSinkFunc adapts a function to LineSink.
type LineSinkFunc func(line string)

func (f LineSinkFunc) Line(line string) { f(line) }

// LogSink emits every line as a structured log record.
type LogSink struct {
	Logger *slog.Logger
	Attrs  []any
}

func (s LogSink) Line(line string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dbt output", append(slices.Clip(s.Attrs), "line", line)...)
}

// WriterSink writes every line, newline terminated, to an io.Writer.
// It is safe for concurrent use.
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

func (s *WriterSink) Line(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.W, line)
}

type discardSink struct{}

func (discardSink) Line(string) {}
