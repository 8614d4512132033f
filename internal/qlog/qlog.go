// Package qlog writes per-query trace files. Each client-originated
// recursive query gets log-<client id>.txt in the trace directory,
// created on demand and appended to; stale trace files are removed at
// startup. Appends are serialised through a single-worker pool so the
// resolver loop never blocks on disk.
package qlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmhodges/clock"

	"github.com/labdns/labdnsd/internal/worker"
)

const timeLayout = "15:04:05.000"

// Sink owns the trace directory.
type Sink struct {
	dir    string
	clk    clock.Clock
	pool   *worker.Pool
	logger *slog.Logger

	// touched only from the pool's single worker and from Close
	// after the pool has drained
	files map[uint16]*os.File
}

// NewSink prepares the trace directory, removing log-*.txt leftovers
// from previous runs.
func NewSink(dir string, clk clock.Clock, logger *slog.Logger) (*Sink, error) {
	stale, err := filepath.Glob(filepath.Join(dir, "log-*.txt"))
	if err != nil {
		return nil, fmt.Errorf("scan trace dir %s: %w", dir, err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale trace %s: %w", path, err)
		}
	}

	s := &Sink{
		dir:    dir,
		clk:    clk,
		logger: logger,
		files:  make(map[uint16]*os.File),
	}
	s.pool = worker.NewPool(worker.Config{
		Workers:   1, // FIFO: trace lines must land in event order
		QueueSize: 1024,
		PanicHandler: func(r interface{}) {
			logger.Error("trace writer panic", "panic", r)
		},
	})
	return s, nil
}

// Printf appends one line to the query's trace file. The timestamp is
// taken now, at event time, not when the line reaches disk.
func (s *Sink) Printf(id uint16, format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s\n", s.clk.Now().Format(timeLayout), fmt.Sprintf(format, args...))
	err := s.pool.Submit(func() {
		f, err := s.file(id)
		if err != nil {
			s.logger.Error("open trace file", "id", id, "error", err)
			return
		}
		if _, err := f.WriteString(line); err != nil {
			s.logger.Error("append trace", "id", id, "error", err)
		}
	})
	if err != nil {
		s.logger.Warn("trace line dropped", "id", id, "error", err)
	}
}

// EndQuery closes the query's trace file. Later lines for the same id
// reopen it in append mode.
func (s *Sink) EndQuery(id uint16) {
	if err := s.pool.Submit(func() {
		if f, ok := s.files[id]; ok {
			f.Close()
			delete(s.files, id)
		}
	}); err != nil {
		s.logger.Warn("trace close dropped", "id", id, "error", err)
	}
}

func (s *Sink) file(id uint16) (*os.File, error) {
	if f, ok := s.files[id]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("log-%d.txt", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[id] = f
	return f, nil
}

// Close drains pending lines and closes every open trace file.
func (s *Sink) Close() {
	s.pool.Close()
	for _, f := range s.files {
		f.Close()
	}
	s.files = map[uint16]*os.File{}
}
