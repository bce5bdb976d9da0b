package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"ivquant/internal"
	"ivquant/internal/errors"
)

// NoopSink discards all telemetry.
type NoopSink struct{}

func (NoopSink) RunStarted(string, map[string]interface{}) {}
func (NoopSink) Metric(string, string, int, float64)       {}
func (NoopSink) RunFinished(string)                        {}

// LogSink writes telemetry to the application logger at info level.
type LogSink struct {
	log *internal.Logger
}

func NewLogSink(log *internal.Logger) *LogSink {
	if log == nil {
		log = internal.DefaultLogger.Named("telemetry")
	}
	return &LogSink{log: log}
}

func (s *LogSink) RunStarted(runID string, params map[string]interface{}) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.log.Info("run %s param %s=%v", runID, k, params[k])
	}
}

func (s *LogSink) Metric(runID, name string, step int, value float64) {
	s.log.Info("run %s %s step=%d value=%.6f", runID, name, step, value)
}

func (s *LogSink) RunFinished(runID string) {
	s.log.Info("run %s finished", runID)
}

// FileSink appends metrics to a CSV history file in the run directory,
// one row per reported value. Safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	w    *csv.Writer
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating telemetry dir %s", dir)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) RunStarted(runID string, params map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Create(filepath.Join(s.dir, "metrics_"+runID+".csv"))
	if err != nil {
		internal.DefaultLogger.Warn("telemetry file: %v", err)
		return
	}
	s.file = f
	s.w = csv.NewWriter(f)
	s.w.Write([]string{"name", "step", "value"})

	pf, err := os.Create(filepath.Join(s.dir, "params_"+runID+".csv"))
	if err != nil {
		internal.DefaultLogger.Warn("telemetry file: %v", err)
		return
	}
	defer pf.Close()
	pw := csv.NewWriter(pf)
	pw.Write([]string{"name", "value"})
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pw.Write([]string{k, fmt.Sprintf("%v", params[k])})
	}
	pw.Flush()
}

func (s *FileSink) Metric(runID, name string, step int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return
	}
	s.w.Write([]string{name, strconv.Itoa(step), strconv.FormatFloat(value, 'g', -1, 64)})
}

func (s *FileSink) RunFinished(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.w.Flush()
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
		s.w = nil
	}
}
