package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func TestNoopSinkIsSafe(t *testing.T) {
	var s NoopSink
	s.RunStarted("r", map[string]interface{}{"k": 1})
	s.Metric("r", "loss", 0, 1.5)
	s.RunFinished("r")
}

func TestLogSinkDefaultsLogger(t *testing.T) {
	s := NewLogSink(nil)
	s.RunStarted("r", map[string]interface{}{"n_quantiles": 5})
	s.Metric("r", "exposure_val_loss", 3, 0.25)
	s.RunFinished("r")
}

func TestFileSinkWritesMetricsAndParams(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	s.RunStarted("run1", map[string]interface{}{"seed": int64(42), "sqr": true})
	s.Metric("run1", "exposure_train_loss", 0, 1.25)
	s.Metric("run1", "exposure_train_loss", 1, 0.75)
	s.RunFinished("run1")

	f, err := os.Open(filepath.Join(dir, "metrics_run1.csv"))
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 metric rows, got %d", len(rows))
	}
	if rows[2][0] != "exposure_train_loss" || rows[2][1] != "1" || rows[2][2] != "0.75" {
		t.Errorf("metric row wrong: %v", rows[2])
	}

	pf, err := os.Open(filepath.Join(dir, "params_run1.csv"))
	if err != nil {
		t.Fatalf("params file: %v", err)
	}
	defer pf.Close()
	prows, err := csv.NewReader(pf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(prows) != 3 {
		t.Fatalf("expected header plus 2 param rows, got %d", len(prows))
	}
	// Params are written in sorted key order.
	if prows[1][0] != "seed" || prows[2][0] != "sqr" {
		t.Errorf("param ordering wrong: %v", prows)
	}
}

func TestFileSinkMetricBeforeStartIsDropped(t *testing.T) {
	s, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Metric("ghost", "loss", 0, 1) // must not panic
	s.RunFinished("ghost")
}
