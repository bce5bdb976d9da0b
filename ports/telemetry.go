package ports

// RunSinkPort receives training telemetry. The core never blocks on the
// sink and works against a no-op default when no tracker is configured.
type RunSinkPort interface {
	// RunStarted announces a new fit run with its hyperparameters.
	RunStarted(runID string, params map[string]interface{})
	// Metric reports a scalar metric at a training step (epoch).
	Metric(runID, name string, step int, value float64)
	// RunFinished marks the run complete.
	RunFinished(runID string)
}
