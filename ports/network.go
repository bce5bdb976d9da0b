package ports

// FeedForwardPort is the network-builder contract consumed by the
// estimation core: a trainable feed-forward module with forward
// evaluation, gradient accumulation and an optimizer step. The concrete
// builder lives in internal/nn.
type FeedForwardPort interface {
	// Forward evaluates the network on one input vector.
	Forward(in []float64) []float64
	// Representation returns the penultimate (pre-output) layer
	// activations for one input vector.
	Representation(in []float64) []float64
	// Accumulate runs forward in training mode and backpropagates the
	// provided output gradient, adding into the parameter gradients.
	Accumulate(in, dOut []float64)
	// Step applies one optimizer update from the accumulated gradients,
	// averaged over batchSize samples, then clears them.
	Step(batchSize int)
	// SnapshotWeights and RestoreWeights support best-checkpoint
	// selection during training.
	SnapshotWeights() []byte
	RestoreWeights(snapshot []byte) error
}
