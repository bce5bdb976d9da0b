package nn

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"ivquant/internal/errors"
	"ivquant/ports"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
	normEps   = 1e-5
)

type dense struct {
	w  [][]float64 // out x in
	b  []float64
	gW [][]float64
	gB []float64
	mW [][]float64
	vW [][]float64
	mB []float64
	vB []float64
}

func newDense(in, out int, rng *rand.Rand) *dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	d := &dense{
		w:  make([][]float64, out),
		b:  make([]float64, out),
		gW: make([][]float64, out),
		gB: make([]float64, out),
		mW: make([][]float64, out),
		vW: make([][]float64, out),
		mB: make([]float64, out),
		vB: make([]float64, out),
	}
	for o := 0; o < out; o++ {
		d.w[o] = make([]float64, in)
		d.gW[o] = make([]float64, in)
		d.mW[o] = make([]float64, in)
		d.vW[o] = make([]float64, in)
		for i := 0; i < in; i++ {
			d.w[o][i] = (rng.Float64()*2 - 1) * limit
		}
	}
	return d
}

func (d *dense) forward(in []float64) []float64 {
	out := make([]float64, len(d.w))
	for o, row := range d.w {
		s := d.b[o]
		for i, w := range row {
			s += w * in[i]
		}
		out[o] = s
	}
	return out
}

// backward accumulates parameter gradients for one sample and returns
// the gradient with respect to the layer input.
func (d *dense) backward(in, dOut []float64) []float64 {
	dIn := make([]float64, len(in))
	for o, row := range d.w {
		g := dOut[o]
		d.gB[o] += g
		for i := range row {
			d.gW[o][i] += g * in[i]
			dIn[i] += row[i] * g
		}
	}
	return dIn
}

func (d *dense) step(lr, wd float64, batchSize int, t int) {
	inv := 1.0 / float64(batchSize)
	c1 := 1 - math.Pow(adamBeta1, float64(t))
	c2 := 1 - math.Pow(adamBeta2, float64(t))
	for o, row := range d.w {
		for i := range row {
			g := d.gW[o][i]*inv + wd*row[i]
			d.mW[o][i] = adamBeta1*d.mW[o][i] + (1-adamBeta1)*g
			d.vW[o][i] = adamBeta2*d.vW[o][i] + (1-adamBeta2)*g*g
			row[i] -= lr * (d.mW[o][i] / c1) / (math.Sqrt(d.vW[o][i]/c2) + adamEps)
			d.gW[o][i] = 0
		}
		g := d.gB[o] * inv
		d.mB[o] = adamBeta1*d.mB[o] + (1-adamBeta1)*g
		d.vB[o] = adamBeta2*d.vB[o] + (1-adamBeta2)*g*g
		d.b[o] -= lr * (d.mB[o] / c1) / (math.Sqrt(d.vB[o]/c2) + adamEps)
		d.gB[o] = 0
	}
}

// norm standardizes a vector using running statistics accumulated over
// every training sample seen (Welford). Statistics are treated as
// constants during backpropagation and frozen at evaluation.
type norm struct {
	count float64
	mean  []float64
	m2    []float64
}

func newNorm(width int) *norm {
	return &norm{mean: make([]float64, width), m2: make([]float64, width)}
}

func (nm *norm) observe(v []float64) {
	nm.count++
	for i, x := range v {
		delta := x - nm.mean[i]
		nm.mean[i] += delta / nm.count
		nm.m2[i] += delta * (x - nm.mean[i])
	}
}

func (nm *norm) std(i int) float64 {
	if nm.count < 2 {
		return 1
	}
	return math.Sqrt(nm.m2[i]/nm.count + normEps)
}

func (nm *norm) apply(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - nm.mean[i]) / nm.std(i)
	}
	return out
}

func (nm *norm) backward(d []float64) []float64 {
	out := make([]float64, len(d))
	for i, g := range d {
		out[i] = g / nm.std(i)
	}
	return out
}

// Network is a feed-forward module built from a Config: dense hidden
// layers with a shared activation, optional input/hidden normalization,
// and a linear output layer. It trains with Adam and supports weight
// snapshots for best-checkpoint selection.
type Network struct {
	conf     Config
	act      Activation
	layers   []*dense
	inNorm   *norm
	hidNorms []*norm
	t        int
}

// NewNetwork validates the config and builds a deterministic,
// seed-initialized network.
func NewNetwork(conf Config) (*Network, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	act, _ := ActivationByName(conf.Activation)
	rng := rand.New(rand.NewSource(conf.Seed))

	n := &Network{conf: conf, act: act}
	widths := append([]int{conf.InputSize}, conf.Hidden...)
	for i := 0; i < len(conf.Hidden); i++ {
		n.layers = append(n.layers, newDense(widths[i], widths[i+1], rng))
	}
	n.layers = append(n.layers, newDense(widths[len(widths)-1], conf.OutputSize, rng))

	if conf.InputBatchNorm {
		n.inNorm = newNorm(conf.InputSize)
	}
	if conf.HiddenBatchNorm {
		n.hidNorms = make([]*norm, len(conf.Hidden))
		for i, h := range conf.Hidden {
			n.hidNorms[i] = newNorm(h)
		}
	}
	return n, nil
}

// Conf returns the network configuration.
func (n *Network) Conf() Config { return n.conf }

var _ ports.FeedForwardPort = (*Network)(nil)

type fwdCache struct {
	inputs [][]float64 // input handed to each dense layer
	pres   [][]float64 // pre-activation per hidden layer
	posts  [][]float64 // activated value per hidden layer (pre-norm)
}

func (n *Network) forward(in []float64, train bool) ([]float64, *fwdCache) {
	cache := &fwdCache{}
	h := in
	if n.inNorm != nil {
		if train {
			n.inNorm.observe(h)
		}
		h = n.inNorm.apply(h)
	}
	nHidden := len(n.layers) - 1
	for i := 0; i < nHidden; i++ {
		cache.inputs = append(cache.inputs, h)
		pre := n.layers[i].forward(h)
		post := make([]float64, len(pre))
		for j, z := range pre {
			post[j] = n.act.Apply(z)
		}
		cache.pres = append(cache.pres, pre)
		cache.posts = append(cache.posts, post)
		h = post
		if n.hidNorms != nil {
			if train {
				n.hidNorms[i].observe(h)
			}
			h = n.hidNorms[i].apply(h)
		}
	}
	cache.inputs = append(cache.inputs, h)
	out := n.layers[nHidden].forward(h)
	return out, cache
}

// Forward evaluates the network on one input vector.
func (n *Network) Forward(in []float64) []float64 {
	out, _ := n.forward(in, false)
	return out
}

// Representation returns the input of the final linear layer: the
// penultimate activations used by the linear inference module.
func (n *Network) Representation(in []float64) []float64 {
	_, cache := n.forward(in, false)
	return cache.inputs[len(cache.inputs)-1]
}

// RepresentationSize is the width of Representation's output.
func (n *Network) RepresentationSize() int {
	return n.conf.Hidden[len(n.conf.Hidden)-1]
}

// TrainForward runs a training-mode forward pass and returns the output
// together with a backward closure. Calling the closure backpropagates
// an output gradient into the parameter gradients and returns the input
// gradient. Models that compose networks use this to thread gradients.
func (n *Network) TrainForward(in []float64) ([]float64, func(dOut []float64) []float64) {
	out, cache := n.forward(in, true)
	back := func(dOut []float64) []float64 {
		nHidden := len(n.layers) - 1
		d := n.layers[nHidden].backward(cache.inputs[nHidden], dOut)
		for i := nHidden - 1; i >= 0; i-- {
			if n.hidNorms != nil {
				d = n.hidNorms[i].backward(d)
			}
			for j := range d {
				d[j] *= n.act.Grad(cache.pres[i][j], cache.posts[i][j])
			}
			d = n.layers[i].backward(cache.inputs[i], d)
		}
		if n.inNorm != nil {
			d = n.inNorm.backward(d)
		}
		return d
	}
	return out, back
}

// Accumulate runs a training-mode forward pass and backpropagates dOut,
// adding into the parameter gradients.
func (n *Network) Accumulate(in, dOut []float64) {
	_, back := n.TrainForward(in)
	back(dOut)
}

// Step applies one Adam update from the accumulated gradients, averaged
// over batchSize samples, then clears them.
func (n *Network) Step(batchSize int) {
	n.t++
	for _, l := range n.layers {
		l.step(n.conf.LearningRate, n.conf.WeightDecay, batchSize, n.t)
	}
}

type netSnapshot struct {
	Conf      Config
	W         [][][]float64
	B         [][]float64
	NormCount []float64
	NormMean  [][]float64
	NormM2    [][]float64
}

func (n *Network) snapshot() netSnapshot {
	s := netSnapshot{Conf: n.conf}
	for _, l := range n.layers {
		w := make([][]float64, len(l.w))
		for o := range l.w {
			w[o] = append([]float64(nil), l.w[o]...)
		}
		s.W = append(s.W, w)
		s.B = append(s.B, append([]float64(nil), l.b...))
	}
	norms := n.allNorms()
	for _, nm := range norms {
		s.NormCount = append(s.NormCount, nm.count)
		s.NormMean = append(s.NormMean, append([]float64(nil), nm.mean...))
		s.NormM2 = append(s.NormM2, append([]float64(nil), nm.m2...))
	}
	return s
}

func (n *Network) allNorms() []*norm {
	var norms []*norm
	if n.inNorm != nil {
		norms = append(norms, n.inNorm)
	}
	norms = append(norms, n.hidNorms...)
	return norms
}

func (n *Network) restore(s netSnapshot) error {
	if len(s.W) != len(n.layers) {
		return errors.CheckpointMismatch("layer count does not match network configuration")
	}
	for li, l := range n.layers {
		if len(s.W[li]) != len(l.w) {
			return errors.CheckpointMismatch("layer width does not match network configuration")
		}
		for o := range l.w {
			if len(s.W[li][o]) != len(l.w[o]) {
				return errors.CheckpointMismatch("weight shape does not match network configuration")
			}
			copy(l.w[o], s.W[li][o])
		}
		copy(l.b, s.B[li])
	}
	norms := n.allNorms()
	if len(norms) != len(s.NormMean) {
		return errors.CheckpointMismatch("normalization state does not match network configuration")
	}
	for i, nm := range norms {
		nm.count = s.NormCount[i]
		copy(nm.mean, s.NormMean[i])
		copy(nm.m2, s.NormM2[i])
	}
	return nil
}

// SnapshotWeights serializes the current weights and normalization
// statistics. Optimizer state is deliberately excluded: a restored
// checkpoint is an inference artifact.
func (n *Network) SnapshotWeights() []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n.snapshot()); err != nil {
		// Encoding in-memory float slices cannot fail under gob.
		panic(err)
	}
	return buf.Bytes()
}

// RestoreWeights loads a snapshot produced by SnapshotWeights.
func (n *Network) RestoreWeights(b []byte) error {
	var s netSnapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return errors.Wrap(err, "decoding network snapshot")
	}
	return n.restore(s)
}

// GobEncode serializes the full network (config plus weights) so model
// wrappers can persist networks as single gob values.
func (n *Network) GobEncode() ([]byte, error) {
	return n.SnapshotWeights(), nil
}

// GobDecode rebuilds a network from a serialized config and weights.
func (n *Network) GobDecode(b []byte) error {
	var s netSnapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return errors.Wrap(err, "decoding network")
	}
	rebuilt, err := NewNetwork(s.Conf)
	if err != nil {
		return err
	}
	*n = *rebuilt
	return n.restore(s)
}

// SetLayerWeights overwrites one dense layer's parameters. Intended for
// tests that need hand-constructed networks.
func (n *Network) SetLayerWeights(layer int, w [][]float64, b []float64) error {
	if layer < 0 || layer >= len(n.layers) {
		return errors.InvalidInput("layer index out of range")
	}
	l := n.layers[layer]
	if len(w) != len(l.w) || len(b) != len(l.b) {
		return errors.InvalidInput("weight shape does not match layer")
	}
	for o := range w {
		if len(w[o]) != len(l.w[o]) {
			return errors.InvalidInput("weight shape does not match layer")
		}
		copy(l.w[o], w[o])
	}
	copy(l.b, b)
	return nil
}
