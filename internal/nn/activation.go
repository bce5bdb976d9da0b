package nn

import (
	"math"
	"sort"
)

// Activation is one entry of the closed activation registry. Grad
// receives both the pre-activation and the activated value so each
// implementation can use whichever is cheaper.
type Activation interface {
	Name() string
	Apply(x float64) float64
	Grad(pre, post float64) float64
}

type reluAct struct{}

func (reluAct) Name() string { return "relu" }
func (reluAct) Apply(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
func (reluAct) Grad(pre, _ float64) float64 {
	if pre > 0 {
		return 1
	}
	return 0
}

type geluAct struct{}

func (geluAct) Name() string { return "gelu" }
func (geluAct) Apply(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}
func (geluAct) Grad(pre, _ float64) float64 {
	cdf := 0.5 * (1 + math.Erf(pre/math.Sqrt2))
	pdf := math.Exp(-0.5*pre*pre) / math.Sqrt(2*math.Pi)
	return cdf + pre*pdf
}

type sigmoidAct struct{}

func (sigmoidAct) Name() string { return "sigmoid" }
func (sigmoidAct) Apply(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
func (sigmoidAct) Grad(_, post float64) float64 {
	return post * (1 - post)
}

type tanhAct struct{}

func (tanhAct) Name() string { return "tanh" }
func (tanhAct) Apply(x float64) float64 {
	return math.Tanh(x)
}
func (tanhAct) Grad(_, post float64) float64 {
	return 1 - post*post
}

type identityAct struct{}

func (identityAct) Name() string            { return "identity" }
func (identityAct) Apply(x float64) float64 { return x }
func (identityAct) Grad(_, _ float64) float64 {
	return 1
}

var activations = map[string]Activation{
	"relu":     reluAct{},
	"gelu":     geluAct{},
	"sigmoid":  sigmoidAct{},
	"tanh":     tanhAct{},
	"identity": identityAct{},
}

// ActivationByName resolves an activation from the registry; the bool
// reports whether the name is known.
func ActivationByName(name string) (Activation, bool) {
	a, ok := activations[name]
	return a, ok
}

// ActivationNames lists the registry, sorted, for error messages and
// CLI help.
func ActivationNames() []string {
	names := make([]string, 0, len(activations))
	for n := range activations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sigmoid is exported for models that bound an internal representation
// to (0, 1) outside of a registered layer stack.
func Sigmoid(x float64) float64 { return sigmoidAct{}.Apply(x) }
