// Package activations provides the elementwise nonlinearities used by
// reservoir and readout nodes, behind a name-based registry.
package activations

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknown is returned by Get for names that are not registered.
var ErrUnknown = errors.New("activations: unknown function")

// Func maps a matrix to a matrix of the same shape.
type Func func(x mat.Matrix) *mat.Dense

// Get looks up an activation function by name. Supported names: identity,
// sigmoid, tanh, relu, softplus, softmax.
func Get(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return fn, nil
}

// Names returns the registered activation names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

var registry = map[string]Func{
	"identity": Identity,
	"sigmoid":  Sigmoid,
	"tanh":     Tanh,
	"relu":     ReLU,
	"softplus": Softplus,
	"softmax":  Softmax,
}

func elementwise(x mat.Matrix, f func(float64) float64) *mat.Dense {
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, _ int, v float64) float64 { return f(v) }, out)
	return out
}

// Identity returns its input unchanged: f(x) = x.
func Identity(x mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(x)
}

// Sigmoid computes 1/(1+exp(-x)), split by sign for numerical stability.
func Sigmoid(x mat.Matrix) *mat.Dense {
	return elementwise(x, func(v float64) float64 {
		if v < 0 {
			e := math.Exp(v)
			return e / (e + 1)
		}
		return 1 / (1 + math.Exp(-v))
	})
}

// Tanh computes the hyperbolic tangent elementwise.
func Tanh(x mat.Matrix) *mat.Dense {
	return elementwise(x, math.Tanh)
}

// ReLU computes max(0, x) elementwise.
func ReLU(x mat.Matrix) *mat.Dense {
	return elementwise(x, func(v float64) float64 { return math.Max(0, v) })
}

// Softplus computes ln(1+exp(x)) elementwise.
func Softplus(x mat.Matrix) *mat.Dense {
	return elementwise(x, func(v float64) float64 { return math.Log1p(math.Exp(v)) })
}

// Softmax normalizes each row to a probability distribution, subtracting the
// row maximum before exponentiating for numerical stability.
func Softmax(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		maxv := math.Inf(-1)
		for j := 0; j < c; j++ {
			maxv = math.Max(maxv, x.At(i, j))
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(x.At(i, j) - maxv)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}
