// Package matgen generates the random weight matrices used by reservoir
// nodes: dense draws from uniform/normal/Bernoulli distributions with an
// optional connectivity mask, and spectral-radius measurement and rescaling.
package matgen

import (
	"errors"
	"fmt"
	"math/cmplx"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrBadArgument marks out-of-range generator arguments.
	ErrBadArgument = errors.New("matgen: bad argument")
	// ErrNotSquare is returned when a spectral radius is requested for a
	// non-square matrix.
	ErrNotSquare = errors.New("matgen: matrix is not square")
	// ErrEigenFailed is returned when the eigendecomposition does not
	// converge.
	ErrEigenFailed = errors.New("matgen: eigendecomposition failed")
)

// Distribution selects the entry distribution for generated matrices.
type Distribution string

const (
	// DistUniform draws entries from U(-1, 1) unless bounds are given.
	DistUniform Distribution = "uniform"
	// DistNormal draws entries from N(0, 1).
	DistNormal Distribution = "normal"
	// DistBernoulli draws entries from {-1, +1} with equal probability.
	DistBernoulli Distribution = "bernoulli"
)

// newSource builds a seeded source; seed 0 draws a fresh seed from the
// package-level locked generator, so unseeded generation is safe to call
// from concurrent goroutines.
func newSource(seed uint64) rand.Source {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.NewSource(seed)
}

// Uniform generates a (rows x cols) matrix with entries drawn from
// U(low, high). connectivity in (0, 1] keeps that fraction of entries
// nonzero in expectation; pass 1 for a fully dense matrix. seed 0 draws a
// fresh seed.
func Uniform(rows, cols int, low, high, connectivity float64, seed uint64) (*mat.Dense, error) {
	if high <= low {
		return nil, fmt.Errorf("%w: high (%v) must be greater than low (%v)", ErrBadArgument, high, low)
	}
	src := newSource(seed)
	dist := distuv.Uniform{Min: low, Max: high, Src: src}
	return fill(rows, cols, connectivity, src, dist.Rand)
}

// Normal generates a (rows x cols) matrix with entries drawn from
// N(mean, std).
func Normal(rows, cols int, mean, std, connectivity float64, seed uint64) (*mat.Dense, error) {
	if std <= 0 {
		return nil, fmt.Errorf("%w: standard deviation must be positive, got %v", ErrBadArgument, std)
	}
	src := newSource(seed)
	dist := distuv.Normal{Mu: mean, Sigma: std, Src: src}
	return fill(rows, cols, connectivity, src, dist.Rand)
}

// Bernoulli generates a (rows x cols) matrix with entries +1 with
// probability p and -1 otherwise.
func Bernoulli(rows, cols int, p, connectivity float64, seed uint64) (*mat.Dense, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability must be in [0, 1], got %v", ErrBadArgument, p)
	}
	src := newSource(seed)
	dist := distuv.Bernoulli{P: p, Src: src}
	return fill(rows, cols, connectivity, src, func() float64 {
		if dist.Rand() > 0 {
			return 1
		}
		return -1
	})
}

// fill draws every entry from draw, then zeroes entries with probability
// 1-connectivity using the same source.
func fill(rows, cols int, connectivity float64, src rand.Source, draw func() float64) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrBadArgument, rows, cols)
	}
	if connectivity <= 0 || connectivity > 1 {
		return nil, fmt.Errorf("%w: connectivity must be in (0, 1], got %v", ErrBadArgument, connectivity)
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, draw())
		}
	}
	if connectivity < 1 {
		mask := distuv.Uniform{Min: 0, Max: 1, Src: src}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if mask.Rand() >= connectivity {
					out.Set(i, j, 0)
				}
			}
		}
	}
	return out, nil
}

// SpectralRadius computes the magnitude of the largest eigenvalue of a
// square matrix.
func SpectralRadius(m mat.Matrix) (float64, error) {
	r, c := m.Dims()
	if r != c {
		return 0, fmt.Errorf("%w: got %dx%d", ErrNotSquare, r, c)
	}
	if r == 0 {
		return 0, nil
	}
	var eig mat.Eigen
	if ok := eig.Factorize(mat.DenseCopyOf(m), mat.EigenNone); !ok {
		return 0, ErrEigenFailed
	}
	radius := 0.0
	for _, v := range eig.Values(nil) {
		if a := cmplx.Abs(v); a > radius {
			radius = a
		}
	}
	return radius, nil
}

// ScaleSpectralRadius rescales m so its spectral radius equals target. The
// whole matrix is multiplied by target/actual; a zero matrix is returned
// unchanged. This scaling is what keeps reservoir dynamics at the requested
// edge of stability.
func ScaleSpectralRadius(m *mat.Dense, target float64) (*mat.Dense, error) {
	current, err := SpectralRadius(m)
	if err != nil {
		return nil, err
	}
	if current == 0 {
		return m, nil
	}
	out := mat.DenseCopyOf(m)
	out.Scale(target/current, out)
	return out, nil
}

// GenerateInternalWeights draws a (units x units) recurrent weight matrix
// with the given connectivity and rescales it to the target spectral radius.
func GenerateInternalWeights(units int, connectivity, spectralRadius float64, dist Distribution, seed uint64) (*mat.Dense, error) {
	if spectralRadius <= 0 {
		return nil, fmt.Errorf("%w: spectral radius must be positive, got %v", ErrBadArgument, spectralRadius)
	}
	w, err := draw(units, units, connectivity, dist, seed)
	if err != nil {
		return nil, err
	}
	return ScaleSpectralRadius(w, spectralRadius)
}

// GenerateInputWeights draws a (units x inputDim) input weight matrix and
// multiplies it by scaling.
func GenerateInputWeights(units, inputDim int, scaling, connectivity float64, dist Distribution, seed uint64) (*mat.Dense, error) {
	w, err := draw(units, inputDim, connectivity, dist, seed)
	if err != nil {
		return nil, err
	}
	w.Scale(scaling, w)
	return w, nil
}

func draw(rows, cols int, connectivity float64, dist Distribution, seed uint64) (*mat.Dense, error) {
	switch dist {
	case DistUniform, "":
		return Uniform(rows, cols, -1, 1, connectivity, seed)
	case DistNormal:
		return Normal(rows, cols, 0, 1, connectivity, seed)
	case DistBernoulli:
		return Bernoulli(rows, cols, 0.5, connectivity, seed)
	default:
		return nil, fmt.Errorf("%w: unknown distribution %q", ErrBadArgument, dist)
	}
}
