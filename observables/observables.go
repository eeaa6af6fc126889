// Package observables provides the error metrics and dynamical measures
// used to evaluate reservoir models. Metrics take (targets, predictions)
// matrices with one row per sample and matching shapes.
package observables

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when targets and predictions disagree.
var ErrShapeMismatch = errors.New("observables: shape mismatch")

// ErrBadNorm is returned for unknown NRMSE normalizations.
var ErrBadNorm = errors.New("observables: unknown normalization")

func checkShapes(yTrue, yPred mat.Matrix) error {
	tr, tc := yTrue.Dims()
	pr, pc := yPred.Dims()
	if tr != pr || tc != pc {
		return fmt.Errorf("%w: targets are %dx%d, predictions are %dx%d", ErrShapeMismatch, tr, tc, pr, pc)
	}
	if tr == 0 || tc == 0 {
		return fmt.Errorf("%w: empty matrices", ErrShapeMismatch)
	}
	return nil
}

// MSE computes the mean squared error over all entries.
func MSE(yTrue, yPred mat.Matrix) (float64, error) {
	if err := checkShapes(yTrue, yPred); err != nil {
		return 0, err
	}
	r, c := yTrue.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := yTrue.At(i, j) - yPred.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(r*c), nil
}

// RMSE computes the root mean squared error.
func RMSE(yTrue, yPred mat.Matrix) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// Norm selects the NRMSE denominator.
type Norm string

const (
	// NormVar divides by the variance of the targets.
	NormVar Norm = "var"
	// NormStd divides by the standard deviation of the targets.
	NormStd Norm = "std"
	// NormRange divides by max-min of the targets.
	NormRange Norm = "range"
	// NormMean divides by the mean of the targets.
	NormMean Norm = "mean"
)

// NRMSE computes the RMSE normalized by a statistic of the targets.
func NRMSE(yTrue, yPred mat.Matrix, norm Norm) (float64, error) {
	rmse, err := RMSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	r, c := yTrue.Dims()
	n := float64(r * c)

	mean := 0.0
	minV, maxV := math.Inf(1), math.Inf(-1)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := yTrue.At(i, j)
			mean += v
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
	}
	mean /= n

	variance := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := yTrue.At(i, j) - mean
			variance += d * d
		}
	}
	variance /= n

	var denom float64
	switch norm {
	case NormVar:
		denom = variance
	case NormStd, "":
		denom = math.Sqrt(variance)
	case NormRange:
		denom = maxV - minV
	case NormMean:
		denom = mean
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadNorm, norm)
	}
	if denom == 0 {
		return 0, fmt.Errorf("%w: normalization %q is zero for these targets", ErrBadNorm, norm)
	}
	return rmse / denom, nil
}

// RSquare computes the coefficient of determination over all entries,
// 1 - SSres/SStot.
func RSquare(yTrue, yPred mat.Matrix) (float64, error) {
	if err := checkShapes(yTrue, yPred); err != nil {
		return 0, err
	}
	r, c := yTrue.Dims()
	n := float64(r * c)

	mean := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			mean += yTrue.At(i, j)
		}
	}
	mean /= n

	ssRes, ssTot := 0.0, 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t := yTrue.At(i, j)
			d := t - yPred.At(i, j)
			ssRes += d * d
			m := t - mean
			ssTot += m * m
		}
	}
	if ssTot == 0 {
		return 0, fmt.Errorf("%w: targets have zero variance", ErrShapeMismatch)
	}
	return 1 - ssRes/ssTot, nil
}

// EffectiveSpectralRadius measures the spectral radius of a reservoir's
// recurrent matrix under its leak rate, rho((1-lr)*I + lr*W), the quantity
// that actually governs the leaky dynamics.
func EffectiveSpectralRadius(w mat.Matrix, leakRate float64) (float64, error) {
	r, c := w.Dims()
	if r != c {
		return 0, fmt.Errorf("%w: recurrent matrix is %dx%d", ErrShapeMismatch, r, c)
	}
	if leakRate <= 0 || leakRate > 1 {
		return 0, fmt.Errorf("%w: leak rate must be in (0, 1], got %v", ErrBadNorm, leakRate)
	}
	eff := mat.NewDense(r, c, nil)
	eff.Scale(leakRate, w)
	for i := 0; i < r; i++ {
		eff.Set(i, i, eff.At(i, i)+1-leakRate)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(eff, mat.EigenNone); !ok {
		return 0, errors.New("observables: eigendecomposition failed")
	}
	radius := 0.0
	for _, v := range eig.Values(nil) {
		if a := complexAbs(v); a > radius {
			radius = a
		}
	}
	return radius, nil
}

func complexAbs(v complex128) float64 {
	return math.Hypot(real(v), imag(v))
}

// MemoryCapacity measures how much of its past input a reservoir's state
// retains. For each delay k up to maxDelay a linear readout is fitted by
// ridge regression to reconstruct u(t-k) from the state at time t; the
// capacity is the sum over delays of the squared correlation between the
// reconstruction and the true delayed input. states is the (T x units)
// state trajectory collected while driving the reservoir with the (T x 1)
// input u.
func MemoryCapacity(states, input mat.Matrix, maxDelay int, ridge float64) (float64, error) {
	sr, sc := states.Dims()
	ir, ic := input.Dims()
	if ic != 1 {
		return 0, fmt.Errorf("%w: input must be a single column, got %d", ErrShapeMismatch, ic)
	}
	if sr != ir {
		return 0, fmt.Errorf("%w: %d state rows but %d input rows", ErrShapeMismatch, sr, ir)
	}
	if maxDelay < 1 || maxDelay >= sr {
		return 0, fmt.Errorf("%w: max delay must be in [1, rows), got %d", ErrBadNorm, maxDelay)
	}
	if ridge <= 0 {
		return 0, fmt.Errorf("%w: ridge must be positive, got %v", ErrBadNorm, ridge)
	}

	all := mat.DenseCopyOf(states)
	capacity := 0.0
	for k := 1; k <= maxDelay; k++ {
		n := sr - k
		x := all.Slice(k, sr, 0, sc).(*mat.Dense)
		z := mat.NewVecDense(n, nil)
		for t := 0; t < n; t++ {
			z.SetVec(t, input.At(t, 0))
		}

		pred, err := ridgePredict(x, z, ridge)
		if err != nil {
			return 0, err
		}
		capacity += squaredCorrelation(z, pred)
	}
	return capacity, nil
}

// ridgePredict fits w = (X^T X + ridge*I)^-1 X^T z and returns X*w.
func ridgePredict(x *mat.Dense, z *mat.VecDense, ridge float64) (*mat.VecDense, error) {
	n, cols := x.Dims()

	var gram mat.Dense
	gram.Mul(x.T(), x)
	for i := 0; i < cols; i++ {
		gram.Set(i, i, gram.At(i, i)+ridge)
	}
	var xtz mat.VecDense
	xtz.MulVec(x.T(), z)

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(cols, gram.RawMatrix().Data)); !ok {
		return nil, errors.New("observables: ridge system is not positive definite")
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &xtz); err != nil {
		return nil, fmt.Errorf("observables: solve ridge system: %w", err)
	}

	pred := mat.NewVecDense(n, nil)
	pred.MulVec(x, &w)
	return pred, nil
}

// squaredCorrelation computes the squared Pearson correlation, 0 when
// either side is constant.
func squaredCorrelation(a, b *mat.VecDense) float64 {
	n := a.Len()
	ma, mb := 0.0, 0.0
	for i := 0; i < n; i++ {
		ma += a.AtVec(i)
		mb += b.AtVec(i)
	}
	ma /= float64(n)
	mb /= float64(n)

	cov, va, vb := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		da := a.AtVec(i) - ma
		db := b.AtVec(i) - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return (cov * cov) / (va * vb)
}
