package observables

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gonum.org/v1/gonum/mat"
)

func TestMSEKnownValue(t *testing.T) {
	yTrue := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	yPred := mat.NewDense(2, 2, []float64{1, 2, 3, 6})

	mse, err := MSE(yTrue, yPred)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, mse)

	rmse, err := RMSE(yTrue, yPred)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, rmse)
}

func TestMSEShapeMismatch(t *testing.T) {
	_, err := MSE(mat.NewDense(2, 1, nil), mat.NewDense(3, 1, nil))
	assert.IsError(t, err, ErrShapeMismatch)
}

func TestPerfectPrediction(t *testing.T) {
	y := mat.NewDense(3, 1, []float64{1, 2, 3})

	mse, err := MSE(y, y)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, mse)

	r2, err := RSquare(y, y)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, r2)
}

func TestNRMSENorms(t *testing.T) {
	// targets {0, 2}: mean 1, variance 1, std 1, range 2
	yTrue := mat.NewDense(2, 1, []float64{0, 2})
	yPred := mat.NewDense(2, 1, []float64{1, 3})
	// rmse = 1

	tests := []struct {
		norm Norm
		want float64
	}{
		{NormVar, 1},
		{NormStd, 1},
		{NormMean, 1},
		{NormRange, 0.5},
	}
	for _, tt := range tests {
		t.Run(string(tt.norm), func(t *testing.T) {
			v, err := NRMSE(yTrue, yPred, tt.norm)
			assert.NoError(t, err)
			assert.True(t, math.Abs(v-tt.want) < 1e-12)
		})
	}
}

func TestNRMSEBadNorm(t *testing.T) {
	y := mat.NewDense(2, 1, []float64{0, 2})
	_, err := NRMSE(y, y, "median")
	assert.IsError(t, err, ErrBadNorm)

	// zero denominator is rejected, not divided through
	flat := mat.NewDense(2, 1, []float64{5, 5})
	_, err = NRMSE(flat, flat, NormStd)
	assert.IsError(t, err, ErrBadNorm)
}

func TestRSquareConstantTargets(t *testing.T) {
	flat := mat.NewDense(3, 1, []float64{2, 2, 2})
	_, err := RSquare(flat, flat)
	assert.IsError(t, err, ErrShapeMismatch)
}

func TestEffectiveSpectralRadius(t *testing.T) {
	// diagonal W: effective matrix is (1-lr) + lr*w on the diagonal
	w := mat.NewDense(2, 2, []float64{
		0.5, 0,
		0, -0.8,
	})
	rho, err := EffectiveSpectralRadius(w, 0.5)
	assert.NoError(t, err)
	// eigenvalues: 0.75 and 0.1
	assert.True(t, math.Abs(rho-0.75) < 1e-12)

	// full leak reduces to the plain spectral radius
	rho, err = EffectiveSpectralRadius(w, 1)
	assert.NoError(t, err)
	assert.True(t, math.Abs(rho-0.8) < 1e-12)
}

func TestEffectiveSpectralRadiusValidation(t *testing.T) {
	_, err := EffectiveSpectralRadius(mat.NewDense(2, 3, nil), 0.5)
	assert.IsError(t, err, ErrShapeMismatch)
	_, err = EffectiveSpectralRadius(mat.NewDense(2, 2, nil), 0)
	assert.IsError(t, err, ErrBadNorm)
}

func TestMemoryCapacityDelayLine(t *testing.T) {
	// states carry exact one- and two-step delayed copies of the input,
	// so each of the first two delays contributes a full unit of capacity
	n := 200
	input := mat.NewDense(n, 1, nil)
	for t2 := 0; t2 < n; t2++ {
		input.Set(t2, 0, math.Sin(float64(t2)*0.7)+0.3*math.Cos(float64(t2)*1.3))
	}
	states := mat.NewDense(n, 2, nil)
	for t2 := 1; t2 < n; t2++ {
		states.Set(t2, 0, input.At(t2-1, 0))
	}
	for t2 := 2; t2 < n; t2++ {
		states.Set(t2, 1, input.At(t2-2, 0))
	}

	mc, err := MemoryCapacity(states, input, 2, 1e-10)
	assert.NoError(t, err)
	assert.True(t, mc > 1.9)
	assert.True(t, mc <= 2.0+1e-9)
}

func TestMemoryCapacityValidation(t *testing.T) {
	states := mat.NewDense(10, 2, nil)
	good := mat.NewDense(10, 1, nil)

	_, err := MemoryCapacity(states, mat.NewDense(10, 2, nil), 2, 1e-6)
	assert.IsError(t, err, ErrShapeMismatch)
	_, err = MemoryCapacity(states, mat.NewDense(8, 1, nil), 2, 1e-6)
	assert.IsError(t, err, ErrShapeMismatch)
	_, err = MemoryCapacity(states, good, 0, 1e-6)
	assert.IsError(t, err, ErrBadNorm)
	_, err = MemoryCapacity(states, good, 10, 1e-6)
	assert.IsError(t, err, ErrBadNorm)
	_, err = MemoryCapacity(states, good, 2, 0)
	assert.IsError(t, err, ErrBadNorm)
}
