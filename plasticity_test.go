package reskit

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gonum.org/v1/gonum/mat"
)

func ipInput(n int) *mat.Dense {
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, math.Sin(float64(i)*0.5))
	}
	return x
}

func TestIPValidation(t *testing.T) {
	_, err := NewIntrinsicPlasticity("ip", 10, []ReservoirOption{WithActivation("relu")})
	assert.IsError(t, err, ErrValidation)

	_, err = NewIntrinsicPlasticity("ip", 10, nil, WithIPLearningRate(0))
	assert.IsError(t, err, ErrValidation)

	_, err = NewIntrinsicPlasticity("ip", 10, nil, WithIPEpochs(0))
	assert.IsError(t, err, ErrValidation)

	_, err = NewIntrinsicPlasticity("ip", 10, nil, WithIPWarmup(-1))
	assert.IsError(t, err, ErrValidation)

	// the exponential target requires a positive mean
	_, err = NewIntrinsicPlasticity("ip", 10, []ReservoirOption{WithActivation("sigmoid")})
	assert.IsError(t, err, ErrValidation)
}

func TestIPStartsNeutral(t *testing.T) {
	ip, err := NewIntrinsicPlasticity("ip", 10, []ReservoirOption{WithSeed(4)})
	assert.NoError(t, err)
	assert.True(t, ip.IsTrainable())

	x := ipInput(5)
	assert.NoError(t, ip.Initialize(x, nil))
	for i := 0; i < 10; i++ {
		assert.Equal(t, 1.0, ip.Gain().AtVec(i))
		assert.Equal(t, 0.0, ip.IPBias().AtVec(i))
	}
}

func TestIPNeutralMatchesPlainReservoir(t *testing.T) {
	// before any fit, a=1 and b=0 leave the dynamics untouched
	x := ipInput(20)

	ip, err := NewIntrinsicPlasticity("ip", 15, []ReservoirOption{WithSeed(6)})
	assert.NoError(t, err)
	assert.NoError(t, ip.Initialize(x, nil))

	plain, err := NewReservoir("plain", 15, WithSeed(6), WithExternalActivation())
	assert.NoError(t, err)
	assert.NoError(t, plain.Initialize(x, nil))

	outIP, err := ip.Forward(x)
	assert.NoError(t, err)
	outPlain, err := plain.Forward(x)
	assert.NoError(t, err)
	assert.True(t, mat.EqualApprox(outIP, outPlain, 1e-12))
}

func TestIPFitMovesGainAndBias(t *testing.T) {
	ip, err := NewIntrinsicPlasticity("ip", 20,
		[]ReservoirOption{WithSeed(9)},
		WithIPLearningRate(1e-3), WithIPEpochs(3),
	)
	assert.NoError(t, err)

	x := ipInput(200)
	assert.NoError(t, ip.Fit(x, nil))

	moved := false
	for i := 0; i < 20; i++ {
		if ip.Gain().AtVec(i) != 1 || ip.IPBias().AtVec(i) != 0 {
			moved = true
		}
	}
	assert.True(t, moved)

	// outputs stay inside the tanh range after adaptation
	out, err := ip.Forward(x)
	assert.NoError(t, err)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := out.At(i, j)
			assert.True(t, v > -1 && v < 1)
		}
	}
}

func TestIPWarmupTooLong(t *testing.T) {
	ip, err := NewIntrinsicPlasticity("ip", 10, nil, WithIPWarmup(50))
	assert.NoError(t, err)
	err = ip.Fit(ipInput(30), nil)
	assert.IsError(t, err, ErrValidation)
}

func TestIPSigmoidTarget(t *testing.T) {
	ip, err := NewIntrinsicPlasticity("ip", 10,
		[]ReservoirOption{WithSeed(12), WithActivation("sigmoid")},
		WithIPTargetMean(0.3),
	)
	assert.NoError(t, err)

	x := ipInput(100)
	assert.NoError(t, ip.Fit(x, nil))

	// sigmoid outputs stay in (0, 1)
	out, err := ip.Forward(x)
	assert.NoError(t, err)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := out.At(i, j)
			assert.True(t, v > 0 && v < 1)
		}
	}
}

func TestIPCopyIndependence(t *testing.T) {
	ip, err := NewIntrinsicPlasticity("ip", 10, []ReservoirOption{WithSeed(2)})
	assert.NoError(t, err)
	x := ipInput(50)
	assert.NoError(t, ip.Fit(x, nil))

	c := ip.Copy("").(*IntrinsicPlasticity)
	assert.True(t, mat.Equal(ip.Gain(), c.Gain()))

	assert.NoError(t, ip.Fit(x, nil))
	assert.False(t, mat.Equal(ip.Gain(), c.Gain()))
}
