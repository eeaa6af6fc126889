package reskit

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/reskit/reskit/matgen"
)

func TestReservoirValidation(t *testing.T) {
	tests := []struct {
		name  string
		units int
		opts  []ReservoirOption
	}{
		{"zero units", 0, nil},
		{"negative units", -5, nil},
		{"zero leak rate", 10, []ReservoirOption{WithLeakRate(0)}},
		{"leak rate above one", 10, []ReservoirOption{WithLeakRate(1.5)}},
		{"zero connectivity", 10, []ReservoirOption{WithConnectivity(0)}},
		{"connectivity above one", 10, []ReservoirOption{WithConnectivity(1.1)}},
		{"zero spectral radius", 10, []ReservoirOption{WithSpectralRadius(0)}},
		{"negative spectral radius", 10, []ReservoirOption{WithSpectralRadius(-0.9)}},
		{"unknown activation", 10, []ReservoirOption{WithActivation("gelu")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReservoir("r", tt.units, tt.opts...)
			assert.IsError(t, err, ErrValidation)
		})
	}
}

func TestReservoirForwardShapes(t *testing.T) {
	r, err := NewReservoir("r", 20, WithSeed(1))
	assert.NoError(t, err)
	assert.Equal(t, 20, r.OutputDim())

	x := mat.NewDense(15, 3, nil)
	for i := 0; i < 15; i++ {
		x.Set(i, 0, math.Sin(float64(i)))
	}
	assert.NoError(t, r.Initialize(x, nil))
	assert.Equal(t, 3, r.InputDim())

	out, err := r.Forward(x)
	assert.NoError(t, err)
	rows, cols := out.Dims()
	assert.Equal(t, 15, rows)
	assert.Equal(t, 20, cols)

	// state equals the last output row
	last := out.RawRowView(14)
	for i, v := range r.State().RawVector().Data {
		assert.Equal(t, last[i], v)
	}
}

func TestReservoirForwardRequiresInitialization(t *testing.T) {
	r, err := NewReservoir("r", 10)
	assert.NoError(t, err)
	_, err = r.Forward(mat.NewDense(1, 1, []float64{1}))
	assert.IsError(t, err, ErrState)
}

func TestReservoirWeightShapes(t *testing.T) {
	r, err := NewReservoir("r", 30, WithSeed(3), WithBiasScaling(0.5))
	assert.NoError(t, err)
	assert.NoError(t, r.Initialize(mat.NewDense(1, 4, make([]float64, 4)), nil))

	wr, wc := r.W().Dims()
	assert.Equal(t, 30, wr)
	assert.Equal(t, 30, wc)
	ir, ic := r.WIn().Dims()
	assert.Equal(t, 30, ir)
	assert.Equal(t, 4, ic)
	assert.Equal(t, 30, r.Bias().Len())

	maxBias := 0.0
	for i := 0; i < 30; i++ {
		maxBias = math.Max(maxBias, math.Abs(r.Bias().AtVec(i)))
	}
	assert.True(t, maxBias <= 0.5)
}

func TestReservoirSpectralRadiusHonored(t *testing.T) {
	r, err := NewReservoir("r", 100, WithSpectralRadius(1.2), WithSeed(11))
	assert.NoError(t, err)
	assert.NoError(t, r.Initialize(mat.NewDense(1, 1, []float64{0}), nil))

	actual, err := matgen.SpectralRadius(r.W())
	assert.NoError(t, err)
	assert.True(t, math.Abs(actual-1.2)/1.2 < 0.01)
}

func TestReservoirSeedDeterminism(t *testing.T) {
	build := func() *mat.Dense {
		r, err := NewReservoir("r", 25, WithSeed(99))
		assert.NoError(t, err)
		assert.NoError(t, r.Initialize(mat.NewDense(1, 2, make([]float64, 2)), nil))
		return r.W()
	}
	assert.True(t, mat.Equal(build(), build()))
}

func TestReservoirStatefulAcrossCalls(t *testing.T) {
	r, err := NewReservoir("r", 10, WithSeed(5), WithLeakRate(0.5))
	assert.NoError(t, err)
	x := mat.NewDense(1, 1, []float64{0.7})
	assert.NoError(t, r.Initialize(x, nil))

	out1, err := r.Forward(x)
	assert.NoError(t, err)
	out2, err := r.Forward(x)
	assert.NoError(t, err)
	// same input, different state: outputs must differ
	assert.False(t, mat.Equal(out1, out2))

	assert.NoError(t, r.Reset(nil))
	out3, err := r.Forward(x)
	assert.NoError(t, err)
	assert.True(t, mat.Equal(out1, out3))
}

func TestReservoirExternalActivationMatchesAtFullLeak(t *testing.T) {
	// with lr=1 the two update modes coincide
	x := mat.NewDense(5, 1, []float64{0.1, -0.2, 0.3, 0.5, -0.4})

	a, err := NewReservoir("a", 15, WithSeed(21), WithLeakRate(1))
	assert.NoError(t, err)
	assert.NoError(t, a.Initialize(x, nil))

	b, err := NewReservoir("b", 15, WithSeed(21), WithLeakRate(1), WithExternalActivation())
	assert.NoError(t, err)
	assert.NoError(t, b.Initialize(x, nil))

	outA, err := a.Forward(x)
	assert.NoError(t, err)
	outB, err := b.Forward(x)
	assert.NoError(t, err)
	assert.True(t, mat.EqualApprox(outA, outB, 1e-12))
}

func TestReservoirResetRestoresPreActivation(t *testing.T) {
	r, err := NewReservoir("r", 12, WithSeed(33), WithLeakRate(0.4), WithExternalActivation())
	assert.NoError(t, err)
	x := mat.NewDense(10, 1, []float64{0.3, -0.1, 0.5, 0.2, -0.4, 0.6, 0.1, -0.3, 0.4, 0.0})
	assert.NoError(t, r.Initialize(x, nil))

	_, err = r.Forward(x)
	assert.NoError(t, err)
	wantInternal := mat.VecDenseCopyOf(r.internal)
	saved := append([]float64(nil), r.State().RawVector().Data...)

	// installing a tanh state recovers the pre-activation through atanh,
	// so the rollout continues exactly where it left off
	assert.NoError(t, r.Reset(saved))
	assert.True(t, mat.EqualApprox(wantInternal, r.internal, 1e-9))

	next := mat.NewDense(1, 1, []float64{0.25})
	out1, err := r.Forward(next)
	assert.NoError(t, err)

	assert.NoError(t, r.Reset(nil))
	_, err = r.Forward(x)
	assert.NoError(t, err)
	out2, err := r.Forward(next)
	assert.NoError(t, err)
	assert.True(t, mat.EqualApprox(out1, out2, 1e-9))
}

func TestReservoirCopyIndependence(t *testing.T) {
	r, err := NewReservoir("r", 10, WithSeed(8))
	assert.NoError(t, err)
	x := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	assert.NoError(t, r.Initialize(x, nil))
	_, err = r.Forward(x)
	assert.NoError(t, err)

	c := r.Copy("").(*Reservoir)
	assert.True(t, mat.Equal(r.W(), c.W()))
	assert.True(t, mat.Equal(r.State(), c.State()))

	// advancing the original must not move the copy
	_, err = r.Forward(x)
	assert.NoError(t, err)
	assert.False(t, mat.Equal(r.State(), c.State()))

	// and the copied weights are a separate allocation
	c.W().Set(0, 0, 123)
	assert.NotEqual(t, 123.0, r.W().At(0, 0))
}

func TestESNUsesTanh(t *testing.T) {
	e, err := NewESN("esn", 10, WithActivation("sigmoid"))
	assert.NoError(t, err)
	v, err := e.GetParam("activation")
	assert.NoError(t, err)
	assert.Equal(t, "tanh", v.(string))
}
