package reskit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/reskit/reskit/activations"
	"github.com/reskit/reskit/matgen"
)

// Reservoir is a pool of leaky-integrator neurons with fixed random
// recurrent connections. With internal activation (the default) the state
// update per time step is
//
//	r[t+1] = (1 - lr) * r[t] + lr * f(W*r[t] + Win*u[t] + bias)
//
// External-activation mode keeps the leaky integration on the pre-activation
// signal instead, for variants that need access to it:
//
//	s[t+1] = (1 - lr) * s[t] + lr * (W*r[t] + Win*u[t] + bias)
//	r[t+1] = f(s[t+1])
//
// Weights are generated once at initialization: W with the requested
// connectivity, rescaled to the target spectral radius; Win scaled by the
// input scaling; bias drawn uniformly when bias scaling is positive.
type Reservoir struct {
	BaseNode

	units          int
	lr             float64
	connectivity   float64
	spectralRadius float64
	inputScaling   float64
	biasScaling    float64
	activationName string
	internalAct    bool
	seed           uint64

	fn activations.Func

	w    *mat.Dense
	wIn  *mat.Dense
	bias *mat.VecDense

	// internal pre-activation state, used in external-activation mode
	internal *mat.VecDense
}

// ReservoirOption configures a Reservoir before validation.
type ReservoirOption func(*Reservoir)

// WithLeakRate sets the leak rate, in (0, 1].
var WithLeakRate = func(lr float64) ReservoirOption {
	return func(r *Reservoir) { r.lr = lr }
}

// WithActivation sets the activation function by registry name.
var WithActivation = func(name string) ReservoirOption {
	return func(r *Reservoir) { r.activationName = name }
}

// WithConnectivity sets the fraction of nonzero recurrent weights, in (0, 1].
var WithConnectivity = func(connectivity float64) ReservoirOption {
	return func(r *Reservoir) { r.connectivity = connectivity }
}

// WithSpectralRadius sets the target spectral radius of the recurrent
// matrix, > 0.
var WithSpectralRadius = func(sr float64) ReservoirOption {
	return func(r *Reservoir) { r.spectralRadius = sr }
}

// WithInputScaling scales the input weight matrix.
var WithInputScaling = func(scaling float64) ReservoirOption {
	return func(r *Reservoir) { r.inputScaling = scaling }
}

// WithBiasScaling enables a uniform bias in [-scaling, scaling]. Zero (the
// default) disables the bias.
var WithBiasScaling = func(scaling float64) ReservoirOption {
	return func(r *Reservoir) { r.biasScaling = scaling }
}

// WithSeed fixes the weight-generation seed for reproducible reservoirs.
var WithSeed = func(seed uint64) ReservoirOption {
	return func(r *Reservoir) { r.seed = seed }
}

// WithExternalActivation switches the node to external-activation mode.
var WithExternalActivation = func() ReservoirOption {
	return func(r *Reservoir) { r.internalAct = false }
}

// NewReservoir creates a reservoir of the given size. Defaults: leak rate 1,
// tanh activation, connectivity 0.1, spectral radius 0.9, input scaling 1,
// no bias. Out-of-range settings fail immediately, never silently clamped.
func NewReservoir(name string, units int, opts ...ReservoirOption) (*Reservoir, error) {
	if name == "" {
		name = uniqueName("reservoir")
	}
	r := &Reservoir{
		BaseNode: BaseNode{
			name:   name,
			params: map[string]any{},
			hypers: map[string]any{},
		},
		units:          units,
		lr:             1.0,
		connectivity:   0.1,
		spectralRadius: 0.9,
		inputScaling:   1.0,
		biasScaling:    0.0,
		activationName: "tanh",
		internalAct:    true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if units <= 0 {
		return nil, fmt.Errorf("%w: reservoir %s: units must be positive, got %d", ErrValidation, name, units)
	}
	if r.lr <= 0 || r.lr > 1 {
		return nil, fmt.Errorf("%w: reservoir %s: leak rate must be in (0, 1], got %v", ErrValidation, name, r.lr)
	}
	if r.connectivity <= 0 || r.connectivity > 1 {
		return nil, fmt.Errorf("%w: reservoir %s: connectivity must be in (0, 1], got %v", ErrValidation, name, r.connectivity)
	}
	if r.spectralRadius <= 0 {
		return nil, fmt.Errorf("%w: reservoir %s: spectral radius must be positive, got %v", ErrValidation, name, r.spectralRadius)
	}
	fn, err := activations.Get(r.activationName)
	if err != nil {
		return nil, fmt.Errorf("%w: reservoir %s: %v", ErrValidation, name, err)
	}
	r.fn = fn

	r.hypers["units"] = units
	r.hypers["lr"] = r.lr
	r.hypers["connectivity"] = r.connectivity
	r.hypers["sr"] = r.spectralRadius
	r.hypers["input_scaling"] = r.inputScaling
	r.hypers["bias_scaling"] = r.biasScaling
	r.hypers["activation"] = r.activationName

	r.outputDim = units
	r.state = mat.NewVecDense(units, nil)
	r.internal = mat.NewVecDense(units, nil)
	return r, nil
}

// NewESN creates an echo state network: a Reservoir preset with the
// activation fixed to tanh regardless of options.
func NewESN(name string, units int, opts ...ReservoirOption) (*Reservoir, error) {
	return NewReservoir(name, units, append(opts, WithActivation("tanh"))...)
}

// Units returns the reservoir size.
func (r *Reservoir) Units() int { return r.units }

// LeakRate returns the leak rate.
func (r *Reservoir) LeakRate() float64 { return r.lr }

// W returns the recurrent weight matrix, nil before initialization.
func (r *Reservoir) W() *mat.Dense { return r.w }

// WIn returns the input weight matrix, nil before initialization.
func (r *Reservoir) WIn() *mat.Dense { return r.wIn }

// Bias returns the bias vector, nil before initialization.
func (r *Reservoir) Bias() *mat.VecDense { return r.bias }

// Initialize fixes the input dimension from x and generates the weight
// matrices. Idempotent.
func (r *Reservoir) Initialize(x, _ mat.Matrix) error {
	if r.initialized {
		return nil
	}
	if x != nil {
		_, c := x.Dims()
		if err := r.setInputDim(c); err != nil {
			return err
		}
	}
	if r.inputDim == 0 {
		return fmt.Errorf("%w: reservoir %s: input dimension must be set before initialization", ErrState, r.name)
	}
	if err := r.initializeWeights(); err != nil {
		return err
	}
	r.initialized = true
	return r.Reset(nil)
}

func (r *Reservoir) initializeWeights() error {
	w, err := matgen.GenerateInternalWeights(r.units, r.connectivity, r.spectralRadius, matgen.DistUniform, r.seed)
	if err != nil {
		return fmt.Errorf("reservoir %s: generate recurrent weights: %w", r.name, err)
	}
	seedIn := r.seed
	if seedIn != 0 {
		seedIn++ // distinct stream from W
	}
	wIn, err := matgen.GenerateInputWeights(r.units, r.inputDim, r.inputScaling, 1.0, matgen.DistUniform, seedIn)
	if err != nil {
		return fmt.Errorf("reservoir %s: generate input weights: %w", r.name, err)
	}
	r.w = w
	r.wIn = wIn

	if r.biasScaling > 0 {
		seedBias := r.seed
		if seedBias != 0 {
			seedBias += 2
		}
		b, err := matgen.Uniform(r.units, 1, -r.biasScaling, r.biasScaling, 1.0, seedBias)
		if err != nil {
			return fmt.Errorf("reservoir %s: generate bias: %w", r.name, err)
		}
		r.bias = mat.VecDenseCopyOf(b.ColView(0))
	} else {
		r.bias = mat.NewVecDense(r.units, nil)
	}

	r.params["W"] = r.w
	r.params["Win"] = r.wIn
	r.params["bias"] = r.bias
	return nil
}

// kernel computes the pre-activation W*r + Win*u + bias for one time step.
func (r *Reservoir) kernel(u *mat.VecDense) *mat.VecDense {
	pre := mat.NewVecDense(r.units, nil)
	pre.MulVec(r.w, r.state)
	tmp := mat.NewVecDense(r.units, nil)
	tmp.MulVec(r.wIn, u)
	pre.AddVec(pre, tmp)
	pre.AddVec(pre, r.bias)
	return pre
}

// Forward rolls the reservoir over every row of x and returns the state
// trajectory, one row per time step. The reservoir must be initialized
// first; there is no lazy initialization for weighted nodes.
func (r *Reservoir) Forward(x mat.Matrix) (*mat.Dense, error) {
	if !r.initialized {
		return nil, fmt.Errorf("%w: reservoir %s must be initialized before forward pass", ErrState, r.name)
	}
	rows, cols := x.Dims()
	if cols != r.inputDim {
		return nil, fmt.Errorf("%w: reservoir %s: expected %d input features, got %d", ErrDimension, r.name, r.inputDim, cols)
	}

	out := mat.NewDense(rows, r.units, nil)
	u := mat.NewVecDense(cols, nil)
	for t := 0; t < rows; t++ {
		for j := 0; j < cols; j++ {
			u.SetVec(j, x.At(t, j))
		}
		if r.internalAct {
			r.stepInternal(u)
		} else {
			r.stepExternal(u)
		}
		out.SetRow(t, r.state.RawVector().Data)
	}
	return out, nil
}

// stepInternal applies the leaky update with the activation inside the leak.
func (r *Reservoir) stepInternal(u *mat.VecDense) {
	pre := r.kernel(u)
	activated := applyVec(r.fn, pre)
	next := mat.NewVecDense(r.units, nil)
	next.ScaleVec(1-r.lr, r.state)
	next.AddScaledVec(next, r.lr, activated)
	r.state = next
}

// stepExternal integrates the pre-activation signal and applies the
// activation afterwards.
func (r *Reservoir) stepExternal(u *mat.VecDense) {
	pre := r.kernel(u)
	next := mat.NewVecDense(r.units, nil)
	next.ScaleVec(1-r.lr, r.internal)
	next.AddScaledVec(next, r.lr, pre)
	r.internal = next
	r.state = applyVec(r.fn, r.internal)
}

// Reset zeroes (or installs) both the output state and the internal
// pre-activation state. An installed state is mapped back to its
// pre-activation through the inverse activation where one exists (tanh,
// sigmoid, identity), keeping state == f(internal) in external-activation
// mode; activations without an inverse use the installed values directly.
func (r *Reservoir) Reset(state []float64) error {
	if err := r.BaseNode.Reset(state); err != nil {
		return err
	}
	r.internal = mat.NewVecDense(r.units, nil)
	if state != nil {
		r.internal = r.invertActivation(r.state)
	}
	return nil
}

// invertActivation maps an output state back to a pre-activation vector,
// clamping just inside the activation's range edges.
func (r *Reservoir) invertActivation(s *mat.VecDense) *mat.VecDense {
	const eps = 1e-12
	out := mat.NewVecDense(r.units, nil)
	for i := 0; i < r.units; i++ {
		v := s.AtVec(i)
		switch r.activationName {
		case "tanh":
			v = math.Min(math.Max(v, -1+eps), 1-eps)
			out.SetVec(i, math.Atanh(v))
		case "sigmoid":
			v = math.Min(math.Max(v, eps), 1-eps)
			out.SetVec(i, math.Log(v/(1-v)))
		default:
			out.SetVec(i, v)
		}
	}
	return out
}

// SetParam writes a parameter and keeps the weight fields in sync for the
// matrix-valued keys.
func (r *Reservoir) SetParam(name string, value any) error {
	if err := r.BaseNode.SetParam(name, value); err != nil {
		return err
	}
	switch name {
	case "W":
		r.w = value.(*mat.Dense)
	case "Win":
		r.wIn = value.(*mat.Dense)
	case "bias":
		r.bias = value.(*mat.VecDense)
	}
	return nil
}

// Copy produces an independent reservoir preserving weights and state.
func (r *Reservoir) Copy(name string) Node {
	c := &Reservoir{
		BaseNode:       r.copyBase(name, "reservoir"),
		units:          r.units,
		lr:             r.lr,
		connectivity:   r.connectivity,
		spectralRadius: r.spectralRadius,
		inputScaling:   r.inputScaling,
		biasScaling:    r.biasScaling,
		activationName: r.activationName,
		internalAct:    r.internalAct,
		seed:           r.seed,
		fn:             r.fn,
	}
	if r.w != nil {
		c.w = mat.DenseCopyOf(r.w)
	}
	if r.wIn != nil {
		c.wIn = mat.DenseCopyOf(r.wIn)
	}
	if r.bias != nil {
		c.bias = mat.VecDenseCopyOf(r.bias)
	}
	if r.internal != nil {
		c.internal = mat.VecDenseCopyOf(r.internal)
	}
	// the params map must alias the copy's own matrices, not the original's
	if c.w != nil {
		c.params["W"] = c.w
		c.params["Win"] = c.wIn
		c.params["bias"] = c.bias
	}
	return c
}

// applyVec applies an activation function to a vector.
func applyVec(fn activations.Func, v *mat.VecDense) *mat.VecDense {
	n, _ := v.Dims()
	d := mat.NewDense(n, 1, nil)
	d.SetCol(0, v.RawVector().Data)
	out := fn(d)
	res := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		res.SetVec(i, out.At(i, 0))
	}
	return res
}
