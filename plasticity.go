package reskit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// IntrinsicPlasticity is a reservoir whose activation is reshaped online. A
// per-unit gain a (starting at 1) and bias b (starting at 0) wrap the base
// nonlinearity, r = f(a*s + b), and are adjusted by gradient descent so that
// each unit's output distribution approaches a target: a Gaussian of mean mu
// and deviation sigma for tanh units, an exponential of mean mu for sigmoid
// units. The reservoir runs in external-activation mode so the pre-activation
// signal s driving the rule stays available.
type IntrinsicPlasticity struct {
	Reservoir

	eta    float64
	mu     float64
	sigma  float64
	epochs int
	warmup int

	gain     *mat.VecDense
	ipBias   *mat.VecDense
	gaussian bool
}

// IPOption configures the plasticity rule.
type IPOption func(*IntrinsicPlasticity)

// WithIPLearningRate sets the gradient step size, > 0.
var WithIPLearningRate = func(eta float64) IPOption {
	return func(ip *IntrinsicPlasticity) { ip.eta = eta }
}

// WithIPTargetMean sets the target distribution mean.
var WithIPTargetMean = func(mu float64) IPOption {
	return func(ip *IntrinsicPlasticity) { ip.mu = mu }
}

// WithIPTargetDeviation sets the target Gaussian deviation, > 0. Only
// meaningful for tanh units.
var WithIPTargetDeviation = func(sigma float64) IPOption {
	return func(ip *IntrinsicPlasticity) { ip.sigma = sigma }
}

// WithIPEpochs sets how many passes Fit makes over the series, >= 1.
var WithIPEpochs = func(epochs int) IPOption {
	return func(ip *IntrinsicPlasticity) { ip.epochs = epochs }
}

// WithIPWarmup sets the number of leading time steps each pass runs without
// applying updates, >= 0.
var WithIPWarmup = func(warmup int) IPOption {
	return func(ip *IntrinsicPlasticity) { ip.warmup = warmup }
}

// NewIntrinsicPlasticity creates a plastic reservoir. The activation must be
// tanh (the default) or sigmoid. Reservoir options apply first, then IP
// options; external-activation mode is forced.
func NewIntrinsicPlasticity(name string, units int, resOpts []ReservoirOption, opts ...IPOption) (*IntrinsicPlasticity, error) {
	if name == "" {
		name = uniqueName("ip")
	}
	res, err := NewReservoir(name, units, append(resOpts, WithExternalActivation())...)
	if err != nil {
		return nil, err
	}
	ip := &IntrinsicPlasticity{
		Reservoir: *res,
		eta:       5e-4,
		mu:        0.0,
		sigma:     1.0,
		epochs:    1,
		warmup:    0,
	}
	for _, opt := range opts {
		opt(ip)
	}

	switch ip.activationName {
	case "tanh":
		ip.gaussian = true
	case "sigmoid":
		ip.gaussian = false
	default:
		return nil, fmt.Errorf("%w: node %s: intrinsic plasticity requires tanh or sigmoid activation, got %q", ErrValidation, name, ip.activationName)
	}
	if ip.eta <= 0 {
		return nil, fmt.Errorf("%w: node %s: learning rate must be positive, got %v", ErrValidation, name, ip.eta)
	}
	if !ip.gaussian && ip.mu <= 0 {
		return nil, fmt.Errorf("%w: node %s: exponential target mean must be positive, got %v", ErrValidation, name, ip.mu)
	}
	if ip.sigma <= 0 {
		return nil, fmt.Errorf("%w: node %s: target deviation must be positive, got %v", ErrValidation, name, ip.sigma)
	}
	if ip.epochs < 1 {
		return nil, fmt.Errorf("%w: node %s: epochs must be at least 1, got %d", ErrValidation, name, ip.epochs)
	}
	if ip.warmup < 0 {
		return nil, fmt.Errorf("%w: node %s: warmup must be non-negative, got %d", ErrValidation, name, ip.warmup)
	}

	ip.trainable = true
	ip.hypers["ip_learning_rate"] = ip.eta
	ip.hypers["mu"] = ip.mu
	ip.hypers["sigma"] = ip.sigma
	ip.hypers["epochs"] = ip.epochs
	ip.hypers["warmup"] = ip.warmup
	return ip, nil
}

// Gain returns the per-unit gain vector, nil before initialization.
func (ip *IntrinsicPlasticity) Gain() *mat.VecDense { return ip.gain }

// IPBias returns the per-unit activation bias, nil before initialization.
func (ip *IntrinsicPlasticity) IPBias() *mat.VecDense { return ip.ipBias }

// Initialize builds the reservoir weights, a unit gain and a zero bias.
func (ip *IntrinsicPlasticity) Initialize(x, y mat.Matrix) error {
	if ip.initialized {
		return nil
	}
	if err := ip.Reservoir.Initialize(x, y); err != nil {
		return err
	}
	ones := make([]float64, ip.units)
	for i := range ones {
		ones[i] = 1
	}
	ip.gain = mat.NewVecDense(ip.units, ones)
	ip.ipBias = mat.NewVecDense(ip.units, nil)
	ip.params["a"] = ip.gain
	ip.params["b"] = ip.ipBias
	return nil
}

// Forward rolls the reservoir with the reshaped activation f(a*s + b).
func (ip *IntrinsicPlasticity) Forward(x mat.Matrix) (*mat.Dense, error) {
	if !ip.initialized {
		return nil, fmt.Errorf("%w: node %s must be initialized before forward pass", ErrState, ip.name)
	}
	rows, cols := x.Dims()
	if cols != ip.inputDim {
		return nil, fmt.Errorf("%w: node %s: expected %d input features, got %d", ErrDimension, ip.name, ip.inputDim, cols)
	}
	out := mat.NewDense(rows, ip.units, nil)
	u := mat.NewVecDense(cols, nil)
	for t := 0; t < rows; t++ {
		for j := 0; j < cols; j++ {
			u.SetVec(j, x.At(t, j))
		}
		ip.step(u)
		out.SetRow(t, ip.state.RawVector().Data)
	}
	return out, nil
}

func (ip *IntrinsicPlasticity) step(u *mat.VecDense) {
	pre := ip.kernel(u)
	next := mat.NewVecDense(ip.units, nil)
	next.ScaleVec(1-ip.lr, ip.internal)
	next.AddScaledVec(next, ip.lr, pre)
	ip.internal = next

	shaped := mat.NewVecDense(ip.units, nil)
	for i := 0; i < ip.units; i++ {
		shaped.SetVec(i, ip.gain.AtVec(i)*ip.internal.AtVec(i)+ip.ipBias.AtVec(i))
	}
	ip.state = applyVec(ip.fn, shaped)
}

// Fit runs the configured number of epochs over the series, resetting the
// state before each pass and skipping updates during warmup steps. The target
// series is ignored; the rule is unsupervised.
func (ip *IntrinsicPlasticity) Fit(x, _ mat.Matrix) error {
	if !ip.initialized {
		if err := ip.Initialize(x, nil); err != nil {
			return err
		}
	}
	rows, _ := x.Dims()
	if ip.warmup >= rows {
		return fmt.Errorf("%w: node %s: warmup (%d) must be shorter than the series (%d steps)", ErrValidation, ip.name, ip.warmup, rows)
	}
	for e := 0; e < ip.epochs; e++ {
		if err := ip.Reset(nil); err != nil {
			return err
		}
		if err := ip.pass(x); err != nil {
			return err
		}
	}
	return nil
}

// PartialFit makes a single updating pass over the series without resetting
// the state.
func (ip *IntrinsicPlasticity) PartialFit(x, _ mat.Matrix) error {
	if !ip.initialized {
		if err := ip.Initialize(x, nil); err != nil {
			return err
		}
	}
	return ip.pass(x)
}

func (ip *IntrinsicPlasticity) pass(x mat.Matrix) error {
	rows, cols := x.Dims()
	if cols != ip.inputDim {
		return fmt.Errorf("%w: node %s: expected %d input features, got %d", ErrDimension, ip.name, ip.inputDim, cols)
	}
	u := mat.NewVecDense(cols, nil)
	for t := 0; t < rows; t++ {
		for j := 0; j < cols; j++ {
			u.SetVec(j, x.At(t, j))
		}
		ip.step(u)
		if t < ip.warmup {
			continue
		}
		ip.update()
	}
	return nil
}

// update applies one gradient step per unit. x is the unit's pre-activation
// input, y its reshaped output.
func (ip *IntrinsicPlasticity) update() {
	for i := 0; i < ip.units; i++ {
		x := ip.internal.AtVec(i)
		y := ip.state.AtVec(i)
		var db float64
		if ip.gaussian {
			s2 := ip.sigma * ip.sigma
			db = -ip.eta * (-(ip.mu / s2) + (y/s2)*(2*s2+1-y*y+ip.mu*y))
		} else {
			db = -ip.eta * (-(1 / ip.mu) + (2+1/ip.mu)*y - y*y/ip.mu)
		}
		da := ip.eta/ip.gain.AtVec(i) + db*x
		ip.gain.SetVec(i, ip.gain.AtVec(i)+da)
		ip.ipBias.SetVec(i, ip.ipBias.AtVec(i)+db)
	}
}

// Copy produces an independent plastic reservoir preserving weights, gain,
// bias and state.
func (ip *IntrinsicPlasticity) Copy(name string) Node {
	if name == "" {
		name = uniqueName("ip")
	}
	res := ip.Reservoir.Copy(name).(*Reservoir)
	c := &IntrinsicPlasticity{
		Reservoir: *res,
		eta:       ip.eta,
		mu:        ip.mu,
		sigma:     ip.sigma,
		epochs:    ip.epochs,
		warmup:    ip.warmup,
		gaussian:  ip.gaussian,
	}
	if ip.gain != nil {
		c.gain = mat.VecDenseCopyOf(ip.gain)
		c.ipBias = mat.VecDenseCopyOf(ip.ipBias)
		c.params["a"] = c.gain
		c.params["b"] = c.ipBias
	}
	return c
}
