package reskit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// readout carries the shared mechanics of trainable linear output layers:
// the learned weight matrix Wout of shape (outputDim x inputDim), optionally
// augmented with a trailing bias column, and the fitted flag gating
// prediction.
type readout struct {
	BaseNode

	inputBias bool
	fitted    bool
	wOut      *mat.Dense
}

// WOut returns the learned weight matrix, nil before the first fit. When the
// readout carries an input bias the last column holds the intercept.
func (r *readout) WOut() *mat.Dense { return r.wOut }

// IsFitted reports whether the readout has learned weights.
func (r *readout) IsFitted() bool { return r.fitted }

// initFromData fixes dimensions from a paired batch.
func (r *readout) initFromData(x, y mat.Matrix) error {
	if r.initialized {
		return nil
	}
	if x != nil {
		_, c := x.Dims()
		if err := r.setInputDim(c); err != nil {
			return err
		}
	}
	if y != nil {
		_, c := y.Dims()
		if err := r.setOutputDim(c); err != nil {
			return err
		}
	}
	if r.inputDim == 0 || r.outputDim == 0 {
		return fmt.Errorf("%w: readout %s: both input and target dimensions must be known at initialization", ErrState, r.name)
	}
	r.initialized = true
	return r.Reset(nil)
}

// weightCols is the width of Wout, input features plus the bias column when
// enabled.
func (r *readout) weightCols() int {
	if r.inputBias {
		return r.inputDim + 1
	}
	return r.inputDim
}

// augment appends the constant-one bias column when enabled.
func (r *readout) augment(x mat.Matrix) *mat.Dense {
	rows, cols := x.Dims()
	if !r.inputBias {
		return mat.DenseCopyOf(x)
	}
	out := mat.NewDense(rows, cols+1, nil)
	out.Slice(0, rows, 0, cols).(*mat.Dense).Copy(x)
	for i := 0; i < rows; i++ {
		out.Set(i, cols, 1)
	}
	return out
}

// predict computes (Wout * Xaug^T)^T and records the last row as state.
func (r *readout) predict(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != r.inputDim {
		return nil, fmt.Errorf("%w: readout %s: expected %d input features, got %d", ErrDimension, r.name, r.inputDim, cols)
	}
	aug := r.augment(x)
	out := mat.NewDense(rows, r.outputDim, nil)
	var tmp mat.Dense
	tmp.Mul(r.wOut, aug.T())
	out.Copy(tmp.T())
	r.setStateFromRow(out, rows-1)
	return out, nil
}

// forwardFitted is the Forward shared by all readouts: prediction requires a
// prior fit, there is no lazy initialization through inference.
func (r *readout) forwardFitted(x mat.Matrix) (*mat.Dense, error) {
	if !r.fitted {
		return nil, fmt.Errorf("%w: readout %s must be fitted before forward pass", ErrState, r.name)
	}
	return r.predict(x)
}

// checkPair validates a paired batch against the readout's dimensions.
func (r *readout) checkPair(x, y mat.Matrix) error {
	xr, xc := x.Dims()
	yr, yc := y.Dims()
	if xr != yr {
		return fmt.Errorf("%w: readout %s: %d input rows but %d target rows", ErrDimension, r.name, xr, yr)
	}
	if xc != r.inputDim {
		return fmt.Errorf("%w: readout %s: expected %d input features, got %d", ErrDimension, r.name, r.inputDim, xc)
	}
	if yc != r.outputDim {
		return fmt.Errorf("%w: readout %s: expected %d target features, got %d", ErrDimension, r.name, r.outputDim, yc)
	}
	return nil
}

// copyReadout deep-copies the shared readout fields.
func (r *readout) copyReadout(name, prefix string) readout {
	c := readout{
		BaseNode:  r.copyBase(name, prefix),
		inputBias: r.inputBias,
		fitted:    r.fitted,
	}
	if r.wOut != nil {
		c.wOut = mat.DenseCopyOf(r.wOut)
		c.params["Wout"] = c.wOut
	}
	return c
}

// RidgeReadout learns its weights in closed form by Tikhonov-regularized
// least squares: Wout = (X^T X + ridge*I)^-1 X^T Y, solved through a
// Cholesky factorization. Fit is atomic: on any failure the previous weights
// are kept.
type RidgeReadout struct {
	readout
	ridge float64
}

// RidgeOption configures a RidgeReadout.
type RidgeOption func(*RidgeReadout)

// WithRidge sets the regularization strength, > 0.
var WithRidge = func(ridge float64) RidgeOption {
	return func(r *RidgeReadout) { r.ridge = ridge }
}

// WithRidgeInputBias toggles the intercept column, on by default.
var WithRidgeInputBias = func(enabled bool) RidgeOption {
	return func(r *RidgeReadout) { r.inputBias = enabled }
}

// NewRidgeReadout creates a ridge-regression readout. Defaults: ridge 1e-8,
// input bias enabled.
func NewRidgeReadout(name string, opts ...RidgeOption) (*RidgeReadout, error) {
	if name == "" {
		name = uniqueName("ridge")
	}
	r := &RidgeReadout{
		readout: readout{
			BaseNode: BaseNode{
				name:      name,
				params:    map[string]any{},
				hypers:    map[string]any{},
				trainable: true,
			},
			inputBias: true,
		},
		ridge: 1e-8,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ridge <= 0 {
		return nil, fmt.Errorf("%w: readout %s: ridge must be positive, got %v", ErrValidation, name, r.ridge)
	}
	r.hypers["ridge"] = r.ridge
	r.hypers["input_bias"] = r.inputBias
	return r, nil
}

// Ridge returns the regularization strength.
func (r *RidgeReadout) Ridge() float64 { return r.ridge }

// Initialize fixes dimensions from a paired batch.
func (r *RidgeReadout) Initialize(x, y mat.Matrix) error {
	return r.initFromData(x, y)
}

// Forward predicts from the learned weights. Calling it before Fit fails.
func (r *RidgeReadout) Forward(x mat.Matrix) (*mat.Dense, error) {
	return r.forwardFitted(x)
}

// Fit solves the regularized normal equations on the whole batch.
func (r *RidgeReadout) Fit(x, y mat.Matrix) error {
	if !r.initialized {
		if err := r.initFromData(x, y); err != nil {
			return err
		}
	}
	if err := r.checkPair(x, y); err != nil {
		return err
	}

	aug := r.augment(x)
	n := r.weightCols()

	var gram mat.Dense
	gram.Mul(aug.T(), aug)
	for i := 0; i < n; i++ {
		gram.Set(i, i, gram.At(i, i)+r.ridge)
	}

	var xty mat.Dense
	xty.Mul(aug.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(n, gram.RawMatrix().Data)); !ok {
		return fmt.Errorf("%w: readout %s: normal equations are not positive definite, increase the ridge", ErrValidation, r.name)
	}
	var sol mat.Dense
	if err := chol.SolveTo(&sol, &xty); err != nil {
		return fmt.Errorf("readout %s: solve normal equations: %w", r.name, err)
	}

	wOut := mat.NewDense(r.outputDim, n, nil)
	wOut.Copy(sol.T())
	r.wOut = wOut
	r.params["Wout"] = r.wOut
	r.fitted = true
	return nil
}

// PartialFit is not available: ridge regression is a batch solver.
func (r *RidgeReadout) PartialFit(_, _ mat.Matrix) error {
	return fmt.Errorf("%w: readout %s: ridge regression has no online update, use Fit", ErrState, r.name)
}

// Copy produces an independent readout preserving weights and state.
func (r *RidgeReadout) Copy(name string) Node {
	return &RidgeReadout{
		readout: r.copyReadout(name, "ridge"),
		ridge:   r.ridge,
	}
}

// ForceReadout learns online by recursive least squares (the FORCE rule).
// It maintains an inverse correlation estimate P, initialized to I/alpha,
// and updates weights one sample at a time through the Sherman-Morrison
// identity, so each step costs O(n^2) instead of a solve.
type ForceReadout struct {
	readout
	alpha float64
	p     *mat.Dense
}

// ForceOption configures a ForceReadout.
type ForceOption func(*ForceReadout)

// WithForceAlpha sets the P initialization gain, > 0. Smaller values start
// with a larger P and adapt faster.
var WithForceAlpha = func(alpha float64) ForceOption {
	return func(f *ForceReadout) { f.alpha = alpha }
}

// WithForceInputBias toggles the intercept column, on by default.
var WithForceInputBias = func(enabled bool) ForceOption {
	return func(f *ForceReadout) { f.inputBias = enabled }
}

// NewForceReadout creates an RLS readout. Default alpha is 1e-6.
func NewForceReadout(name string, opts ...ForceOption) (*ForceReadout, error) {
	if name == "" {
		name = uniqueName("force")
	}
	f := &ForceReadout{
		readout: readout{
			BaseNode: BaseNode{
				name:      name,
				params:    map[string]any{},
				hypers:    map[string]any{},
				trainable: true,
			},
			inputBias: true,
		},
		alpha: 1e-6,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.alpha <= 0 {
		return nil, fmt.Errorf("%w: readout %s: alpha must be positive, got %v", ErrValidation, name, f.alpha)
	}
	f.hypers["alpha"] = f.alpha
	f.hypers["input_bias"] = f.inputBias
	return f, nil
}

// Initialize fixes dimensions and seeds zero weights and P = I/alpha so the
// readout can predict mid-training.
func (f *ForceReadout) Initialize(x, y mat.Matrix) error {
	if f.initialized {
		return nil
	}
	if err := f.initFromData(x, y); err != nil {
		return err
	}
	n := f.weightCols()
	f.wOut = mat.NewDense(f.outputDim, n, nil)
	f.params["Wout"] = f.wOut
	f.p = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		f.p.Set(i, i, 1/f.alpha)
	}
	return nil
}

// Forward predicts from the current weights. FORCE weights exist from
// initialization onward, so prediction only requires at least one update.
func (f *ForceReadout) Forward(x mat.Matrix) (*mat.Dense, error) {
	return f.forwardFitted(x)
}

// PartialFit performs one RLS step per row of the sample pair.
func (f *ForceReadout) PartialFit(x, y mat.Matrix) error {
	if !f.initialized {
		if err := f.Initialize(x, y); err != nil {
			return err
		}
	}
	if err := f.checkPair(x, y); err != nil {
		return err
	}
	rows, _ := x.Dims()
	if rows == 0 {
		return nil
	}
	for t := 0; t < rows; t++ {
		f.update(rowSlice(x, t, f.inputBias), rowVec(y, t))
	}
	f.fitted = true
	return nil
}

// Fit replays the batch through the online rule in row order.
func (f *ForceReadout) Fit(x, y mat.Matrix) error {
	return f.PartialFit(x, y)
}

// update applies one Sherman-Morrison RLS step.
func (f *ForceReadout) update(r, z *mat.VecDense) {
	n := r.Len()

	k := mat.NewVecDense(n, nil)
	k.MulVec(f.p, r)
	c := 1 / (1 + mat.Dot(r, k))

	// P <- P - c * k k^T
	var outer mat.Dense
	outer.Outer(c, k, k)
	f.p.Sub(f.p, &outer)

	// e = Wout*r - z, then Wout <- Wout - c * e k^T
	e := mat.NewVecDense(f.outputDim, nil)
	e.MulVec(f.wOut, r)
	e.SubVec(e, z)
	var dw mat.Dense
	dw.Outer(c, e, k)
	f.wOut.Sub(f.wOut, &dw)
}

// Copy produces an independent readout preserving weights, P and state.
func (f *ForceReadout) Copy(name string) Node {
	c := &ForceReadout{
		readout: f.copyReadout(name, "force"),
		alpha:   f.alpha,
	}
	if f.p != nil {
		c.p = mat.DenseCopyOf(f.p)
	}
	return c
}

// LMSReadout learns online by plain stochastic gradient descent on the
// squared error: Wout <- Wout + eta * (z - Wout*r) r^T.
type LMSReadout struct {
	readout
	eta float64
}

// LMSOption configures an LMSReadout.
type LMSOption func(*LMSReadout)

// WithLMSLearningRate sets the step size, > 0.
var WithLMSLearningRate = func(eta float64) LMSOption {
	return func(l *LMSReadout) { l.eta = eta }
}

// WithLMSInputBias toggles the intercept column, on by default.
var WithLMSInputBias = func(enabled bool) LMSOption {
	return func(l *LMSReadout) { l.inputBias = enabled }
}

// NewLMSReadout creates a least-mean-squares readout. Default step size is
// 1e-3.
func NewLMSReadout(name string, opts ...LMSOption) (*LMSReadout, error) {
	if name == "" {
		name = uniqueName("lms")
	}
	l := &LMSReadout{
		readout: readout{
			BaseNode: BaseNode{
				name:      name,
				params:    map[string]any{},
				hypers:    map[string]any{},
				trainable: true,
			},
			inputBias: true,
		},
		eta: 1e-3,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.eta <= 0 {
		return nil, fmt.Errorf("%w: readout %s: learning rate must be positive, got %v", ErrValidation, name, l.eta)
	}
	l.hypers["learning_rate"] = l.eta
	l.hypers["input_bias"] = l.inputBias
	return l, nil
}

// Initialize fixes dimensions and seeds zero weights.
func (l *LMSReadout) Initialize(x, y mat.Matrix) error {
	if l.initialized {
		return nil
	}
	if err := l.initFromData(x, y); err != nil {
		return err
	}
	l.wOut = mat.NewDense(l.outputDim, l.weightCols(), nil)
	l.params["Wout"] = l.wOut
	return nil
}

// Forward predicts from the current weights.
func (l *LMSReadout) Forward(x mat.Matrix) (*mat.Dense, error) {
	return l.forwardFitted(x)
}

// PartialFit performs one gradient step per row of the sample pair.
func (l *LMSReadout) PartialFit(x, y mat.Matrix) error {
	if !l.initialized {
		if err := l.Initialize(x, y); err != nil {
			return err
		}
	}
	if err := l.checkPair(x, y); err != nil {
		return err
	}
	rows, _ := x.Dims()
	if rows == 0 {
		return nil
	}
	for t := 0; t < rows; t++ {
		r := rowSlice(x, t, l.inputBias)
		z := rowVec(y, t)

		e := mat.NewVecDense(l.outputDim, nil)
		e.MulVec(l.wOut, r)
		e.SubVec(z, e)
		var dw mat.Dense
		dw.Outer(l.eta, e, r)
		l.wOut.Add(l.wOut, &dw)
	}
	l.fitted = true
	return nil
}

// Fit replays the batch through the online rule in row order.
func (l *LMSReadout) Fit(x, y mat.Matrix) error {
	return l.PartialFit(x, y)
}

// Copy produces an independent readout preserving weights and state.
func (l *LMSReadout) Copy(name string) Node {
	return &LMSReadout{
		readout: l.copyReadout(name, "lms"),
		eta:     l.eta,
	}
}

// rowSlice extracts row t of m as a vector, appending the bias entry when
// requested.
func rowSlice(m mat.Matrix, t int, withBias bool) *mat.VecDense {
	_, cols := m.Dims()
	n := cols
	if withBias {
		n++
	}
	v := mat.NewVecDense(n, nil)
	for j := 0; j < cols; j++ {
		v.SetVec(j, m.At(t, j))
	}
	if withBias {
		v.SetVec(cols, 1)
	}
	return v
}

// rowVec extracts row t of m as a vector.
func rowVec(m mat.Matrix, t int) *mat.VecDense {
	_, cols := m.Dims()
	v := mat.NewVecDense(cols, nil)
	for j := 0; j < cols; j++ {
		v.SetVec(j, m.At(t, j))
	}
	return v
}
