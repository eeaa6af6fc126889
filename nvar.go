package reskit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NVAR is a nonlinear vector autoregression node. Instead of a random
// recurrent pool it builds its features deterministically from a rolling
// window of past inputs: the linear part concatenates the current input with
// delayed copies (delay lags spaced strides steps apart), and the nonlinear
// part appends every monomial of the given order over the linear features
// (unique products, combinations with replacement). With input dimension d
// the output has delay*d linear features plus C(delay*d + order - 1, order)
// monomials.
type NVAR struct {
	BaseNode

	delay   int
	order   int
	strides int

	// window of the last delay*strides inputs, most recent first
	buffer [][]float64

	// monomials[i] lists the linear-feature indices multiplied together
	monomials [][]int
	linDim    int
}

// NewNVAR creates an NVAR node with the given window depth and monomial
// order. strides spaces the taps of the window; 1 uses consecutive steps.
func NewNVAR(name string, delay, order, strides int) (*NVAR, error) {
	if name == "" {
		name = uniqueName("nvar")
	}
	if delay < 1 {
		return nil, fmt.Errorf("%w: nvar %s: delay must be at least 1, got %d", ErrValidation, name, delay)
	}
	if order < 1 {
		return nil, fmt.Errorf("%w: nvar %s: order must be at least 1, got %d", ErrValidation, name, order)
	}
	if strides < 1 {
		return nil, fmt.Errorf("%w: nvar %s: strides must be at least 1, got %d", ErrValidation, name, strides)
	}
	n := &NVAR{
		BaseNode: BaseNode{
			name:   name,
			params: map[string]any{},
			hypers: map[string]any{"delay": delay, "order": order, "strides": strides},
		},
		delay:   delay,
		order:   order,
		strides: strides,
	}
	return n, nil
}

// Delay returns the window depth.
func (n *NVAR) Delay() int { return n.delay }

// Order returns the monomial order.
func (n *NVAR) Order() int { return n.order }

// Strides returns the tap spacing.
func (n *NVAR) Strides() int { return n.strides }

// Initialize fixes the input dimension from x and derives the feature layout.
func (n *NVAR) Initialize(x, _ mat.Matrix) error {
	if n.initialized {
		return nil
	}
	if x != nil {
		_, c := x.Dims()
		if err := n.setInputDim(c); err != nil {
			return err
		}
	}
	if n.inputDim == 0 {
		return fmt.Errorf("%w: nvar %s: input dimension must be set before initialization", ErrState, n.name)
	}
	n.linDim = n.delay * n.inputDim
	n.monomials = combinationsWithReplacement(n.linDim, n.order)
	if err := n.setOutputDim(n.linDim + len(n.monomials)); err != nil {
		return err
	}
	n.initialized = true
	return n.Reset(nil)
}

// Forward consumes the rows of x in order, sliding the input window one step
// per row, and returns the feature trajectory.
func (n *NVAR) Forward(x mat.Matrix) (*mat.Dense, error) {
	if !n.initialized {
		if err := n.Initialize(x, nil); err != nil {
			return nil, err
		}
	}
	rows, cols := x.Dims()
	if cols != n.inputDim {
		return nil, fmt.Errorf("%w: nvar %s: expected %d input features, got %d", ErrDimension, n.name, n.inputDim, cols)
	}

	out := mat.NewDense(rows, n.outputDim, nil)
	lin := make([]float64, n.linDim)
	for t := 0; t < rows; t++ {
		u := make([]float64, cols)
		mat.Row(u, t, x)
		n.push(u)

		for k := 0; k < n.delay; k++ {
			copy(lin[k*n.inputDim:(k+1)*n.inputDim], n.buffer[k*n.strides])
		}
		row := out.RawRowView(t)
		copy(row, lin)
		for m, idx := range n.monomials {
			p := 1.0
			for _, j := range idx {
				p *= lin[j]
			}
			row[n.linDim+m] = p
		}
	}
	n.setStateFromRow(out, rows-1)
	return out, nil
}

// push shifts the window and installs u as the most recent entry.
func (n *NVAR) push(u []float64) {
	last := len(n.buffer) - 1
	first := n.buffer[last]
	copy(n.buffer[1:], n.buffer[:last])
	copy(first, u)
	n.buffer[0] = first
}

// Reset zeroes the state and clears the input window.
func (n *NVAR) Reset(state []float64) error {
	if err := n.BaseNode.Reset(state); err != nil {
		return err
	}
	depth := (n.delay-1)*n.strides + 1
	n.buffer = make([][]float64, depth)
	for i := range n.buffer {
		n.buffer[i] = make([]float64, n.inputDim)
	}
	return nil
}

// Copy produces an independent NVAR preserving dimensions, window contents
// and state.
func (n *NVAR) Copy(name string) Node {
	c := &NVAR{
		BaseNode: n.copyBase(name, "nvar"),
		delay:    n.delay,
		order:    n.order,
		strides:  n.strides,
		linDim:   n.linDim,
	}
	if n.monomials != nil {
		c.monomials = make([][]int, len(n.monomials))
		for i, idx := range n.monomials {
			c.monomials[i] = append([]int(nil), idx...)
		}
	}
	if n.buffer != nil {
		c.buffer = make([][]float64, len(n.buffer))
		for i, row := range n.buffer {
			c.buffer[i] = append([]float64(nil), row...)
		}
	}
	return c
}

// combinationsWithReplacement enumerates all non-decreasing index tuples of
// the given length over [0, n), in lexicographic order.
func combinationsWithReplacement(n, length int) [][]int {
	var out [][]int
	idx := make([]int, length)
	var rec func(pos, start int)
	rec = func(pos, start int) {
		if pos == length {
			out = append(out, append([]int(nil), idx...))
			return
		}
		for i := start; i < n; i++ {
			idx[pos] = i
			rec(pos+1, i)
		}
	}
	rec(0, 0)
	return out
}
