package reskit

import (
	"fmt"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// Node is a named, stateful computation unit in a graph. Input matrices are
// (timesteps x features); a node consumes one or more time steps through
// Forward and keeps the most recent output as its state vector.
//
// A node is constructed uninitialized. Initialize fixes its shapes and builds
// its weights exactly once; further calls are no-ops. Forward on a plain node
// lazily initializes from the first input. Reset zeroes the state without
// touching weights.
type Node interface {
	Name() string
	IsInitialized() bool
	IsTrainable() bool

	// InputDim and OutputDim report feature counts, 0 until set.
	InputDim() int
	OutputDim() int

	// Initialize fixes shapes from the given input/target data (either may
	// be nil) and builds internal weights. Idempotent: a second call never
	// re-derives shapes or weights.
	Initialize(x, y mat.Matrix) error

	// Forward consumes one time step (or a batch of steps, one per row) and
	// returns the output, mutating the node state in place.
	Forward(x mat.Matrix) (*mat.Dense, error)

	// State returns the current state vector of length OutputDim.
	State() *mat.VecDense

	// Reset restores the state to zero, or to the given vector which must
	// have exactly OutputDim entries.
	Reset(state []float64) error

	GetParam(name string) (any, error)
	SetParam(name string, value any) error

	// Copy produces an independent deep copy preserving dimensions, weights
	// and state. An empty name generates a fresh unique one.
	Copy(name string) Node
}

// Trainable is implemented by nodes that carry a learning rule.
type Trainable interface {
	Node

	// Fit learns from a batch of paired samples. For closed-form learners
	// the whole batch either updates weights or the call fails with weights
	// unchanged; online learners replay PartialFit and have no atomicity
	// guarantee across samples.
	Fit(x, y mat.Matrix) error

	// PartialFit performs one online update from a single sample.
	PartialFit(x, y mat.Matrix) error
}

var nameCounter atomic.Uint64

// uniqueName returns prefix_N with a process-unique N, keeping generated
// graph names stable for error messages within a run.
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, nameCounter.Add(1))
}

// BaseNode is the identity pass-through node and the embeddable base for
// every concrete node type. As a standalone node it forwards its input
// unchanged, fixing both dimensions lazily on first use.
type BaseNode struct {
	name        string
	params      map[string]any
	hypers      map[string]any
	inputDim    int
	outputDim   int
	state       *mat.VecDense
	initialized bool
	trainable   bool

	// feedback, when set, points at a node whose previous output this node
	// may consult during its own forward pass. Not an edge: it never
	// participates in cycle detection or scheduling.
	feedback Node
}

// NewNode creates an identity pass-through node. An empty name generates a
// unique one.
func NewNode(name string) *BaseNode {
	if name == "" {
		name = uniqueName("node")
	}
	return &BaseNode{
		name:   name,
		params: map[string]any{},
		hypers: map[string]any{},
	}
}

func (n *BaseNode) Name() string        { return n.name }
func (n *BaseNode) IsInitialized() bool { return n.initialized }
func (n *BaseNode) IsTrainable() bool   { return n.trainable }
func (n *BaseNode) InputDim() int       { return n.inputDim }
func (n *BaseNode) OutputDim() int      { return n.outputDim }

// setInputDim fixes the input feature count. Shapes are set exactly once:
// mutation after initialization is an error.
func (n *BaseNode) setInputDim(dim int) error {
	if n.initialized && n.inputDim != 0 && n.inputDim != dim {
		return fmt.Errorf("%w: node %s: input dimension already fixed to %d, cannot set to %d", ErrState, n.name, n.inputDim, dim)
	}
	n.inputDim = dim
	return nil
}

func (n *BaseNode) setOutputDim(dim int) error {
	if n.initialized && n.outputDim != 0 && n.outputDim != dim {
		return fmt.Errorf("%w: node %s: output dimension already fixed to %d, cannot set to %d", ErrState, n.name, n.outputDim, dim)
	}
	n.outputDim = dim
	return nil
}

func (n *BaseNode) markInitialized() { n.initialized = true }

// Initialize fixes shapes from data. For the identity node both dimensions
// follow the input's feature count.
func (n *BaseNode) Initialize(x, y mat.Matrix) error {
	if n.initialized {
		return nil
	}
	if x != nil {
		_, c := x.Dims()
		if err := n.setInputDim(c); err != nil {
			return err
		}
		if err := n.setOutputDim(c); err != nil {
			return err
		}
	}
	if y != nil {
		_, c := y.Dims()
		if err := n.setOutputDim(c); err != nil {
			return err
		}
	}
	n.initialized = true
	return n.Reset(nil)
}

// Forward returns the input unchanged, lazily initializing on first call.
func (n *BaseNode) Forward(x mat.Matrix) (*mat.Dense, error) {
	if !n.initialized {
		if err := n.Initialize(x, nil); err != nil {
			return nil, err
		}
	}
	r, c := x.Dims()
	if c != n.inputDim {
		return nil, fmt.Errorf("%w: node %s: expected %d input features, got %d", ErrDimension, n.name, n.inputDim, c)
	}
	out := mat.DenseCopyOf(x)
	n.setStateFromRow(out, r-1)
	return out, nil
}

// State returns the current state vector. Before the output dimension is
// known it is a single zero.
func (n *BaseNode) State() *mat.VecDense {
	if n.state == nil {
		return mat.NewVecDense(max(n.outputDim, 1), nil)
	}
	return n.state
}

// Reset zeroes the state, or installs the given vector after checking its
// length against the output dimension.
func (n *BaseNode) Reset(state []float64) error {
	if state == nil {
		if n.outputDim > 0 {
			n.state = mat.NewVecDense(n.outputDim, nil)
		} else {
			n.state = nil
		}
		return nil
	}
	if len(state) != n.outputDim {
		return fmt.Errorf("%w: node %s: reset state has %d entries, want %d", ErrDimension, n.name, len(state), n.outputDim)
	}
	v := make([]float64, len(state))
	copy(v, state)
	n.state = mat.NewVecDense(len(v), v)
	return nil
}

// setStateFromRow installs row i of m as the node state.
func (n *BaseNode) setStateFromRow(m *mat.Dense, i int) {
	_, c := m.Dims()
	v := make([]float64, c)
	mat.Row(v, i, m)
	n.state = mat.NewVecDense(c, v)
}

// setStateVec installs a copy of v as the node state.
func (n *BaseNode) setStateVec(v *mat.VecDense) {
	n.state = mat.VecDenseCopyOf(v)
}

// GetParam reads a parameter or hyperparameter by name. The namespace is
// fixed at construction; unknown keys fail.
func (n *BaseNode) GetParam(name string) (any, error) {
	if v, ok := n.params[name]; ok {
		return v, nil
	}
	if v, ok := n.hypers[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: no parameter %q in node %s", ErrParamNotFound, name, n.name)
}

// SetParam writes a parameter. Hyperparameters are immutable after
// construction and cannot be written through this path.
func (n *BaseNode) SetParam(name string, value any) error {
	if _, ok := n.params[name]; ok {
		n.params[name] = value
		return nil
	}
	return fmt.Errorf("%w: no parameter %q in node %s", ErrParamNotFound, name, n.name)
}

// SetFeedback attaches a feedback reference. The node's forward pass may
// consult the feedback node's previous output via FeedbackState.
func (n *BaseNode) SetFeedback(fb Node) { n.feedback = fb }

// Feedback returns the attached feedback node, nil if none.
func (n *BaseNode) Feedback() Node { return n.feedback }

// FeedbackState returns a copy of the feedback node's current state, nil if
// no feedback is attached.
func (n *BaseNode) FeedbackState() *mat.VecDense {
	if n.feedback == nil {
		return nil
	}
	return mat.VecDenseCopyOf(n.feedback.State())
}

// Copy produces an independent identity node with the same dimensions and
// state.
func (n *BaseNode) Copy(name string) Node {
	c := n.copyBase(name, "node")
	return &c
}

// copyBase deep-copies the embedded base. prefix names the copy when name is
// empty.
func (n *BaseNode) copyBase(name, prefix string) BaseNode {
	if name == "" {
		name = uniqueName(prefix)
	}
	c := BaseNode{
		name:        name,
		params:      make(map[string]any, len(n.params)),
		hypers:      make(map[string]any, len(n.hypers)),
		inputDim:    n.inputDim,
		outputDim:   n.outputDim,
		initialized: n.initialized,
		trainable:   n.trainable,
		feedback:    n.feedback,
	}
	for k, v := range n.params {
		c.params[k] = copyParamValue(v)
	}
	for k, v := range n.hypers {
		c.hypers[k] = copyParamValue(v)
	}
	if n.state != nil {
		c.state = mat.VecDenseCopyOf(n.state)
	}
	return c
}

// copyParamValue deep-copies matrix-valued parameters so copies never alias
// the original's weights.
func copyParamValue(v any) any {
	switch m := v.(type) {
	case *mat.Dense:
		if m == nil {
			return (*mat.Dense)(nil)
		}
		return mat.DenseCopyOf(m)
	case *mat.VecDense:
		if m == nil {
			return (*mat.VecDense)(nil)
		}
		return mat.VecDenseCopyOf(m)
	default:
		return v
	}
}
