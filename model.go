package reskit

import (
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// Model is a directed acyclic graph of nodes that behaves as one composite
// node. Input nodes are those without parents, output nodes those without
// children; both sets are derived from the edges, never declared. Every
// structural mutation re-validates the graph, so a Model is acyclic at all
// times.
//
// A forward pass walks the nodes in a deterministic topological order,
// feeding each node the full output sequence of its parents. A node with
// several parents receives their outputs concatenated feature-wise, except
// for Concat nodes which handle the merge themselves.
type Model struct {
	BaseNode

	g     *graph
	order []string
	log   logr.Logger
}

// ModelOption configures a Model at construction.
type ModelOption func(*Model)

// WithModelLogger attaches a logger. Walks and structural changes are traced
// at V(1).
var WithModelLogger = func(log logr.Logger) ModelOption {
	return func(m *Model) { m.log = log }
}

// NewModel creates an empty model. An empty name generates a unique one.
func NewModel(name string, opts ...ModelOption) *Model {
	if name == "" {
		name = uniqueName("model")
	}
	m := &Model{
		BaseNode: BaseNode{
			name:   name,
			params: map[string]any{},
			hypers: map[string]any{},
		},
		g:   newGraph(),
		log: logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddNode registers a node. A node already registered under the same name is
// a no-op; a different node with a colliding name fails.
func (m *Model) AddNode(n Node) error {
	if err := m.g.addNode(n); err != nil {
		return err
	}
	return m.revalidate()
}

// AddEdge registers both endpoints if needed and connects parent to child.
// An edge that would close a cycle is rejected and the model is left
// unchanged.
func (m *Model) AddEdge(parent, child Node) error {
	if err := m.g.addNode(parent); err != nil {
		return err
	}
	if err := m.g.addNode(child); err != nil {
		return err
	}
	added := m.g.addEdgeTracked(parent.Name(), child.Name())
	if err := m.revalidate(); err != nil {
		if added {
			m.g.removeEdge(parent.Name(), child.Name())
			// restore the previous schedule
			if rerr := m.revalidate(); rerr != nil {
				return multierr.Append(err, rerr)
			}
		}
		return err
	}
	m.log.V(1).Info("edge added", "model", m.name, "parent", parent.Name(), "child", child.Name())
	return nil
}

// revalidate re-runs the structural checks and rebuilds the schedule.
func (m *Model) revalidate() error {
	if err := m.g.validate(); err != nil {
		return err
	}
	order, err := m.g.topologicalSort()
	if err != nil {
		return err
	}
	m.order = order
	return nil
}

// Node retrieves a registered node by name.
func (m *Model) Node(name string) (Node, error) {
	n, ok := m.g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	return n, nil
}

// Nodes returns all nodes in the current topological schedule.
func (m *Model) Nodes() []Node {
	out := make([]Node, len(m.order))
	for i, name := range m.order {
		out[i] = m.g.nodes[name]
	}
	return out
}

// Edges returns every (parent, child) pair, following the schedule for
// parents and insertion order for each parent's children.
func (m *Model) Edges() [][2]string {
	var edges [][2]string
	for _, parent := range m.order {
		for _, child := range m.g.children[parent] {
			edges = append(edges, [2]string{parent, child})
		}
	}
	return edges
}

// Inputs returns the nodes without parents, sorted by name.
func (m *Model) Inputs() []Node {
	names := m.g.inputNames()
	out := make([]Node, len(names))
	for i, name := range names {
		out[i] = m.g.nodes[name]
	}
	return out
}

// Outputs returns the nodes without children, sorted by name.
func (m *Model) Outputs() []Node {
	names := m.g.outputNames()
	out := make([]Node, len(names))
	for i, name := range names {
		out[i] = m.g.nodes[name]
	}
	return out
}

// TrainableNodes returns the trainable nodes in schedule order.
func (m *Model) TrainableNodes() []Trainable {
	var out []Trainable
	for _, name := range m.order {
		if t, ok := m.g.nodes[name].(Trainable); ok && t.IsTrainable() {
			out = append(out, t)
		}
	}
	return out
}

// IsEmpty reports whether the model holds no nodes.
func (m *Model) IsEmpty() bool { return len(m.g.nodes) == 0 }

// InputDim sums the input dimensions of the input nodes.
func (m *Model) InputDim() int {
	total := 0
	for _, n := range m.Inputs() {
		total += n.InputDim()
	}
	return total
}

// OutputDim sums the output dimensions of the output nodes.
func (m *Model) OutputDim() int {
	total := 0
	for _, n := range m.Outputs() {
		total += n.OutputDim()
	}
	return total
}

// IsInitialized reports whether every node in the model is initialized.
func (m *Model) IsInitialized() bool {
	if m.IsEmpty() {
		return false
	}
	for _, n := range m.g.nodes {
		if !n.IsInitialized() {
			return false
		}
	}
	return true
}

// IsTrainable reports whether any node carries a learning rule.
func (m *Model) IsTrainable() bool {
	return len(m.TrainableNodes()) > 0
}

// Initialize propagates x through the graph once, fixing every node's
// shapes. Trainable nodes see y at their own initialization. Idempotent.
func (m *Model) Initialize(x, y mat.Matrix) error {
	if m.IsInitialized() {
		return nil
	}
	if x == nil {
		return fmt.Errorf("%w: model %s: initialization requires input data", ErrState, m.name)
	}
	_, err := m.walk(m.broadcast(x), y, false)
	return err
}

// broadcast maps the same input matrix to every input node.
func (m *Model) broadcast(x mat.Matrix) map[string]mat.Matrix {
	inputs := make(map[string]mat.Matrix)
	for _, name := range m.g.inputNames() {
		inputs[name] = x
	}
	return inputs
}

// Forward feeds x to every input node and walks the graph. The model must
// contain at least one node. The return value is the output node's sequence;
// with several output nodes their sequences are concatenated feature-wise in
// name order.
func (m *Model) Forward(x mat.Matrix) (*mat.Dense, error) {
	return m.ForwardNamed(m.broadcast(x))
}

// ForwardNamed feeds each input node its own matrix, keyed by node name.
// Every input node must be served; extra keys fail.
func (m *Model) ForwardNamed(inputs map[string]mat.Matrix) (*mat.Dense, error) {
	if m.IsEmpty() {
		return nil, fmt.Errorf("%w: model %s is empty", ErrState, m.name)
	}
	inputNames := m.g.inputNames()
	for name := range inputs {
		if !slices.Contains(inputNames, name) {
			return nil, fmt.Errorf("%w: model %s: %q is not an input node", ErrNodeNotFound, m.name, name)
		}
	}
	outputs, err := m.walk(inputs, nil, false)
	if err != nil {
		return nil, err
	}
	return m.gatherOutputs(outputs)
}

// Run processes several series in order, keeping node states across series.
// One output sequence is returned per input series.
func (m *Model) Run(series []mat.Matrix) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(series))
	for i, x := range series {
		y, err := m.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("model %s: series %d: %w", m.name, i, err)
		}
		out[i] = y
	}
	return out, nil
}

// Fit walks the graph once: every trainable node is fitted on the inputs it
// receives from its parents against the target y, then forwards with its
// learned weights so downstream nodes train on post-fit outputs.
func (m *Model) Fit(x, y mat.Matrix) error {
	if m.IsEmpty() {
		return fmt.Errorf("%w: model %s is empty", ErrState, m.name)
	}
	if !m.IsTrainable() {
		return fmt.Errorf("%w: model %s has no trainable node", ErrState, m.name)
	}
	_, err := m.walk(m.broadcast(x), y, true)
	return err
}

// walk executes the schedule. Each node receives the full output sequence of
// its parents; uninitialized nodes are initialized from their actual input
// (and y when trainable). With fit set, trainable nodes learn before
// forwarding.
func (m *Model) walk(inputs map[string]mat.Matrix, y mat.Matrix, fit bool) (map[string]*mat.Dense, error) {
	outputs := make(map[string]*mat.Dense, len(m.order))
	for _, name := range m.order {
		node := m.g.nodes[name]
		parents := m.g.parents[name]

		var out *mat.Dense
		var err error
		if concat, ok := node.(*Concat); ok && len(parents) > 0 {
			ins := make([]*mat.Dense, len(parents))
			for i, p := range parents {
				ins[i] = outputs[p]
			}
			out, err = concat.ForwardMultiple(ins)
		} else {
			var in mat.Matrix
			if len(parents) == 0 {
				x, ok := inputs[name]
				if !ok {
					return nil, fmt.Errorf("%w: model %s: no input provided for input node %s", ErrState, m.name, name)
				}
				in = x
			} else {
				in = gatherParents(outputs, parents)
			}

			if !node.IsInitialized() {
				var target mat.Matrix
				if node.IsTrainable() {
					target = y
				}
				if ierr := node.Initialize(in, target); ierr != nil {
					return nil, fmt.Errorf("model %s: initialize node %s: %w", m.name, name, ierr)
				}
			}
			if fit {
				if t, ok := node.(Trainable); ok && t.IsTrainable() {
					if ferr := t.Fit(in, y); ferr != nil {
						return nil, fmt.Errorf("model %s: fit node %s: %w", m.name, name, ferr)
					}
					m.log.V(1).Info("node fitted", "model", m.name, "node", name)
				}
			}
			out, err = node.Forward(in)
		}
		if err != nil {
			return nil, fmt.Errorf("model %s: forward node %s: %w", m.name, name, err)
		}
		outputs[name] = out
	}
	m.markInitialized()
	return outputs, nil
}

// gatherParents concatenates parent output sequences feature-wise, in edge
// order. A single parent passes through unchanged.
func gatherParents(outputs map[string]*mat.Dense, parents []string) mat.Matrix {
	if len(parents) == 1 {
		return outputs[parents[0]]
	}
	rows, _ := outputs[parents[0]].Dims()
	total := 0
	for _, p := range parents {
		_, c := outputs[p].Dims()
		total += c
	}
	out := mat.NewDense(rows, total, nil)
	offset := 0
	for _, p := range parents {
		_, c := outputs[p].Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(outputs[p])
		offset += c
	}
	return out
}

// gatherOutputs assembles the model output from the output nodes and records
// its last row as the model state.
func (m *Model) gatherOutputs(outputs map[string]*mat.Dense) (*mat.Dense, error) {
	names := m.g.outputNames()
	if len(names) == 1 {
		out := outputs[names[0]]
		r, _ := out.Dims()
		m.setStateFromRow(out, r-1)
		return out, nil
	}
	parts := make([]string, len(names))
	copy(parts, names)
	combined := gatherParents(outputs, parts).(*mat.Dense)
	r, _ := combined.Dims()
	m.setStateFromRow(combined, r-1)
	return combined, nil
}

// State returns the model state, the concatenated states of its output
// nodes.
func (m *Model) State() *mat.VecDense {
	if m.state != nil {
		return m.state
	}
	return m.BaseNode.State()
}

// Reset resets every node, collecting all failures. A non-nil state is
// rejected: composite state must be set on the member nodes directly.
func (m *Model) Reset(state []float64) error {
	if state != nil {
		return fmt.Errorf("%w: model %s: reset with explicit state is not supported on a composite node", ErrState, m.name)
	}
	var err error
	for _, name := range m.order {
		err = multierr.Append(err, m.g.nodes[name].Reset(nil))
	}
	m.state = nil
	return err
}

// GetParam resolves "node.param" paths against the member nodes.
func (m *Model) GetParam(name string) (any, error) {
	node, param, ok := splitParamPath(name)
	if !ok {
		return nil, fmt.Errorf("%w: model parameter %q must be of the form node.param", ErrParamNotFound, name)
	}
	n, err := m.Node(node)
	if err != nil {
		return nil, err
	}
	return n.GetParam(param)
}

// SetParam resolves "node.param" paths against the member nodes.
func (m *Model) SetParam(name string, value any) error {
	node, param, ok := splitParamPath(name)
	if !ok {
		return fmt.Errorf("%w: model parameter %q must be of the form node.param", ErrParamNotFound, name)
	}
	n, err := m.Node(node)
	if err != nil {
		return err
	}
	return n.SetParam(param, value)
}

func splitParamPath(name string) (node, param string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:], i > 0 && i < len(name)-1
		}
	}
	return "", "", false
}

// Copy produces an independent model: every node is deep-copied under a
// _copy suffixed name and every edge is re-mapped to the copies. An empty
// name appends _copy to the model's name too.
func (m *Model) Copy(name string) Node {
	if name == "" {
		name = m.name + "_copy"
	}
	c := NewModel(name, WithModelLogger(m.log))
	c.g = m.g.copy(func(old string) string { return old + "_copy" })
	c.order = make([]string, len(m.order))
	for i, old := range m.order {
		c.order[i] = old + "_copy"
	}
	if m.state != nil {
		c.state = mat.VecDenseCopyOf(m.state)
	}
	return c
}
