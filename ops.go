package reskit

import (
	"fmt"
)

// Link chains parent into child and returns the resulting model. Either side
// may itself be a Model, in which case its nodes and edges are absorbed and
// the connection runs from the model's output nodes to the other side's
// input nodes. The operands are registered by reference, not copied, so a
// node linked twice is the same stateful unit in both models.
func Link(parent, child Node) (*Model, error) {
	m := NewModel("")
	pouts, err := absorb(m, parent)
	if err != nil {
		return nil, err
	}
	_, cins, err := absorbBoth(m, child)
	if err != nil {
		return nil, err
	}
	for _, p := range pouts {
		for _, c := range cins {
			if err := checkLink(p, c); err != nil {
				return nil, err
			}
			if err := m.AddEdge(p, c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// LinkMany routes several parents into one child. More than one parent gets
// a fresh feature-wise Concat inserted between them and the child, unless the
// child already is a Concat.
func LinkMany(parents []Node, child Node) (*Model, error) {
	if len(parents) == 0 {
		return nil, fmt.Errorf("%w: link requires at least one parent", ErrStructural)
	}
	edges, err := concatRewrite(parents, child)
	if err != nil {
		return nil, err
	}
	return modelFromEdges(edges)
}

// concatRewrite computes the edge list that routes parents into child,
// inserting a Concat when needed. It is a pure rewrite: no model or node is
// mutated, the same inputs always produce an equivalent edge list.
func concatRewrite(parents []Node, child Node) ([][2]Node, error) {
	if len(parents) == 1 {
		return [][2]Node{{parents[0], child}}, nil
	}
	if _, ok := child.(*Concat); ok {
		edges := make([][2]Node, len(parents))
		for i, p := range parents {
			edges[i] = [2]Node{p, child}
		}
		return edges, nil
	}
	concat, err := NewConcat(1, "")
	if err != nil {
		return nil, err
	}
	edges := make([][2]Node, 0, len(parents)+1)
	for _, p := range parents {
		edges = append(edges, [2]Node{p, concat})
	}
	edges = append(edges, [2]Node{concat, child})
	return edges, nil
}

// FanOut routes one parent into several children.
func FanOut(parent Node, children []Node) (*Model, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: fan-out requires at least one child", ErrStructural)
	}
	edges := make([][2]Node, len(children))
	for i, c := range children {
		edges[i] = [2]Node{parent, c}
	}
	return modelFromEdges(edges)
}

// Merge unions the nodes and edges of the operands into one model. Nodes are
// deduplicated by identity, so merging two models that share a node keeps a
// single copy with all of its edges.
func Merge(operands ...Node) (*Model, error) {
	m := NewModel("")
	for _, op := range operands {
		if _, err := absorb(m, op); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LinkFeedback attaches fb as the feedback reference of n and returns the
// receiving node. By default n is deep-copied first; with inplace the
// original is mutated. Feedback is a reference, never an edge: it cannot
// close a cycle and is not scheduled.
func LinkFeedback(n, fb Node, inplace bool) (Node, error) {
	target := n
	if !inplace {
		target = n.Copy("")
	}
	receiver, ok := target.(interface{ SetFeedback(Node) })
	if !ok {
		return nil, fmt.Errorf("%w: node %s cannot receive feedback", ErrStructural, n.Name())
	}
	receiver.SetFeedback(fb)
	return target, nil
}

// modelFromEdges builds a validated model from an explicit edge list.
func modelFromEdges(edges [][2]Node) (*Model, error) {
	m := NewModel("")
	for _, e := range edges {
		if err := checkLink(e[0], e[1]); err != nil {
			return nil, err
		}
		if err := m.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// absorb registers op into m. A Model operand contributes all of its nodes
// and edges; the returned slice holds the operand's output boundary.
func absorb(m *Model, op Node) ([]Node, error) {
	outs, _, err := absorbBoth(m, op)
	return outs, err
}

func absorbBoth(m *Model, op Node) (outs, ins []Node, err error) {
	sub, ok := op.(*Model)
	if !ok {
		if err := m.AddNode(op); err != nil {
			return nil, nil, err
		}
		return []Node{op}, []Node{op}, nil
	}
	if sub.IsEmpty() {
		return nil, nil, fmt.Errorf("%w: cannot compose with empty model %s", ErrStructural, sub.Name())
	}
	for _, n := range sub.Nodes() {
		if err := m.AddNode(n); err != nil {
			return nil, nil, err
		}
	}
	for _, e := range sub.Edges() {
		parent, _ := sub.Node(e[0])
		child, _ := sub.Node(e[1])
		if err := m.AddEdge(parent, child); err != nil {
			return nil, nil, err
		}
	}
	return sub.Outputs(), sub.Inputs(), nil
}

// checkLink rejects a connection whose fixed dimensions already disagree.
// Unset dimensions (zero) stay open until initialization; Concat accepts any
// width.
func checkLink(parent, child Node) error {
	if _, ok := child.(*Concat); ok {
		return nil
	}
	po := parent.OutputDim()
	ci := child.InputDim()
	if po > 0 && ci > 0 && po != ci {
		return fmt.Errorf("%w: cannot link %s (%d output features) to %s (%d input features)", ErrStructural, parent.Name(), po, child.Name(), ci)
	}
	return nil
}
