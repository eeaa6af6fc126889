package reskit

import (
	"errors"
	"fmt"
	"slices"
)

// graph is the build-time structure of a model: named nodes and directed
// data-flow edges. Feedback references live on the nodes themselves and are
// invisible here, which is what keeps them out of cycle detection and
// scheduling.
type graph struct {
	nodes    map[string]Node
	parents  map[string][]string
	children map[string][]string

	// insertion keeps registration order for stable error messages
	insertion []string
}

func newGraph() *graph {
	return &graph{
		nodes:    make(map[string]Node),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
}

// addNode registers a node under its name. Duplicate names are rejected; two
// distinct nodes may never share one.
func (g *graph) addNode(n Node) error {
	name := n.Name()
	if existing, ok := g.nodes[name]; ok {
		if existing == n {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNodeAlreadyExists, name)
	}
	g.nodes[name] = n
	g.insertion = append(g.insertion, name)
	return nil
}

// addEdge connects parent to child by name. Both endpoints must be
// registered; repeated edges collapse to one.
func (g *graph) addEdge(parent, child string) error {
	if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, parent)
	}
	if _, ok := g.nodes[child]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, child)
	}
	g.addEdgeTracked(parent, child)
	return nil
}

// addEdgeTracked inserts the edge and reports whether it was new. Both
// endpoints must already be registered.
func (g *graph) addEdgeTracked(parent, child string) bool {
	if slices.Contains(g.children[parent], child) {
		return false
	}
	g.children[parent] = append(g.children[parent], child)
	g.parents[child] = append(g.parents[child], parent)
	return true
}

// removeEdge deletes the edge if present.
func (g *graph) removeEdge(parent, child string) {
	if i := slices.Index(g.children[parent], child); i >= 0 {
		g.children[parent] = slices.Delete(g.children[parent], i, i+1)
	}
	if i := slices.Index(g.parents[child], parent); i >= 0 {
		g.parents[child] = slices.Delete(g.parents[child], i, i+1)
	}
}

// inputNames returns the nodes with no incoming edges, sorted by name.
func (g *graph) inputNames() []string {
	var names []string
	for name := range g.nodes {
		if len(g.parents[name]) == 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// outputNames returns the nodes with no outgoing edges, sorted by name.
func (g *graph) outputNames() []string {
	var names []string
	for name := range g.nodes {
		if len(g.children[name]) == 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// validate runs every structural check and joins the failures so a broken
// graph reports all of its problems at once.
func (g *graph) validate() error {
	var validationErrors []error

	if err := g.detectCycles(); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if len(g.nodes) > 0 && len(g.inputNames()) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("%w: graph has no input node, every node has a parent", ErrStructural))
	}

	if len(validationErrors) > 0 {
		return errors.Join(validationErrors...)
	}
	return nil
}

const (
	colorWhite = iota // not yet visited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// detectCycles looks for a directed cycle with an iterative
// white/gray/black depth-first search, so deep graphs cannot overflow the
// goroutine stack. The error names the offending path.
func (g *graph) detectCycles() error {
	color := make(map[string]int, len(g.nodes))

	roots := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		roots = append(roots, name)
	}
	slices.Sort(roots)

	type frame struct {
		name string
		next int
	}

	for _, root := range roots {
		if color[root] != colorWhite {
			continue
		}
		stack := []frame{{name: root}}
		color[root] = colorGray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := g.children[top.name]
			if top.next < len(children) {
				child := children[top.next]
				top.next++
				switch color[child] {
				case colorWhite:
					color[child] = colorGray
					stack = append(stack, frame{name: child})
				case colorGray:
					path := make([]string, 0, len(stack)+1)
					for _, f := range stack {
						path = append(path, f.name)
					}
					path = append(path, child)
					return fmt.Errorf("%w: cycle detected: %v", ErrStructural, path)
				}
				continue
			}
			color[top.name] = colorBlack
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// topologicalSort orders the nodes with Kahn's algorithm, keeping the queue
// sorted so the schedule is deterministic for a given graph.
func (g *graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = len(g.parents[name])
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	slices.Sort(queue)

	var result []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		children := slices.Clone(g.children[name])
		slices.Sort(children)
		for _, child := range children {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
				slices.Sort(queue)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("%w: topological sort failed, graph has a cycle", ErrStructural)
	}
	return result, nil
}

// copy deep-copies every node under a renamed identity and re-maps the
// edges accordingly.
func (g *graph) copy(rename func(string) string) *graph {
	c := newGraph()
	for _, name := range g.insertion {
		renamed := rename(name)
		c.nodes[renamed] = g.nodes[name].Copy(renamed)
		c.insertion = append(c.insertion, renamed)
	}
	for parent, children := range g.children {
		renamed := make([]string, len(children))
		for i, child := range children {
			renamed[i] = rename(child)
		}
		c.children[rename(parent)] = renamed
	}
	for child, parents := range g.parents {
		renamed := make([]string, len(parents))
		for i, parent := range parents {
			renamed[i] = rename(parent)
		}
		c.parents[rename(child)] = renamed
	}
	return c
}
