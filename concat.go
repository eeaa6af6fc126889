package reskit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Concat is the fan-in combinator: it merges the outputs of several upstream
// nodes into one matrix along a configurable axis. Axis 0 stacks rows
// (samples), axis 1 stacks columns (features). Concat has no learned state
// and no training behavior; with a single input it degenerates to identity
// pass-through.
type Concat struct {
	BaseNode
	axis int
}

// NewConcat creates a Concat node for the given axis (0 or 1). An empty name
// generates a unique one.
func NewConcat(axis int, name string) (*Concat, error) {
	if axis != 0 && axis != 1 {
		return nil, fmt.Errorf("%w: concat axis must be 0 (rows) or 1 (columns), got %d", ErrValidation, axis)
	}
	if name == "" {
		name = uniqueName("concat")
	}
	c := &Concat{
		BaseNode: BaseNode{
			name:   name,
			params: map[string]any{},
			hypers: map[string]any{"axis": axis},
		},
		axis: axis,
	}
	return c, nil
}

// Axis returns the concatenation axis.
func (c *Concat) Axis() int { return c.axis }

// ForwardMultiple concatenates the inputs along the node's axis. All inputs
// must agree on every dimension except the concatenation axis.
func (c *Concat) ForwardMultiple(inputs []*mat.Dense) (*mat.Dense, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: node %s: cannot concatenate empty input list", ErrDimension, c.name)
	}
	if len(inputs) == 1 {
		return c.Forward(inputs[0])
	}

	var out *mat.Dense
	if c.axis == 1 {
		rows, _ := inputs[0].Dims()
		total := 0
		for _, in := range inputs {
			r, cols := in.Dims()
			if r != rows {
				return nil, fmt.Errorf("%w: node %s: inconsistent number of rows, expected %d but got %d", ErrDimension, c.name, rows, r)
			}
			total += cols
		}
		out = mat.NewDense(rows, total, nil)
		offset := 0
		for _, in := range inputs {
			_, cols := in.Dims()
			out.Slice(0, rows, offset, offset+cols).(*mat.Dense).Copy(in)
			offset += cols
		}
	} else {
		_, cols := inputs[0].Dims()
		total := 0
		for _, in := range inputs {
			rows, cc := in.Dims()
			if cc != cols {
				return nil, fmt.Errorf("%w: node %s: inconsistent number of columns, expected %d but got %d", ErrDimension, c.name, cols, cc)
			}
			total += rows
		}
		out = mat.NewDense(total, cols, nil)
		offset := 0
		for _, in := range inputs {
			rows, _ := in.Dims()
			out.Slice(offset, offset+rows, 0, cols).(*mat.Dense).Copy(in)
			offset += rows
		}
	}

	if !c.initialized {
		if err := c.Initialize(out, nil); err != nil {
			return nil, err
		}
	}
	r, _ := out.Dims()
	c.setStateFromRow(out, r-1)
	return out, nil
}

// Copy produces an independent Concat with the same axis, dimensions and
// state.
func (c *Concat) Copy(name string) Node {
	return &Concat{
		BaseNode: c.copyBase(name, "concat"),
		axis:     c.axis,
	}
}
