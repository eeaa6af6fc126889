package reskit

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"gonum.org/v1/gonum/mat"
)

func TestIdentityNodeForward(t *testing.T) {
	n := NewNode("id")
	x := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})

	out, err := n.Forward(x)
	assert.NoError(t, err)
	assert.True(t, mat.Equal(x, out))
	assert.True(t, n.IsInitialized())
	assert.Equal(t, 2, n.InputDim())
	assert.Equal(t, 2, n.OutputDim())

	// state is the last processed row
	assert.Equal(t, []float64{5, 6}, n.State().RawVector().Data)
}

func TestIdentityNodeDimensionMismatch(t *testing.T) {
	n := NewNode("id")
	_, err := n.Forward(mat.NewDense(1, 2, []float64{1, 2}))
	assert.NoError(t, err)

	_, err = n.Forward(mat.NewDense(1, 3, []float64{1, 2, 3}))
	assert.IsError(t, err, ErrDimension)
}

func TestInitializeIsIdempotent(t *testing.T) {
	n := NewNode("id")
	assert.NoError(t, n.Initialize(mat.NewDense(1, 2, []float64{1, 2}), nil))
	assert.Equal(t, 2, n.OutputDim())

	// a second call never re-derives shapes
	assert.NoError(t, n.Initialize(mat.NewDense(1, 5, make([]float64, 5)), nil))
	assert.Equal(t, 2, n.OutputDim())
}

func TestResetRoundTrip(t *testing.T) {
	n := NewNode("id")
	_, err := n.Forward(mat.NewDense(1, 2, []float64{7, 8}))
	assert.NoError(t, err)
	assert.Equal(t, []float64{7, 8}, n.State().RawVector().Data)

	assert.NoError(t, n.Reset(nil))
	assert.Equal(t, []float64{0, 0}, n.State().RawVector().Data)

	assert.NoError(t, n.Reset([]float64{1, -1}))
	assert.Equal(t, []float64{1, -1}, n.State().RawVector().Data)

	err = n.Reset([]float64{1, 2, 3})
	assert.IsError(t, err, ErrDimension)
	// failed reset leaves the state untouched
	assert.Equal(t, []float64{1, -1}, n.State().RawVector().Data)
}

func TestNodeCopyIndependence(t *testing.T) {
	n := NewNode("orig")
	_, err := n.Forward(mat.NewDense(1, 2, []float64{1, 2}))
	assert.NoError(t, err)

	c := n.Copy("clone")
	assert.Equal(t, "clone", c.Name())
	assert.Equal(t, n.OutputDim(), c.OutputDim())
	assert.Equal(t, []float64{1, 2}, c.State().RawVector().Data)

	_, err = n.Forward(mat.NewDense(1, 2, []float64{9, 9}))
	assert.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, c.State().RawVector().Data)
}

func TestCopyGeneratesUniqueName(t *testing.T) {
	n := NewNode("orig")
	a := n.Copy("")
	b := n.Copy("")
	assert.NotEqual(t, a.Name(), b.Name())
	assert.NotEqual(t, "orig", a.Name())
}

func TestHypersAreImmutable(t *testing.T) {
	c, err := NewConcat(1, "c")
	assert.NoError(t, err)

	v, err := c.GetParam("axis")
	assert.NoError(t, err)
	assert.Equal(t, 1, v.(int))

	// hyperparameters cannot be written through SetParam
	err = c.SetParam("axis", 0)
	assert.IsError(t, err, ErrParamNotFound)

	_, err = c.GetParam("missing")
	assert.IsError(t, err, ErrParamNotFound)
}

func TestFeedbackIsAReference(t *testing.T) {
	n := NewNode("n")
	fb := NewNode("fb")
	_, err := fb.Forward(mat.NewDense(1, 2, []float64{3, 4}))
	assert.NoError(t, err)

	assert.Zero(t, n.FeedbackState())
	n.SetFeedback(fb)
	assert.Equal(t, []float64{3, 4}, n.FeedbackState().RawVector().Data)

	// a copy of the feedback state must not alias the source
	st := n.FeedbackState()
	st.SetVec(0, 99)
	assert.Equal(t, 3.0, fb.State().AtVec(0))
}
