package reskit

import "errors"

// Error kinds. Every error returned by this package wraps one of these
// sentinels, so callers can classify failures with errors.Is without parsing
// messages.
var (
	// ErrValidation marks bad constructor arguments: non-positive sizes,
	// out-of-range rates or probabilities, unknown activation names.
	// Always raised synchronously at construction, never deferred.
	ErrValidation = errors.New("validation error")

	// ErrStructural marks invalid graph structure: cycles, duplicate node
	// names, edges referencing unknown nodes, or dimension mismatch between
	// connected nodes that are both already shaped.
	ErrStructural = errors.New("structural error")

	// ErrDimension marks a runtime shape mismatch between an operation's
	// input and the shapes fixed at initialization.
	ErrDimension = errors.New("dimension error")

	// ErrState marks use of a node in the wrong lifecycle state: predicting
	// before fitting, forwarding before initializing where lazy
	// initialization is not documented.
	ErrState = errors.New("state error")
)

// Lookup failures.
var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrNodeAlreadyExists = errors.New("node exists already")
	ErrParamNotFound     = errors.New("parameter not found")
)
