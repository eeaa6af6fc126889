// Package hyper runs simple hyperparameter searches over model-building
// objectives. The search itself is model-agnostic: an Objective builds and
// scores a model from a parameter assignment, the search enumerates
// assignments and runs them on a bounded worker pool.
package hyper

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// ErrNoTrials is returned by Best when no trial succeeded.
var ErrNoTrials = errors.New("hyper: no successful trials")

// Param is one searched dimension with its candidate values.
type Param struct {
	Name   string
	Values []float64
}

// Trial is one evaluated assignment. Score is meaningful only when Err is
// nil; lower is better.
type Trial struct {
	Params map[string]float64
	Score  float64
	Err    error
}

// Objective builds and scores a model from one assignment. It must be safe
// to call concurrently.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

// Search holds the search configuration.
type Search struct {
	workers int
	log     logr.Logger
}

// Option configures a Search.
type Option func(*Search)

// WithWorkers bounds the number of concurrent trials, >= 1. Default 1.
var WithWorkers = func(n int) Option {
	return func(s *Search) { s.workers = n }
}

// WithLogger attaches a logger; trial completions are reported at V(1).
var WithLogger = func(log logr.Logger) Option {
	return func(s *Search) { s.log = log }
}

// New creates a search runner.
func New(opts ...Option) (*Search, error) {
	s := &Search{workers: 1, log: logr.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		return nil, fmt.Errorf("hyper: workers must be at least 1, got %d", s.workers)
	}
	return s, nil
}

// Grid evaluates the full cartesian product of the parameter values. Trials
// are returned in enumeration order regardless of completion order; a failed
// trial carries its error and does not stop the others. The search stops
// early only when ctx is cancelled.
func (s *Search) Grid(ctx context.Context, params []Param, objective Objective) ([]Trial, error) {
	if len(params) == 0 {
		return nil, errors.New("hyper: at least one parameter required")
	}
	for _, p := range params {
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("hyper: parameter %q has no values", p.Name)
		}
	}

	assignments := enumerate(params)
	trials := make([]Trial, len(assignments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, assignment := range assignments {
		i, assignment := i, assignment
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := objective(gctx, assignment)
			trials[i] = Trial{Params: assignment, Score: score, Err: err}
			s.log.V(1).Info("trial finished", "params", assignment, "score", score, "err", err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trials, nil
}

// Best returns the successful trial with the lowest score.
func Best(trials []Trial) (Trial, error) {
	best := Trial{Score: math.Inf(1)}
	found := false
	for _, t := range trials {
		if t.Err != nil {
			continue
		}
		if !found || t.Score < best.Score {
			best = t
			found = true
		}
	}
	if !found {
		return Trial{}, ErrNoTrials
	}
	return best, nil
}

// enumerate expands the cartesian product in row-major order, last parameter
// varying fastest.
func enumerate(params []Param) []map[string]float64 {
	total := 1
	for _, p := range params {
		total *= len(p.Values)
	}
	out := make([]map[string]float64, 0, total)

	idx := make([]int, len(params))
	for {
		assignment := make(map[string]float64, len(params))
		for i, p := range params {
			assignment[p.Name] = p.Values[idx[i]]
		}
		out = append(out, assignment)

		i := len(params) - 1
		for i >= 0 {
			idx[i]++
			if idx[i] < len(params[i].Values) {
				break
			}
			idx[i] = 0
			i--
		}
		if i < 0 {
			return out
		}
	}
}
