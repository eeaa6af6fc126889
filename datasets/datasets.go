// Package datasets generates the classic chaotic and synthetic time series
// used to benchmark reservoir models. Every generator returns matrices with
// one row per time step.
package datasets

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrBadArgument marks out-of-range generator arguments.
var ErrBadArgument = errors.New("datasets: bad argument")

// MackeyGlass integrates the Mackey-Glass delay differential equation
//
//	dx/dt = a*x(t-tau) / (1 + x(t-tau)^n) - b*x(t)
//
// with a fourth-order Runge-Kutta step of size h, holding the delayed term
// constant over each step. The first mackeyGlassWashout steps are discarded
// so the returned series starts on the attractor rather than on the initial
// transient. tau = 17 gives the mildly chaotic series used in most of the
// reservoir literature. Returns an (n x 1) matrix.
func MackeyGlass(n int, tau float64, a, b float64, order float64, x0, h float64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrBadArgument, n)
	}
	if tau <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: tau and h must be positive, got tau=%v h=%v", ErrBadArgument, tau, h)
	}
	histLen := int(math.Round(tau / h))
	if histLen < 1 {
		histLen = 1
	}
	history := make([]float64, histLen)
	for i := range history {
		history[i] = x0
	}

	deriv := func(x, xTau float64) float64 {
		return a*xTau/(1+math.Pow(xTau, order)) - b*x
	}

	out := mat.NewDense(n, 1, nil)
	x := x0
	pos := 0
	for t := -mackeyGlassWashout; t < n; t++ {
		xTau := history[pos]

		k1 := deriv(x, xTau)
		k2 := deriv(x+h*k1/2, xTau)
		k3 := deriv(x+h*k2/2, xTau)
		k4 := deriv(x+h*k3, xTau)
		x += h * (k1 + 2*k2 + 2*k3 + k4) / 6

		history[pos] = x
		pos = (pos + 1) % histLen
		if t >= 0 {
			out.Set(t, 0, x)
		}
	}
	return out, nil
}

// mackeyGlassWashout is the number of leading integration steps discarded
// before recording starts.
const mackeyGlassWashout = 200

// MackeyGlassDefault generates the canonical tau=17 series.
func MackeyGlassDefault(n int) (*mat.Dense, error) {
	return MackeyGlass(n, 17, 0.2, 0.1, 10, 1.2, 1.0)
}

// Lorenz integrates the Lorenz attractor with RK4 at step h. Returns an
// (n x 3) matrix of (x, y, z) rows.
func Lorenz(n int, rho, sigma, beta float64, x0 [3]float64, h float64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrBadArgument, n)
	}
	if h <= 0 {
		return nil, fmt.Errorf("%w: h must be positive, got %v", ErrBadArgument, h)
	}
	deriv := func(s [3]float64) [3]float64 {
		return [3]float64{
			sigma * (s[1] - s[0]),
			s[0]*(rho-s[2]) - s[1],
			s[0]*s[1] - beta*s[2],
		}
	}
	step := func(s [3]float64) [3]float64 {
		k1 := deriv(s)
		k2 := deriv(add(s, scale(k1, h/2)))
		k3 := deriv(add(s, scale(k2, h/2)))
		k4 := deriv(add(s, scale(k3, h)))
		for i := 0; i < 3; i++ {
			s[i] += h * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i]) / 6
		}
		return s
	}

	out := mat.NewDense(n, 3, nil)
	s := x0
	for t := 0; t < n; t++ {
		s = step(s)
		out.SetRow(t, s[:])
	}
	return out, nil
}

// LorenzDefault integrates the classic rho=28, sigma=10, beta=8/3 system.
func LorenzDefault(n int) (*mat.Dense, error) {
	return Lorenz(n, 28, 10, 8.0/3.0, [3]float64{1, 1, 1}, 0.03)
}

func add(a, b [3]float64) [3]float64 {
	for i := 0; i < 3; i++ {
		a[i] += b[i]
	}
	return a
}

func scale(a [3]float64, f float64) [3]float64 {
	for i := 0; i < 3; i++ {
		a[i] *= f
	}
	return a
}

// HenonMap iterates the Henon map
//
//	x[t+1] = 1 - a*x[t]^2 + y[t]
//	y[t+1] = b*x[t]
//
// from (0, 0). Returns an (n x 2) matrix.
func HenonMap(n int, a, b float64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrBadArgument, n)
	}
	out := mat.NewDense(n, 2, nil)
	x, y := 0.0, 0.0
	for t := 0; t < n; t++ {
		x, y = 1-a*x*x+y, b*x
		out.Set(t, 0, x)
		out.Set(t, 1, y)
	}
	return out, nil
}

// LogisticMap iterates x[t+1] = r*x[t]*(1-x[t]). Returns an (n x 1) matrix.
func LogisticMap(n int, r, x0 float64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrBadArgument, n)
	}
	if x0 <= 0 || x0 >= 1 {
		return nil, fmt.Errorf("%w: x0 must be in (0, 1), got %v", ErrBadArgument, x0)
	}
	out := mat.NewDense(n, 1, nil)
	x := x0
	for t := 0; t < n; t++ {
		x = r * x * (1 - x)
		out.Set(t, 0, x)
	}
	return out, nil
}

// NARMA generates a nonlinear autoregressive moving average task of the
// given order:
//
//	y[t+1] = 0.3*y[t] + 0.05*y[t]*sum(y[t-order+1..t]) + 1.5*u[t-order+1]*u[t] + 0.1
//
// driven by uniform noise u in [0, 0.5). Returns the input series u and the
// target series y, both (n x 1). seed 0 draws a fresh seed.
func NARMA(n, order int, seed uint64) (u, y *mat.Dense, err error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: n must be positive, got %d", ErrBadArgument, n)
	}
	if order < 1 || order >= n {
		return nil, nil, fmt.Errorf("%w: order must be in [1, n), got %d", ErrBadArgument, order)
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	dist := distuv.Uniform{Min: 0, Max: 0.5, Src: rand.NewSource(seed)}

	us := make([]float64, n)
	for i := range us {
		us[i] = dist.Rand()
	}
	ys := make([]float64, n)
	for t := order - 1; t < n-1; t++ {
		sum := 0.0
		for i := 0; i < order; i++ {
			sum += ys[t-i]
		}
		ys[t+1] = 0.3*ys[t] + 0.05*ys[t]*sum + 1.5*us[t-order+1]*us[t] + 0.1
	}

	return mat.NewDense(n, 1, us), mat.NewDense(n, 1, ys), nil
}

// MSO generates a multiple superimposed oscillator series, the sum of
// sin(f*t) over the given normalized frequencies. Returns an (n x 1) matrix.
func MSO(n int, freqs []float64) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", ErrBadArgument, n)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%w: at least one frequency required", ErrBadArgument)
	}
	out := mat.NewDense(n, 1, nil)
	for t := 0; t < n; t++ {
		v := 0.0
		for _, f := range freqs {
			v += math.Sin(f * float64(t))
		}
		out.Set(t, 0, v)
	}
	return out, nil
}

// MSO2 generates the two-oscillator benchmark.
func MSO2(n int) (*mat.Dense, error) {
	return MSO(n, []float64{0.2, 0.311})
}

// MSO8 generates the eight-oscillator benchmark.
func MSO8(n int) (*mat.Dense, error) {
	return MSO(n, []float64{0.2, 0.311, 0.42, 0.51, 0.63, 0.74, 0.85, 0.97})
}

// ToForecast splits a series into an input/target pair for h-step-ahead
// forecasting: x = series[:len-h], y = series[h:].
func ToForecast(series *mat.Dense, horizon int) (x, y *mat.Dense, err error) {
	rows, cols := series.Dims()
	if horizon < 1 || horizon >= rows {
		return nil, nil, fmt.Errorf("%w: horizon must be in [1, rows), got %d for %d rows", ErrBadArgument, horizon, rows)
	}
	x = mat.DenseCopyOf(series.Slice(0, rows-horizon, 0, cols))
	y = mat.DenseCopyOf(series.Slice(horizon, rows, 0, cols))
	return x, y, nil
}
