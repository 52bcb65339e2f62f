package windowing

import (
	"fmt"
	"strings"
)

// Type names accepted by New
const (
	TypeHann        = "hann"
	TypeHamming     = "hamming"
	TypeBlackman    = "blackman"
	TypeRectangular = "rectangular"
)

// Window is a precomputed tapering window of fixed size.
// Windows are immutable after construction and safe for concurrent use.
type Window struct {
	kind         string
	size         int
	symmetric    bool
	coefficients []float64
	sum          float64
}

// coefficientFunc returns the i-th coefficient given the denominator
// (size for periodic windows, size-1 for symmetric ones)
type coefficientFunc func(i int, denominator float64) float64

func newWindow(kind string, size int, symmetric bool, fn coefficientFunc) *Window {
	w := &Window{
		kind:         kind,
		size:         size,
		symmetric:    symmetric,
		coefficients: make([]float64, size),
	}

	denominator := float64(size)
	if symmetric && size > 1 {
		denominator = float64(size - 1)
	}

	for i := range size {
		c := fn(i, denominator)
		w.coefficients[i] = c
		w.sum += c
	}

	return w
}

// New creates the periodic (DFT-even) window named by kind.
// An empty kind selects hann.
func New(kind string, size int) (*Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}

	switch strings.ToLower(kind) {
	case "", TypeHann:
		return NewHann(size, false), nil
	case TypeHamming:
		return NewHamming(size, false), nil
	case TypeBlackman:
		return NewBlackman(size, false), nil
	case TypeRectangular, "boxcar":
		return NewRectangular(size), nil
	default:
		return nil, fmt.Errorf("unknown window type %q", kind)
	}
}

// Apply applies the window to a signal (creates new array)
func (w *Window) Apply(signal []float64) []float64 {
	if len(signal) != w.size {
		return nil
	}

	windowed := make([]float64, w.size)
	for i, c := range w.coefficients {
		windowed[i] = signal[i] * c
	}

	return windowed
}

// ApplyInPlace applies the window to a signal in-place
func (w *Window) ApplyInPlace(signal []float64) error {
	if len(signal) != w.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), w.size)
	}

	for i, c := range w.coefficients {
		signal[i] *= c
	}

	return nil
}

// GetCoefficients returns a copy of the window coefficients
func (w *Window) GetCoefficients() []float64 {
	coeffs := make([]float64, len(w.coefficients))
	copy(coeffs, w.coefficients)
	return coeffs
}

// Sum returns the sum of the coefficients, used for spectrum scaling
func (w *Window) Sum() float64 {
	return w.sum
}

// GetSize returns the window size
func (w *Window) GetSize() int {
	return w.size
}

// GetType returns the window type
func (w *Window) GetType() string {
	return w.kind
}

// IsSymmetric reports whether the window was built in its symmetric form
func (w *Window) IsSymmetric() bool {
	return w.symmetric
}
