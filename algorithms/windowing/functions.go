package windowing

import "math"

// NewHann creates a Hann window. The periodic form (symmetric=false)
// is what spectrogram framing uses.
func NewHann(size int, symmetric bool) *Window {
	return newWindow(TypeHann, size, symmetric, func(i int, d float64) float64 {
		return 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/d))
	})
}

// NewHamming creates a Hamming window
func NewHamming(size int, symmetric bool) *Window {
	return newWindow(TypeHamming, size, symmetric, func(i int, d float64) float64 {
		return 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/d)
	})
}

// NewBlackman creates a Blackman window
func NewBlackman(size int, symmetric bool) *Window {
	a0, a1, a2 := 0.42, 0.5, 0.08
	return newWindow(TypeBlackman, size, symmetric, func(i int, d float64) float64 {
		arg := 2 * math.Pi * float64(i) / d
		return a0 - a1*math.Cos(arg) + a2*math.Cos(2*arg)
	})
}

// NewRectangular creates a rectangular (boxcar) window
func NewRectangular(size int) *Window {
	return newWindow(TypeRectangular, size, false, func(int, float64) float64 {
		return 1.0
	})
}
