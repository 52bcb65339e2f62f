package spectral

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Epsilon guards the dB conversion against log(0)
const Epsilon = 1e-10

// FFT wraps mjibson/go-dsp for real-valued frames
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the FFT of a real frame.
// go-dsp handles non-power-of-2 sizes.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	return fft.FFTReal(x)
}

// MagnitudeDB writes 20*log10(|X[k]|*scale + Epsilon) for the positive
// frequency bins k=0..len(dst)-1 into dst.
func (f *FFT) MagnitudeDB(spectrum []complex128, scale float64, dst []float64) {
	for k := range dst {
		dst[k] = ToDB(cmplx.Abs(spectrum[k]) * scale)
	}
}

// ToDB converts a linear magnitude to decibels
func ToDB(magnitude float64) float64 {
	return 20 * math.Log10(magnitude+Epsilon)
}

// RFFTFrequencies returns the center frequency of each one-sided bin,
// k*sampleRate/nFFT for k=0..nFFT/2
func RFFTFrequencies(nFFT, sampleRate int) []float64 {
	if nFFT <= 0 {
		return nil
	}

	bins := nFFT/2 + 1
	freqs := make([]float64, bins)
	step := float64(sampleRate) / float64(nFFT)
	for k := range bins {
		freqs[k] = float64(k) * step
	}
	return freqs
}
