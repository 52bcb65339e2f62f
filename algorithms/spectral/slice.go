package spectral

import (
	"fmt"

	"github.com/RyanBlaney/memoscope/algorithms/windowing"
)

// SliceAnalyzer computes single filtered dB spectra for live audio.
// The window and bin mask are built once so per-chunk work is one FFT.
// It uses the same window, scaling and dB policy as STFT.Compute.
type SliceAnalyzer struct {
	fft    *FFT
	window *windowing.Window
	nFFT   int
	scale  float64
	keep   []int
	freqs  []float64
	frame  []float64
	full   []float64
}

// NewSliceAnalyzer creates an analyzer for the given live parameters
func NewSliceAnalyzer(sampleRate, nFFT int, window string, fMin, fMax float64) (*SliceAnalyzer, error) {
	if nFFT <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: n_fft=%d sample_rate=%d", ErrInvalidParams, nFFT, sampleRate)
	}
	if fMin > fMax {
		return nil, fmt.Errorf("%w: freq_min %.1f > freq_max %.1f", ErrInvalidParams, fMin, fMax)
	}

	win, err := windowing.New(window, nFFT)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	all := RFFTFrequencies(nFFT, sampleRate)
	keep := FrequencyMask(all, fMin, fMax)
	freqs := make([]float64, len(keep))
	for j, k := range keep {
		freqs[j] = all[k]
	}

	return &SliceAnalyzer{
		fft:    NewFFT(),
		window: win,
		nFFT:   nFFT,
		scale:  spectrumScale(win),
		keep:   keep,
		freqs:  freqs,
		frame:  make([]float64, nFFT),
		full:   make([]float64, nFFT/2+1),
	}, nil
}

// Frequencies returns the frequency axis of every slice
func (a *SliceAnalyzer) Frequencies() []float64 {
	out := make([]float64, len(a.freqs))
	copy(out, a.freqs)
	return out
}

// NFFT returns the frame size
func (a *SliceAnalyzer) NFFT() int {
	return a.nFFT
}

// Compute returns the filtered dB spectrum of the most recent nFFT samples
// of chunk, or nil when chunk is shorter than nFFT. Not safe for
// concurrent use.
func (a *SliceAnalyzer) Compute(chunk []float64) []float64 {
	if len(chunk) < a.nFFT {
		return nil
	}

	copy(a.frame, chunk[len(chunk)-a.nFFT:])
	if err := a.window.ApplyInPlace(a.frame); err != nil {
		return nil
	}
	a.fft.MagnitudeDB(a.fft.Compute(a.frame), a.scale, a.full)

	out := make([]float64, len(a.keep))
	for j, k := range a.keep {
		out[j] = a.full[k]
	}
	return out
}

// ComputeSingleSlice is the one-shot form of SliceAnalyzer.Compute using a
// hann window. It returns nil for short chunks or invalid parameters.
func ComputeSingleSlice(chunk []float64, sampleRate, nFFT int, fMin, fMax float64) []float64 {
	if len(chunk) < nFFT {
		return nil
	}
	a, err := NewSliceAnalyzer(sampleRate, nFFT, windowing.TypeHann, fMin, fMax)
	if err != nil {
		return nil
	}
	return a.Compute(chunk)
}
