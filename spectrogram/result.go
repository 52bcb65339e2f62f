// Package spectrogram computes, caches and delivers dB spectrograms for
// memo files off the interactive thread.
package spectrogram

import (
	"github.com/RyanBlaney/memoscope/algorithms/common"
	"github.com/RyanBlaney/memoscope/algorithms/spectral"
)

// Display range for color mapping. Stored values are not clipped.
const (
	DisplayMinDB = -80.0
	DisplayMaxDB = 0.0
)

// Result is an immutable spectrogram snapshot. Once published it must not
// be mutated; consumers that need to edit data copy it first.
type Result struct {
	MagnitudeDB [][]float64 `msgpack:"magnitude_db"` // time x frequency
	Frequencies []float64   `msgpack:"frequencies"`  // Hz, ascending
}

// FromSTFT wraps an STFT result
func FromSTFT(r *spectral.STFTResult) *Result {
	return &Result{
		MagnitudeDB: r.MagnitudeDB,
		Frequencies: r.Frequencies,
	}
}

// TimeBins returns the number of frames
func (r *Result) TimeBins() int {
	return len(r.MagnitudeDB)
}

// FreqBins returns the number of frequency bins
func (r *Result) FreqBins() int {
	return len(r.Frequencies)
}

// DBRange returns the smallest and largest stored values
func (r *Result) DBRange() (float64, float64) {
	return common.MinMax(r.MagnitudeDB)
}

// Params is the parameter snapshot a worker computes with
type Params struct {
	NFFT          int
	HopLength     int
	FreqMin       float64
	FreqMax       float64
	Window        string
	MaxSampleRate int // analysis rate cap; PCM is extracted at min(native, cap)
}

// DefaultParams returns the post-hoc defaults for a hop length
func DefaultParams(hop int) Params {
	return Params{
		NFFT:          2048,
		HopLength:     hop,
		FreqMin:       80,
		FreqMax:       8000,
		Window:        "hann",
		MaxSampleRate: 16000,
	}
}
