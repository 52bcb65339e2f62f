package spectral

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/RyanBlaney/memoscope/algorithms/windowing"
	"github.com/RyanBlaney/memoscope/logging"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptySignal is returned when there are no samples to analyze
	ErrEmptySignal = errors.New("empty signal")
	// ErrInvalidParams is returned for non-positive sizes or inverted ranges
	ErrInvalidParams = errors.New("invalid transform parameters")
)

// STFT computes dB spectrograms with frames spread across a bounded
// set of goroutines
type STFT struct {
	fft        *FFT
	maxWorkers int
	logger     logging.Logger
}

// STFTResult holds a time-major dB magnitude matrix and its frequency axis
type STFTResult struct {
	MagnitudeDB    [][]float64 `msgpack:"magnitude_db" json:"magnitude_db"` // time x frequency
	Frequencies    []float64   `msgpack:"frequencies" json:"frequencies"`   // Hz, ascending
	TimeFrames     int         `msgpack:"time_frames" json:"time_frames"`
	FreqBins       int         `msgpack:"freq_bins" json:"freq_bins"`
	SampleRate     int         `msgpack:"sample_rate" json:"sample_rate"`
	WindowSize     int         `msgpack:"window_size" json:"window_size"`
	HopSize        int         `msgpack:"hop_size" json:"hop_size"`
	FreqResolution float64     `msgpack:"freq_resolution" json:"freq_resolution"` // Hz/bin
	TimeResolution float64     `msgpack:"time_resolution" json:"time_resolution"` // seconds/frame
}

// NewSTFT creates a new STFT calculator
func NewSTFT() *STFT {
	return &STFT{
		fft:        NewFFT(),
		maxWorkers: runtime.NumCPU(),
		logger: logging.WithFields(logging.Fields{
			"component": "stft",
		}),
	}
}

// WithMaxWorkers caps frame parallelism; n <= 0 restores the default
func (s *STFT) WithMaxWorkers(n int) *STFT {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	s.maxWorkers = n
	return s
}

// NumFrames returns how many frames Compute will produce for n samples.
// Frames start at i*hop; the final frame is zero-padded so every sample
// is covered. A signal shorter than nFFT still yields one padded frame.
func NumFrames(n, nFFT, hop int) int {
	if n <= 0 || nFFT <= 0 || hop <= 0 {
		return 0
	}
	if n <= nFFT {
		return 1
	}
	return (n-nFFT+hop-1)/hop + 1
}

// ComputeSTFT is a convenience wrapper around NewSTFT().Compute
func ComputeSTFT(ctx context.Context, samples []float64, sampleRate, nFFT, hop int, window string) (*STFTResult, error) {
	return NewSTFT().Compute(ctx, samples, sampleRate, nFFT, hop, window)
}

// Compute runs a windowed STFT (noverlap = nFFT-hop) and returns
// magnitudes in dB, scaled by 1/sum(window) before conversion.
// Cancelling ctx stops outstanding frames and returns ctx.Err().
func (s *STFT) Compute(ctx context.Context, samples []float64, sampleRate, nFFT, hop int, window string) (*STFTResult, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySignal
	}
	if nFFT <= 0 || hop <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: n_fft=%d hop=%d sample_rate=%d", ErrInvalidParams, nFFT, hop, sampleRate)
	}

	win, err := windowing.New(window, nFFT)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	numFrames := NumFrames(len(samples), nFFT, hop)
	freqBins := nFFT/2 + 1
	scale := spectrumScale(win)

	magnitude := make([][]float64, numFrames)
	for i := range numFrames {
		magnitude[i] = make([]float64, freqBins)
	}

	numWorkers := s.getOptimalWorkerCount(numFrames)
	chunk := (numFrames + numWorkers - 1) / numWorkers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for first := 0; first < numFrames; first += chunk {
		last := min(first+chunk, numFrames)
		g.Go(func() error {
			// Reuse frame buffer for this worker
			frame := make([]float64, nFFT)
			for idx := first; idx < last; idx++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := idx * hop
				n := copy(frame, samples[start:min(start+nFFT, len(samples))])
				clear(frame[n:])

				if err := win.ApplyInPlace(frame); err != nil {
					return err
				}
				s.fft.MagnitudeDB(s.fft.Compute(frame), scale, magnitude[idx])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	s.logger.Debug("STFT computed", logging.Fields{
		"frames":    numFrames,
		"freq_bins": freqBins,
		"n_fft":     nFFT,
		"hop":       hop,
		"workers":   numWorkers,
	})

	return &STFTResult{
		MagnitudeDB:    magnitude,
		Frequencies:    RFFTFrequencies(nFFT, sampleRate),
		TimeFrames:     numFrames,
		FreqBins:       freqBins,
		SampleRate:     sampleRate,
		WindowSize:     nFFT,
		HopSize:        hop,
		FreqResolution: float64(sampleRate) / float64(nFFT),
		TimeResolution: float64(hop) / float64(sampleRate),
	}, nil
}

// spectrumScale normalizes magnitudes so a full-scale sinusoid on a bin
// center reads near 0.5 regardless of window type or size
func spectrumScale(win *windowing.Window) float64 {
	if sum := win.Sum(); sum > 0 {
		return 1.0 / sum
	}
	return 1.0
}

// getOptimalWorkerCount determines the optimal number of workers based on workload
func (s *STFT) getOptimalWorkerCount(numFrames int) int {
	numCPU := max(s.maxWorkers, 1)

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	// For medium workloads, use most CPUs
	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}
