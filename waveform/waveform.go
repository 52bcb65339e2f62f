// Package waveform builds peak-amplitude envelopes for the waveform view
package waveform

import (
	"context"
	"fmt"
	"math"

	"github.com/RyanBlaney/memoscope/algorithms/common"
	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/transcode"
)

// DefaultSampleRate is the PCM rate used for envelopes; 4 kHz is plenty
// for a visual amplitude outline
const DefaultSampleRate = 4000

// Downsample reduces samples to at most resolution points by taking the
// peak |x| of each bucket of len/resolution samples. Inputs no longer than
// resolution are returned as |x|.
func Downsample(samples []float64, resolution int) []float64 {
	if len(samples) == 0 || resolution <= 0 {
		return nil
	}

	if len(samples) <= resolution {
		out := make([]float64, len(samples))
		for i, v := range samples {
			out[i] = math.Abs(v)
		}
		return out
	}

	bucket := len(samples) / resolution
	n := min(len(samples)/bucket, resolution)
	out := make([]float64, n)
	for i := range n {
		out[i] = common.MaxAbs(samples[i*bucket : (i+1)*bucket])
	}
	return out
}

// Normalize scales amplitudes so the largest equals targetMax. An all-zero
// envelope is returned unchanged.
func Normalize(amplitudes []float64, targetMax float64) []float64 {
	out := common.PeakNormalize(amplitudes)
	if targetMax != 1 {
		for i := range out {
			out[i] *= targetMax
		}
	}
	return out
}

// PeakLevels returns (min, max) of an envelope, (0, 0) when empty
func PeakLevels(amplitudes []float64) (float64, float64) {
	if len(amplitudes) == 0 {
		return 0, 0
	}
	lo, hi := common.MinMax([][]float64{amplitudes})
	return lo, hi
}

// Extractor produces envelopes from audio files, consulting a cache
type Extractor struct {
	pcm        transcode.PCMExtractor
	cache      *Cache
	sampleRate int
	logger     logging.Logger
}

// NewExtractor creates an envelope extractor. cache may be nil.
func NewExtractor(pcm transcode.PCMExtractor, cache *Cache, sampleRate int) *Extractor {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Extractor{
		pcm:        pcm,
		cache:      cache,
		sampleRate: sampleRate,
		logger: logging.WithFields(logging.Fields{
			"component": "waveform_extractor",
		}),
	}
}

// PCM returns mono samples at the envelope rate. Callers that re-bucket the
// same file at several resolutions keep this and call Downsample.
func (e *Extractor) PCM(ctx context.Context, path string) ([]float64, error) {
	if e.pcm == nil {
		return nil, fmt.Errorf("%w: no extractor configured", transcode.ErrExtractionFailed)
	}
	samples, err := e.pcm.ExtractPCM(ctx, path, e.sampleRate, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples from %s", transcode.ErrExtractionFailed, path)
	}
	return samples, nil
}

// Extract returns the envelope of path at resolution, using the cache when
// the stored mtime and resolution both match
func (e *Extractor) Extract(ctx context.Context, path string, resolution int) ([]float64, error) {
	logger := e.logger.WithFields(logging.Fields{
		"path":       path,
		"resolution": resolution,
	})

	key, keyErr := KeyFor(path, resolution)
	if keyErr != nil {
		return nil, fmt.Errorf("%w: %v", transcode.ErrExtractionFailed, keyErr)
	}

	if e.cache != nil {
		if cached, ok := e.cache.Load(path, key); ok {
			logger.Debug("Waveform cache hit")
			return cached, nil
		}
	}

	samples, err := e.PCM(ctx, path)
	if err != nil {
		logger.Warn("Waveform extraction failed", logging.Fields{"error": err.Error()})
		return nil, err
	}

	envelope := Downsample(samples, resolution)

	if e.cache != nil {
		if err := e.cache.Store(path, key, envelope); err != nil {
			logger.Debug("Waveform cache write failed", logging.Fields{"error": err.Error()})
		}
	}
	return envelope, nil
}
