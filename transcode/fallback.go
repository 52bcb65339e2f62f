package transcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/memoscope/logging"
)

// FallbackExtractor tries each extractor in order and returns the first
// non-empty result
type FallbackExtractor struct {
	extractors []PCMExtractor
	logger     logging.Logger
}

// NewFallbackExtractor creates a chain of extractors
func NewFallbackExtractor(extractors ...PCMExtractor) *FallbackExtractor {
	return &FallbackExtractor{
		extractors: extractors,
		logger: logging.WithFields(logging.Fields{
			"component": "fallback_extractor",
		}),
	}
}

// ExtractPCM implements PCMExtractor
func (f *FallbackExtractor) ExtractPCM(ctx context.Context, path string, sampleRate, channels int, maxDuration time.Duration) ([]float64, error) {
	var errs []error
	for i, ex := range f.extractors {
		samples, err := ex.ExtractPCM(ctx, path, sampleRate, channels, maxDuration)
		if err == nil && len(samples) > 0 {
			return samples, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			err = errors.New("empty result")
		}
		if !errors.Is(err, ErrUnsupportedFormat) {
			f.logger.Debug("Extractor failed, trying next", logging.Fields{
				"path":  path,
				"index": i,
				"error": err.Error(),
			})
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, errors.Join(errs...))
}

// FallbackProber asks each prober in order
type FallbackProber []Prober

// Probe implements Prober
func (p FallbackProber) Probe(ctx context.Context, path string) (*AudioInfo, error) {
	var errs []error
	for _, prober := range p {
		info, err := prober.Probe(ctx, path)
		if err == nil {
			return info, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoAudioStream
	}
	return nil, errors.Join(errs...)
}
