// Package live turns PCM chunks from an active recording into a smoothed
// level meter and a rolling spectrogram. Nothing here does I/O except the
// file tap, and nothing blocks on a consumer.
package live

import (
	"fmt"
	"sync"

	"github.com/RyanBlaney/memoscope/algorithms/common"
	"github.com/RyanBlaney/memoscope/algorithms/spectral"
	"github.com/RyanBlaney/memoscope/algorithms/windowing"
	"github.com/RyanBlaney/memoscope/logging"
)

// Sink receives live updates. Implementations must return quickly; wrap a
// slow consumer with NewAsyncSink.
type Sink interface {
	SetLevel(level float64)
	SetLevelHistory(levels []float64)
	SetSpectrogramData(magnitudeDB [][]float64, frequencies []float64)
	Clear()
}

// Config holds the live analysis parameters
type Config struct {
	SampleRate int
	NFFT       int
	Window     string
	FreqMin    float64
	FreqMax    float64
	MaxSlices  int
	MaxLevels  int
	Smoothing  float64 // alpha in level*(1-alpha) + rms*alpha
}

// DefaultConfig returns the recording defaults: 48 kHz, n_fft 1024,
// 200 slices, 1000 levels, alpha 0.3
func DefaultConfig() Config {
	return Config{
		SampleRate: 48000,
		NFFT:       1024,
		Window:     windowing.TypeHann,
		FreqMin:    80,
		FreqMax:    8000,
		MaxSlices:  200,
		MaxLevels:  1000,
		Smoothing:  0.3,
	}
}

// Pipeline processes recording chunks synchronously on the caller's
// goroutine. Methods are safe for concurrent use so a UI can read
// snapshots while the audio callback feeds chunks.
type Pipeline struct {
	cfg    Config
	sink   Sink
	logger logging.Logger

	amu      sync.Mutex // guards analyzer scratch buffers
	analyzer *spectral.SliceAnalyzer

	mu      sync.Mutex
	level   float64
	levels  *common.Ring[float64]
	slices  *common.Ring[[]float64]
	chunks  int
	skipped int
}

// NewPipeline creates a pipeline. sink may be nil.
func NewPipeline(cfg Config, sink Sink) (*Pipeline, error) {
	if cfg.MaxSlices <= 0 || cfg.MaxLevels <= 0 {
		return nil, fmt.Errorf("live buffers need positive capacity, got slices=%d levels=%d", cfg.MaxSlices, cfg.MaxLevels)
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %g", cfg.Smoothing)
	}

	analyzer, err := spectral.NewSliceAnalyzer(cfg.SampleRate, cfg.NFFT, cfg.Window, cfg.FreqMin, cfg.FreqMax)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		analyzer: analyzer,
		sink:     sink,
		levels:   common.NewRing[float64](cfg.MaxLevels),
		slices:   common.NewRing[[]float64](cfg.MaxSlices),
		logger: logging.WithFields(logging.Fields{
			"component": "live_pipeline",
			"n_fft":     cfg.NFFT,
		}),
	}, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Frequencies returns the frequency axis of every slice
func (p *Pipeline) Frequencies() []float64 {
	return p.analyzer.Frequencies()
}

// Start clears all state for a new recording
func (p *Pipeline) Start() {
	p.reset()
	p.logger.Debug("Live pipeline started")
}

// Stop clears all state and drops the meter to zero
func (p *Pipeline) Stop() {
	p.mu.Lock()
	chunks, skipped := p.chunks, p.skipped
	p.mu.Unlock()

	p.reset()
	if p.sink != nil {
		p.sink.SetLevel(0)
	}
	p.logger.Debug("Live pipeline stopped", logging.Fields{
		"chunks":         chunks,
		"skipped_slices": skipped,
	})
}

func (p *Pipeline) reset() {
	p.mu.Lock()
	p.level = 0
	p.levels.Clear()
	p.slices.Clear()
	p.chunks = 0
	p.skipped = 0
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.Clear()
	}
}

// ProcessChunk feeds one chunk of interleaved samples in [-1, 1]. The
// chunk is mixed to mono by averaging channels, the smoothed RMS level is
// updated and, when the chunk holds at least NFFT frames, one spectrogram
// slice is appended. It returns the new level.
func (p *Pipeline) ProcessChunk(interleaved []float64, channels int) float64 {
	mono := common.MixToMono(interleaved, channels)
	if len(mono) == 0 {
		return p.Level()
	}

	rms := common.RMS(mono)
	p.amu.Lock()
	slice := p.analyzer.Compute(mono)
	p.amu.Unlock()

	p.mu.Lock()
	p.chunks++
	p.level = common.Smooth(p.level, rms, p.cfg.Smoothing)
	level := p.level
	p.levels.Push(level)
	history := p.levels.Snapshot()

	var matrix [][]float64
	if slice != nil {
		p.slices.Push(slice)
		matrix = p.slices.Snapshot()
	} else {
		p.skipped++
	}
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.SetLevel(level)
		p.sink.SetLevelHistory(history)
		if matrix != nil {
			p.sink.SetSpectrogramData(matrix, p.analyzer.Frequencies())
		}
	}
	return level
}

// Level returns the current smoothed level
func (p *Pipeline) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Levels returns the level history, oldest first
func (p *Pipeline) Levels() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels.Snapshot()
}

// Slices returns the rolling spectrogram, oldest slice first. Slices are
// shared with the pipeline and must not be modified.
func (p *Pipeline) Slices() [][]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slices.Snapshot()
}
