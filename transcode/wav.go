package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/memoscope/algorithms/common"
	"github.com/go-audio/wav"
)

// WAVExtractor decodes PCM .wav files without external tools
type WAVExtractor struct {
	interp *common.Interpolator
}

// NewWAVExtractor creates a WAV extractor with linear resampling
func NewWAVExtractor() *WAVExtractor {
	return &WAVExtractor{interp: common.NewInterpolator(common.Linear)}
}

func isWAV(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".wav" || ext == ".wave"
}

// Probe reads the WAV header
func (w *WAVExtractor) Probe(ctx context.Context, path string) (*AudioInfo, error) {
	if !isWAV(path) {
		return nil, ErrUnsupportedFormat
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid wav file", ErrUnsupportedFormat, path)
	}

	info := &AudioInfo{
		Codec:      fmt.Sprintf("pcm_s%dle", dec.BitDepth),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitRate:    int(dec.SampleRate) * int(dec.NumChans) * int(dec.BitDepth),
		Format:     "wav",
	}
	if dur, err := dec.Duration(); err == nil {
		info.Duration = dur.Seconds()
	}
	return info, nil
}

// ExtractPCM decodes integer PCM, remixes to the requested channel count
// and resamples linearly to sampleRate
func (w *WAVExtractor) ExtractPCM(ctx context.Context, path string, sampleRate, channels int, maxDuration time.Duration) ([]float64, error) {
	if !isWAV(path) {
		return nil, ErrUnsupportedFormat
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample_rate=%d channels=%d", ErrExtractionFailed, sampleRate, channels)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid wav file", ErrUnsupportedFormat, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	srcChannels := max(int(dec.NumChans), 1)
	srcRate := int(dec.SampleRate)
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}

	// 8-bit WAV is unsigned; wider depths are signed
	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		offset = 128
	}

	interleaved := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = (float64(v) - offset) / scale
	}

	if maxDuration > 0 && srcRate > 0 {
		limit := int(maxDuration.Seconds()*float64(srcRate)) * srcChannels
		if limit < len(interleaved) {
			interleaved = interleaved[:limit]
		}
	}

	mono := common.MixToMono(interleaved, srcChannels)
	mono = w.interp.ResampleSignal(mono, srcRate, sampleRate)
	if len(mono) == 0 {
		return nil, fmt.Errorf("%w: no samples decoded from %s", ErrExtractionFailed, path)
	}

	if channels == 1 {
		return mono, nil
	}

	// duplicate the mono mix across every requested channel
	out := make([]float64, len(mono)*channels)
	for i, v := range mono {
		for c := range channels {
			out[i*channels+c] = v
		}
	}
	return out, nil
}

// ReadWAVChannels returns the channel count from a WAV header, or
// fallback when the header can't be read
func ReadWAVChannels(path string, fallback int) int {
	file, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	dec.ReadInfo()
	if dec.Err() != nil || dec.NumChans == 0 {
		return fallback
	}
	return int(dec.NumChans)
}
