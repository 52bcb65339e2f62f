// Package transcode wraps the external audio tools (ffmpeg/ffprobe) used to
// probe, decode and convert memo files, plus a pure-Go WAV reader.
package transcode

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExtractionFailed means no usable PCM could be produced
	ErrExtractionFailed = errors.New("pcm extraction failed")
	// ErrNoAudioStream means the probed file has no audio stream
	ErrNoAudioStream = errors.New("no audio stream found")
	// ErrUnsupportedFormat is returned by extractors that can't read a file
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// AudioInfo holds probed audio properties
type AudioInfo struct {
	Duration   float64 `json:"duration"`    // seconds
	Codec      string  `json:"codec"`       // e.g. "aac", "pcm_s16le"
	SampleRate int     `json:"sample_rate"` // Hz
	BitRate    int     `json:"bit_rate"`    // bps, 0 when unknown
	Channels   int     `json:"channels"`
	Format     string  `json:"format"` // container, e.g. "mov,mp4,m4a"
}

// CodecParams describes an output encoding for Transcode.
// Zero values leave the choice to ffmpeg.
type CodecParams struct {
	Codec      string   `json:"codec"`
	SampleRate int      `json:"sample_rate,omitempty"`
	BitRate    string   `json:"bit_rate,omitempty"` // e.g. "128k"
	Channels   int      `json:"channels,omitempty"`
	ExtraArgs  []string `json:"extra_args,omitempty"`
}

// Prober reads audio metadata from a file
type Prober interface {
	Probe(ctx context.Context, path string) (*AudioInfo, error)
}

// PCMExtractor decodes a file to float samples (interleaved when
// channels > 1). maxDuration <= 0 means the whole file.
type PCMExtractor interface {
	ExtractPCM(ctx context.Context, path string, sampleRate, channels int, maxDuration time.Duration) ([]float64, error)
}

// Transcoder converts between audio formats
type Transcoder interface {
	Transcode(ctx context.Context, in, out string, params CodecParams) error
}
