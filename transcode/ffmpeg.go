package transcode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/memoscope/logging"
)

// FFmpegConfig holds paths and timeouts for the external tools
type FFmpegConfig struct {
	FFmpegPath       string        `json:"ffmpeg_path"`
	FFprobePath      string        `json:"ffprobe_path"`
	Timeout          time.Duration `json:"timeout"`           // probe and extraction
	TranscodeTimeout time.Duration `json:"transcode_timeout"` // format conversion
}

// DefaultFFmpegConfig returns default tool configuration
func DefaultFFmpegConfig() *FFmpegConfig {
	return &FFmpegConfig{
		FFmpegPath:       "ffmpeg",  // Assume in PATH
		FFprobePath:      "ffprobe", // Assume in PATH
		Timeout:          30 * time.Second,
		TranscodeTimeout: 5 * time.Minute,
	}
}

// FFmpeg implements Prober, PCMExtractor and Transcoder by shelling out
type FFmpeg struct {
	config *FFmpegConfig
}

// NewFFmpeg creates a new ffmpeg wrapper
func NewFFmpeg(config *FFmpegConfig) *FFmpeg {
	if config == nil {
		config = DefaultFFmpegConfig()
	}
	return &FFmpeg{config: config}
}

// Config returns the tool configuration
func (f *FFmpeg) Config() FFmpegConfig {
	return *f.config
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// run executes a tool and returns stdout, folding stderr into the error
func (f *FFmpeg) run(ctx context.Context, timeout time.Duration, bin string, args ...string) ([]byte, error) {
	runCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("%s failed: %w, stderr: %s", bin, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s failed: %w", bin, err)
	}
	return output, nil
}

// ProbeArgs builds the ffprobe argument list for path
func ProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

// Probe reads duration, codec, sample rate, bit rate and channels
func (f *FFmpeg) Probe(ctx context.Context, path string) (*AudioInfo, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "ffmpeg",
		"function":  "Probe",
		"path":      path,
	})

	output, err := f.run(ctx, f.config.Timeout, f.config.FFprobePath, ProbeArgs(path)...)
	if err != nil {
		logger.Debug("ffprobe failed", logging.Fields{"error": err.Error()})
		return nil, err
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"sample_rate": info.SampleRate,
		"channels":    info.Channels,
		"codec":       info.Codec,
		"duration":    info.Duration,
		"bit_rate":    info.BitRate,
	})
	return info, nil
}

// ParseProbeOutput extracts AudioInfo from ffprobe JSON. Format-level
// duration and bit rate win; the first audio stream supplies codec,
// sample rate and channels, and its bit rate is the fallback.
func ParseProbeOutput(jsonData []byte) (*AudioInfo, error) {
	var probe struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &AudioInfo{
		Codec:  "unknown",
		Format: "unknown",
	}
	if probe.Format.FormatName != "" {
		info.Format = probe.Format.FormatName
	}
	info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	info.BitRate, _ = strconv.Atoi(probe.Format.BitRate)

	found := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		found = true
		if stream.CodecName != "" {
			info.Codec = stream.CodecName
		}
		info.SampleRate, _ = strconv.Atoi(stream.SampleRate)
		info.Channels = stream.Channels
		if info.BitRate == 0 {
			info.BitRate, _ = strconv.Atoi(stream.BitRate)
		}
		if info.Duration == 0 {
			info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
		}
		break
	}

	if !found {
		return nil, ErrNoAudioStream
	}
	return info, nil
}

// ExtractArgs builds the ffmpeg argument list for raw f32le PCM on stdout
func ExtractArgs(path string, sampleRate, channels int, maxDuration time.Duration) []string {
	args := []string{
		"-i", path,
		"-f", "f32le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
	}
	if maxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(maxDuration.Seconds(), 'f', -1, 64))
	}
	return append(args, "-")
}

// ExtractPCM decodes path to float samples at the requested rate and
// channel count. Empty output is reported as ErrExtractionFailed.
func (f *FFmpeg) ExtractPCM(ctx context.Context, path string, sampleRate, channels int, maxDuration time.Duration) ([]float64, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: sample_rate=%d channels=%d", ErrExtractionFailed, sampleRate, channels)
	}

	logger := logging.WithFields(logging.Fields{
		"component": "ffmpeg",
		"function":  "ExtractPCM",
		"path":      path,
	})

	args := ExtractArgs(path, sampleRate, channels, maxDuration)
	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := f.run(ctx, f.config.Timeout, f.config.FFmpegPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	samples := Float32LEToFloat64(output)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples decoded from %s", ErrExtractionFailed, path)
	}
	return samples, nil
}

// Float32LEToFloat64 converts raw little-endian float32 bytes to []float64.
// A trailing partial sample is dropped.
func Float32LEToFloat64(data []byte) []float64 {
	sampleCount := len(data) / 4
	if sampleCount == 0 {
		return nil
	}

	samples := make([]float64, sampleCount)
	for i := range sampleCount {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		samples[i] = float64(math.Float32frombits(bits))
	}
	return samples
}

// TranscodeArgs builds `-i in -y -c:a codec [-ar] [-b:a] [-ac] [extra] out`
func TranscodeArgs(in, out string, params CodecParams) []string {
	args := []string{"-i", in, "-y"}
	if params.Codec != "" {
		args = append(args, "-c:a", params.Codec)
	}
	if params.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(params.SampleRate))
	}
	if params.BitRate != "" {
		args = append(args, "-b:a", params.BitRate)
	}
	if params.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(params.Channels))
	}
	args = append(args, params.ExtraArgs...)
	return append(args, out)
}

// Transcode converts in to out using params
func (f *FFmpeg) Transcode(ctx context.Context, in, out string, params CodecParams) error {
	logger := logging.WithFields(logging.Fields{
		"component": "ffmpeg",
		"function":  "Transcode",
		"input":     in,
		"output":    out,
		"codec":     params.Codec,
	})

	if _, err := f.run(ctx, f.config.TranscodeTimeout, f.config.FFmpegPath, TranscodeArgs(in, out, params)...); err != nil {
		logger.Warn("Conversion failed", logging.Fields{"error": err.Error()})
		return err
	}

	logger.Info("Conversion completed")
	return nil
}

// CheckAvailability checks if ffmpeg and ffprobe are runnable
func (f *FFmpeg) CheckAvailability(ctx context.Context) error {
	if _, err := f.run(ctx, 5*time.Second, f.config.FFmpegPath, "-version"); err != nil {
		return fmt.Errorf("ffmpeg not found at %s: %w", f.config.FFmpegPath, err)
	}
	if _, err := f.run(ctx, 5*time.Second, f.config.FFprobePath, "-version"); err != nil {
		return fmt.Errorf("ffprobe not found at %s: %w", f.config.FFprobePath, err)
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	output, err := f.run(ctx, 5*time.Second, f.config.FFmpegPath, "-version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}

// Encoders lists encoder names reported by `ffmpeg -encoders`
func (f *FFmpeg) Encoders(ctx context.Context) ([]string, error) {
	output, err := f.run(ctx, 5*time.Second, f.config.FFmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return nil, err
	}
	return ParseEncoderList(output), nil
}

// ParseEncoderList picks codec names out of the `-encoders` table, whose
// rows look like " A....D aac  AAC (Advanced Audio Coding)". Rows after
// the " ------" separator are parsed; the legend above it is skipped.
func ParseEncoderList(output []byte) []string {
	var names []string
	inTable := false

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "------") {
			inTable = true
			continue
		}
		if !inTable || !strings.HasPrefix(line, " ") {
			continue
		}
		if parts := strings.Fields(line); len(parts) >= 2 {
			names = append(names, parts[1])
		}
	}
	return names
}
