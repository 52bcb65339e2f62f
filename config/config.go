// Package config loads memoscope settings from defaults, an optional
// config file and MEMOSCOPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RyanBlaney/memoscope/live"
	"github.com/RyanBlaney/memoscope/spectrogram"
	"github.com/RyanBlaney/memoscope/transcode"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// MEMOSCOPE_SPECTROGRAM_N_FFT=1024
const EnvPrefix = "MEMOSCOPE"

// Config is the full application configuration
type Config struct {
	Tools       ToolsConfig       `mapstructure:"tools" validate:"required"`
	Spectrogram SpectrogramConfig `mapstructure:"spectrogram" validate:"required"`
	Waveform    WaveformConfig    `mapstructure:"waveform" validate:"required"`
	Live        LiveConfig        `mapstructure:"live" validate:"required"`
	Log         LogConfig         `mapstructure:"log" validate:"required"`
}

// ToolsConfig locates the external audio tools
type ToolsConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path" validate:"required"`
	FFprobePath      string        `mapstructure:"ffprobe_path" validate:"required"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	TranscodeTimeout time.Duration `mapstructure:"transcode_timeout" validate:"gt=0"`
}

// SpectrogramConfig holds post-hoc spectrogram parameters. Hop length is
// not configurable; it follows the viewport tier.
type SpectrogramConfig struct {
	NFFT          int     `mapstructure:"n_fft" validate:"gt=0"`
	Window        string  `mapstructure:"window" validate:"oneof=hann hamming blackman rectangular"`
	FreqMin       float64 `mapstructure:"freq_min" validate:"gte=0"`
	FreqMax       float64 `mapstructure:"freq_max" validate:"gtfield=FreqMin"`
	MaxSampleRate int     `mapstructure:"max_sample_rate" validate:"gt=0"`
	CacheDir      string  `mapstructure:"cache_dir"` // empty: next to the audio file
}

// WaveformConfig holds waveform envelope parameters
type WaveformConfig struct {
	SampleRate int    `mapstructure:"sample_rate" validate:"gt=0"`
	CacheDir   string `mapstructure:"cache_dir"` // empty: <audio dir>/.waveform_cache
}

// LiveConfig holds recording-time meter and spectrogram parameters
type LiveConfig struct {
	SampleRate   int           `mapstructure:"sample_rate" validate:"gt=0"`
	NFFT         int           `mapstructure:"n_fft" validate:"gt=0"`
	MaxSlices    int           `mapstructure:"max_slices" validate:"gt=0"`
	MaxLevels    int           `mapstructure:"max_levels" validate:"gt=0"`
	Smoothing    float64       `mapstructure:"smoothing" validate:"gt=0,lte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// LogConfig selects log level and destination
type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "memoscope", "logs")
	}
	return filepath.Join(home, ".memoscope", "logs")
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Tools: ToolsConfig{
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			Timeout:          30 * time.Second,
			TranscodeTimeout: 5 * time.Minute,
		},
		Spectrogram: SpectrogramConfig{
			NFFT:          2048,
			Window:        "hann",
			FreqMin:       80,
			FreqMax:       8000,
			MaxSampleRate: 16000,
		},
		Waveform: WaveformConfig{
			SampleRate: 4000,
		},
		Live: LiveConfig{
			SampleRate:   48000,
			NFFT:         1024,
			MaxSlices:    200,
			MaxLevels:    1000,
			Smoothing:    0.3,
			PollInterval: 50 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   defaultLogDir(),
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("tools.ffmpeg_path", d.Tools.FFmpegPath)
	v.SetDefault("tools.ffprobe_path", d.Tools.FFprobePath)
	v.SetDefault("tools.timeout", d.Tools.Timeout)
	v.SetDefault("tools.transcode_timeout", d.Tools.TranscodeTimeout)

	v.SetDefault("spectrogram.n_fft", d.Spectrogram.NFFT)
	v.SetDefault("spectrogram.window", d.Spectrogram.Window)
	v.SetDefault("spectrogram.freq_min", d.Spectrogram.FreqMin)
	v.SetDefault("spectrogram.freq_max", d.Spectrogram.FreqMax)
	v.SetDefault("spectrogram.max_sample_rate", d.Spectrogram.MaxSampleRate)
	v.SetDefault("spectrogram.cache_dir", d.Spectrogram.CacheDir)

	v.SetDefault("waveform.sample_rate", d.Waveform.SampleRate)
	v.SetDefault("waveform.cache_dir", d.Waveform.CacheDir)

	v.SetDefault("live.sample_rate", d.Live.SampleRate)
	v.SetDefault("live.n_fft", d.Live.NFFT)
	v.SetDefault("live.max_slices", d.Live.MaxSlices)
	v.SetDefault("live.max_levels", d.Live.MaxLevels)
	v.SetDefault("live.smoothing", d.Live.Smoothing)
	v.SetDefault("live.poll_interval", d.Live.PollInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.console", d.Log.Console)
}

// Load layers defaults, the optional file at path (yaml, json or toml by
// extension) and environment overrides, then validates the result
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// FFmpeg returns the tool configuration for transcode.NewFFmpeg
func (c *Config) FFmpeg() *transcode.FFmpegConfig {
	return &transcode.FFmpegConfig{
		FFmpegPath:       c.Tools.FFmpegPath,
		FFprobePath:      c.Tools.FFprobePath,
		Timeout:          c.Tools.Timeout,
		TranscodeTimeout: c.Tools.TranscodeTimeout,
	}
}

// SpectrogramParams returns the post-hoc worker parameters for hop
func (c *Config) SpectrogramParams(hop int) spectrogram.Params {
	return spectrogram.Params{
		NFFT:          c.Spectrogram.NFFT,
		HopLength:     hop,
		FreqMin:       c.Spectrogram.FreqMin,
		FreqMax:       c.Spectrogram.FreqMax,
		Window:        c.Spectrogram.Window,
		MaxSampleRate: c.Spectrogram.MaxSampleRate,
	}
}

// LivePipeline returns the recording pipeline configuration. The window and
// frequency range follow the post-hoc spectrogram so both render alike.
func (c *Config) LivePipeline() live.Config {
	return live.Config{
		SampleRate: c.Live.SampleRate,
		NFFT:       c.Live.NFFT,
		Window:     c.Spectrogram.Window,
		FreqMin:    c.Spectrogram.FreqMin,
		FreqMax:    c.Spectrogram.FreqMax,
		MaxSlices:  c.Live.MaxSlices,
		MaxLevels:  c.Live.MaxLevels,
		Smoothing:  c.Live.Smoothing,
	}
}
