package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Spectrogram.NFFT)
	assert.Equal(t, "hann", cfg.Spectrogram.Window)
	assert.Equal(t, 80.0, cfg.Spectrogram.FreqMin)
	assert.Equal(t, 8000.0, cfg.Spectrogram.FreqMax)
	assert.Equal(t, 16000, cfg.Spectrogram.MaxSampleRate)
	assert.Equal(t, 4000, cfg.Waveform.SampleRate)
	assert.Equal(t, 1024, cfg.Live.NFFT)
	assert.Equal(t, 200, cfg.Live.MaxSlices)
	assert.Equal(t, 0.3, cfg.Live.Smoothing)
	assert.Equal(t, 50*time.Millisecond, cfg.Live.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
spectrogram:
  n_fft: 1024
  freq_max: 6000
live:
  poll_interval: 100ms
log:
  level: debug
`), 0o644))

	t.Setenv("MEMOSCOPE_TOOLS_FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("MEMOSCOPE_LIVE_N_FFT", "2048")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Spectrogram.NFFT)
	assert.Equal(t, 6000.0, cfg.Spectrogram.FreqMax)
	assert.Equal(t, 80.0, cfg.Spectrogram.FreqMin)
	assert.Equal(t, 100*time.Millisecond, cfg.Live.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.Tools.FFmpegPath)
	assert.Equal(t, 2048, cfg.Live.NFFT)

	ff := cfg.FFmpeg()
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", ff.FFmpegPath)
	assert.Equal(t, 5*time.Minute, ff.TranscodeTimeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Spectrogram.NFFT)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
spectrogram:
  freq_min: 9000
  freq_max: 8000
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FreqMax")
}

func TestValidateWindowName(t *testing.T) {
	cfg := Default()
	cfg.Spectrogram.Window = "kaiser"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Live.Smoothing = 0
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

func TestComponentParams(t *testing.T) {
	cfg := Default()
	cfg.Spectrogram.FreqMax = 6000

	params := cfg.SpectrogramParams(256)
	assert.Equal(t, 2048, params.NFFT)
	assert.Equal(t, 256, params.HopLength)
	assert.Equal(t, 6000.0, params.FreqMax)
	assert.Equal(t, 16000, params.MaxSampleRate)

	lc := cfg.LivePipeline()
	assert.Equal(t, 1024, lc.NFFT)
	assert.Equal(t, 48000, lc.SampleRate)
	assert.Equal(t, "hann", lc.Window)
	assert.Equal(t, 6000.0, lc.FreqMax)
	assert.Equal(t, 200, lc.MaxSlices)
	assert.Equal(t, 1000, lc.MaxLevels)
}
