package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RyanBlaney/memoscope/filecache"
	"github.com/RyanBlaney/memoscope/live"
	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/spectrogram"
	"github.com/RyanBlaney/memoscope/transcode"
	"github.com/RyanBlaney/memoscope/viewport"
	"github.com/RyanBlaney/memoscope/waveform"
	"github.com/spf13/cobra"
)

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		_, err = fmt.Println(string(data))
		return err
	}
	return filecache.WriteFileAtomic(path, data)
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "Print duration, codec, sample rate, bit rate and channels",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			info, err := a.prober.Probe(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("probe %s: %w", args[0], err)
			}
			return writeJSON("", info)
		}),
	}
}

func newTranscodeCmd() *cobra.Command {
	var params transcode.CodecParams

	cmd := &cobra.Command{
		Use:   "transcode <in> <out>",
		Short: "Convert a memo with ffmpeg",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.ffmpeg.Transcode(cmd.Context(), args[0], args[1], params)
		}),
	}
	cmd.Flags().StringVar(&params.Codec, "codec", "aac", "Audio codec")
	cmd.Flags().IntVar(&params.SampleRate, "sample-rate", 0, "Output sample rate (0 keeps the source rate)")
	cmd.Flags().StringVar(&params.BitRate, "bitrate", "", "Output bit rate, e.g. 128k")
	cmd.Flags().IntVar(&params.Channels, "channels", 0, "Output channel count (0 keeps the source layout)")
	cmd.Flags().StringSliceVar(&params.ExtraArgs, "ffmpeg-arg", nil, "Extra ffmpeg argument (repeatable)")
	return cmd
}

type waveformOutput struct {
	Path       string    `json:"path"`
	Resolution int       `json:"resolution"`
	Tier       int       `json:"tier"`
	Points     int       `json:"points"`
	Amplitudes []float64 `json:"amplitudes,omitempty"`
}

func newWaveformCmd() *cobra.Command {
	var (
		zoom       float64
		resolution int
		noCache    bool
		out        string
	)

	cmd := &cobra.Command{
		Use:   "waveform <file>",
		Short: "Extract the normalized amplitude envelope",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			tier := viewport.TierForZoom(zoom)
			if resolution <= 0 {
				resolution = viewport.ResolutionForTier(tier)
			}

			var cache *waveform.Cache
			if !noCache {
				cache = a.waveformCache()
			}
			ex := waveform.NewExtractor(a.extractor, cache, a.cfg.Waveform.SampleRate)

			envelope, err := ex.Extract(cmd.Context(), args[0], resolution)
			if err != nil {
				return err
			}
			normalized := waveform.Normalize(envelope, 1)

			result := waveformOutput{
				Path:       args[0],
				Resolution: resolution,
				Tier:       tier,
				Points:     len(normalized),
			}
			if out != "" {
				result.Amplitudes = normalized
				return writeJSON(out, result)
			}
			lo, hi := waveform.PeakLevels(normalized)
			fmt.Printf("%s: %d points (tier %d), range %.3f..%.3f\n", args[0], result.Points, tier, lo, hi)
			return nil
		}),
	}
	cmd.Flags().Float64Var(&zoom, "zoom", viewport.MinZoom, "Zoom level selecting the resolution tier")
	cmd.Flags().IntVar(&resolution, "resolution", 0, "Point count (overrides --zoom)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Skip the envelope cache")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the envelope as JSON to this file (- for stdout)")
	return cmd
}

type spectrogramOutput struct {
	Path        string      `json:"path"`
	NFFT        int         `json:"n_fft"`
	HopLength   int         `json:"hop_length"`
	TimeBins    int         `json:"time_bins"`
	FreqBins    int         `json:"freq_bins"`
	MinDB       float64     `json:"min_db"`
	MaxDB       float64     `json:"max_db"`
	Frequencies []float64   `json:"frequencies,omitempty"`
	MagnitudeDB [][]float64 `json:"magnitude_db,omitempty"`
}

func newSpectrogramCmd() *cobra.Command {
	var (
		zoom    float64
		hop     int
		noCache bool
		out     string
	)

	cmd := &cobra.Command{
		Use:   "spectrogram <file>",
		Short: "Compute (or load from cache) the dB spectrogram for a zoom tier",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if hop <= 0 {
				hop = viewport.HopLengthForTier(viewport.TierForZoom(zoom))
			}
			params := a.cfg.SpectrogramParams(hop)

			deps := spectrogram.Deps{Prober: a.prober, Extractor: a.extractor}
			if !noCache {
				deps.Cache = a.spectrogramCache()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			started := time.Now()
			result, err := spectrogram.NewWorker(spectrogram.Request{AudioPath: args[0], Params: params}, deps, nil).Run(ctx)
			if err != nil {
				return err
			}

			lo, hi := result.DBRange()
			summary := spectrogramOutput{
				Path:      args[0],
				NFFT:      params.NFFT,
				HopLength: params.HopLength,
				TimeBins:  result.TimeBins(),
				FreqBins:  result.FreqBins(),
				MinDB:     lo,
				MaxDB:     hi,
			}
			if out != "" {
				summary.Frequencies = result.Frequencies
				summary.MagnitudeDB = result.MagnitudeDB
				return writeJSON(out, summary)
			}

			span := "none"
			if n := len(result.Frequencies); n > 0 {
				span = fmt.Sprintf("%.1f-%.1f Hz", result.Frequencies[0], result.Frequencies[n-1])
			}
			fmt.Printf("%s: %d frames x %d bins (%s), %.1f..%.1f dB in %s\n",
				args[0], summary.TimeBins, summary.FreqBins, span, lo, hi, time.Since(started).Round(time.Millisecond))
			return nil
		}),
	}
	cmd.Flags().Float64Var(&zoom, "zoom", viewport.MinZoom, "Zoom level selecting the hop length tier")
	cmd.Flags().IntVar(&hop, "hop", 0, "Hop length (overrides --zoom)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Neither read nor write the spectrogram cache")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the spectrogram as JSON to this file (- for stdout)")
	return cmd
}

// meterSink prints the level meter on one terminal line
type meterSink struct{}

func (meterSink) SetLevel(level float64) {
	width := int(level * 50)
	fmt.Printf("\r[%-50s] %.3f", strings.Repeat("#", min(width, 50)), level)
}

func (meterSink) SetLevelHistory([]float64)                 {}
func (meterSink) SetSpectrogramData([][]float64, []float64) {}
func (meterSink) Clear()                                    {}

func newMonitorCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "monitor <recording.wav>",
		Short: "Show live levels of a WAV file that is being recorded",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			lc := a.cfg.LivePipeline()
			if info, err := a.prober.Probe(ctx, args[0]); err == nil && info.SampleRate > 0 {
				lc.SampleRate = info.SampleRate
			}

			sink := live.NewAsyncSink(meterSink{})
			defer sink.Close()

			pipeline, err := live.NewPipeline(lc, sink)
			if err != nil {
				return err
			}

			tap := live.NewFileTap(pipeline, a.cfg.Live.PollInterval)
			tap.Start(ctx, args[0])
			<-ctx.Done()
			tap.Stop()
			fmt.Println()

			logging.Info("Monitor stopped", logging.Fields{
				"path":   args[0],
				"slices": len(pipeline.Slices()),
			})
			return nil
		}),
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage visualization caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <dir>",
		Short: "Delete waveform and spectrogram caches for the memos in dir",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			dir := args[0]

			waveforms, err := waveform.ClearAll(dir)
			if err != nil {
				logging.Warn("Some waveform caches could not be removed", logging.Fields{"error": err.Error()})
			}

			specDirs := []string{dir}
			if d := a.cfg.Spectrogram.CacheDir; d != "" {
				specDirs = append(specDirs, d)
			}
			spectrograms := 0
			for _, d := range specDirs {
				matches, err := filepath.Glob(filepath.Join(d, "*"+spectrogram.CacheExt))
				if err != nil {
					return err
				}
				for _, m := range matches {
					if err := filecache.Remove(m); err != nil {
						logging.Warn("Could not remove spectrogram cache", logging.Fields{"file": m, "error": err.Error()})
						continue
					}
					spectrograms++
				}
			}

			fmt.Printf("Removed %d waveform and %d spectrogram cache files\n", waveforms, spectrograms)
			return nil
		}),
	})
	return cmd
}
