// Command memoscope inspects voice memos from the terminal: probing,
// waveform envelopes, spectrograms, live level monitoring and cache upkeep.
package main

import (
	"fmt"
	"os"

	"github.com/RyanBlaney/memoscope/config"
	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/spectrogram"
	"github.com/RyanBlaney/memoscope/transcode"
	"github.com/RyanBlaney/memoscope/waveform"
	"github.com/spf13/cobra"
)

var Version = "dev"

var flags struct {
	configPath string
	logLevel   string
	verbose    bool
}

// app holds what every subcommand builds from configuration
type app struct {
	cfg       *config.Config
	ffmpeg    *transcode.FFmpeg
	extractor transcode.PCMExtractor
	prober    transcode.Prober
	logger    *logging.ZapLogger
}

func newApp() (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.verbose {
		cfg.Log.Console = true
	}

	a := &app{cfg: cfg}

	zcfg := logging.DefaultZapConfig(cfg.Log.Dir)
	zcfg.Level = logging.ParseLevel(cfg.Log.Level)
	zcfg.Console = cfg.Log.Console
	if zl, err := logging.NewZapLogger(zcfg); err == nil {
		a.logger = zl
		logging.SetGlobalLogger(zl)
	} else {
		fallback := logging.NewDefaultLogger()
		fallback.SetLevel(zcfg.Level)
		logging.SetGlobalLogger(fallback)
		fallback.Warn("File logging unavailable", logging.Fields{"error": err.Error(), "dir": cfg.Log.Dir})
	}

	a.ffmpeg = transcode.NewFFmpeg(cfg.FFmpeg())
	wav := transcode.NewWAVExtractor()
	a.extractor = transcode.NewFallbackExtractor(a.ffmpeg, wav)
	a.prober = transcode.FallbackProber{a.ffmpeg, wav}
	return a, nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) spectrogramCache() *spectrogram.Cache {
	return spectrogram.NewCache(a.cfg.Spectrogram.CacheDir)
}

func (a *app) waveformCache() *waveform.Cache {
	return waveform.NewCache(a.cfg.Waveform.CacheDir)
}

// withApp builds the app for a command and tears it down afterwards
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd, a, args)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoscope",
	Short: "Voice memo visualization toolkit",
	Long: `memoscope computes the data behind voice memo visualizations:
waveform envelopes, cached dB spectrograms at each zoom tier and
live recording levels. ffmpeg/ffprobe are used when available; plain
WAV files are also decoded without them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"Also write logs to stderr")

	rootCmd.AddCommand(
		newProbeCmd(),
		newTranscodeCmd(),
		newWaveformCmd(),
		newSpectrogramCmd(),
		newMonitorCmd(),
		newCacheCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
