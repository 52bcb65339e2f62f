package visualization

import (
	"context"
	"sync"

	"github.com/RyanBlaney/memoscope/algorithms/common"
	"github.com/RyanBlaney/memoscope/algorithms/spectral"
	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/spectrogram"
	"github.com/RyanBlaney/memoscope/transcode"
	"github.com/RyanBlaney/memoscope/viewport"
	"github.com/RyanBlaney/memoscope/waveform"
)

// Deps are the collaborators shared by every computation. Either cache may
// be nil.
type Deps struct {
	Extractor        transcode.PCMExtractor
	Prober           transcode.Prober
	SpectrogramCache *spectrogram.Cache
	WaveformCache    *waveform.Cache
	STFT             *spectral.STFT
}

// Options tune the controller
type Options struct {
	// Spectrogram parameters; HopLength is replaced by the viewport tier's
	Spectrogram spectrogram.Params
	// WaveformRate is the PCM rate envelopes are built from
	WaveformRate int
	// Dispatch runs surface updates and computation listeners on the UI
	// thread. It must queue and return rather than wait for the UI, since
	// the UI thread may itself be waiting on the worker. nil runs them on
	// the calling goroutine, which for results is the worker's; listeners
	// must then not call LoadMemo, UnloadMemo, RequestZoom or RequestPan,
	// as those wait for the worker they are running on.
	Dispatch func(func())
}

// Controller reacts to viewport tier changes and memo load/unload by
// rebuilding the waveform (synchronously) and the spectrogram (on a
// worker). At most one worker runs at a time and only the newest
// generation's result reaches the surfaces.
type Controller struct {
	viewport    *viewport.Model
	deps        Deps
	opts        Options
	waveform    *waveform.Extractor
	spectrogram SpectrogramSurface
	wave        WaveformSurface
	logger      logging.Logger

	mu         sync.Mutex
	ctx        context.Context
	path       string
	pcm        []float64 // envelope-rate PCM, loaded on the first tier change
	worker     *spectrogram.Worker
	generation uint64
	current    *spectrogram.Result

	lmu       sync.Mutex
	seek      []func(t float64)
	completed []func(*spectrogram.Result)
	failed    []func(error)
}

// New wires a controller to vp. Surfaces may be nil.
func New(vp *viewport.Model, deps Deps, spec SpectrogramSurface, wave WaveformSurface, opts Options) *Controller {
	if spec == nil {
		spec = nopSpectrogramSurface{}
	}
	if wave == nil {
		wave = nopWaveformSurface{}
	}
	if opts.Spectrogram.NFFT <= 0 {
		opts.Spectrogram = spectrogram.DefaultParams(0)
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(fn func()) { fn() }
	}
	if deps.STFT == nil {
		deps.STFT = spectral.NewSTFT()
	}

	c := &Controller{
		viewport:    vp,
		deps:        deps,
		opts:        opts,
		waveform:    waveform.NewExtractor(deps.Extractor, deps.WaveformCache, opts.WaveformRate),
		spectrogram: spec,
		wave:        wave,
		ctx:         context.Background(),
		logger: logging.WithFields(logging.Fields{
			"component": "visualization_controller",
		}),
	}
	vp.OnTierChanged(c.onTierChanged)
	return c
}

// Viewport returns the shared viewport model
func (c *Controller) Viewport() *viewport.Model {
	return c.viewport
}

// OnViewportChanged registers fn for every zoom or pan change
func (c *Controller) OnViewportChanged(fn func()) {
	c.viewport.OnViewportChanged(fn)
}

// OnResolutionTierChanged registers fn for tier-crossing zoom changes
func (c *Controller) OnResolutionTierChanged(fn func(zoom float64)) {
	c.viewport.OnTierChanged(fn)
}

// OnSeekRequested registers fn for RequestSeek calls
func (c *Controller) OnSeekRequested(fn func(t float64)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.seek = append(c.seek, fn)
}

// OnComputationCompleted registers fn for every published spectrogram.
// fn runs through Options.Dispatch and only for the current generation.
func (c *Controller) OnComputationCompleted(fn func(*spectrogram.Result)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.completed = append(c.completed, fn)
}

// OnComputationFailed registers fn for spectrogram failures of the current
// generation. fn runs through Options.Dispatch.
func (c *Controller) OnComputationFailed(fn func(error)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.failed = append(c.failed, fn)
}

// Path returns the loaded memo, or "" when none is loaded
func (c *Controller) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Current returns the spectrogram shown for the current tier, if any
func (c *Controller) Current() *spectrogram.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Generation returns the tag of the newest dispatched computation
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// LoadMemo shows path: the viewport is reset and both views are rebuilt.
// Workers started for this memo, including later tier changes, run under
// ctx.
func (c *Controller) LoadMemo(ctx context.Context, path string) {
	c.UnloadMemo()

	c.mu.Lock()
	c.ctx = ctx
	c.path = path
	c.mu.Unlock()

	c.logger.Info("Loading memo", logging.Fields{"path": path})
	c.viewport.Reset()
	c.refresh(false)
}

// UnloadMemo cancels and waits for any running worker, then clears both
// surfaces
func (c *Controller) UnloadMemo() {
	c.cancelWorker()

	c.mu.Lock()
	loaded := c.path != ""
	c.path = ""
	c.pcm = nil
	c.current = nil
	c.ctx = context.Background()
	c.mu.Unlock()

	if !loaded {
		return
	}
	c.opts.Dispatch(func() {
		c.spectrogram.SetLoadingState(false)
		c.spectrogram.Clear()
		c.wave.SetWaveformData(nil)
	})
}

// Close releases the loaded memo
func (c *Controller) Close() {
	c.UnloadMemo()
}

// RequestSeek forwards a click position, clamped to [0,1], to seek
// subscribers
func (c *Controller) RequestSeek(t float64) {
	t = common.Clamp(t, 0, 1)

	c.lmu.Lock()
	listeners := append([]func(float64){}, c.seek...)
	c.lmu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
}

// RequestZoom multiplies the zoom level by factor around centerTime
func (c *Controller) RequestZoom(factor, centerTime float64) {
	if factor <= 0 {
		return
	}
	c.viewport.SetZoom(c.viewport.Zoom()*factor, centerTime)
}

// RequestPan moves the viewport by delta normalized time
func (c *Controller) RequestPan(delta float64) {
	c.viewport.SetPan(c.viewport.Pan() + delta)
}

func (c *Controller) onTierChanged(zoom float64) {
	c.logger.Debug("Resolution tier changed", logging.Fields{
		"zoom": zoom,
		"tier": viewport.TierForZoom(zoom),
	})
	c.refresh(true)
}

// cancelWorker stops the running worker and blocks until it exits. The
// generation bump makes any result already in flight stale.
func (c *Controller) cancelWorker() {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.generation++
	c.mu.Unlock()

	if w == nil {
		return
	}
	w.Cancel()
	w.Wait()
}

// refresh rebuilds both views for the viewport's current tier
func (c *Controller) refresh(tierChange bool) {
	c.cancelWorker()

	c.mu.Lock()
	path, ctx := c.path, c.ctx
	c.mu.Unlock()
	if path == "" {
		return
	}

	resolution := c.viewport.RecommendedResolution()
	hop := c.viewport.RecommendedHopLength()

	c.updateWaveform(ctx, path, resolution, tierChange)
	c.startSpectrogram(ctx, path, hop)
}

func (c *Controller) updateWaveform(ctx context.Context, path string, resolution int, tierChange bool) {
	logger := c.logger.WithFields(logging.Fields{"path": path, "resolution": resolution})

	var envelope []float64
	var err error
	if tierChange {
		envelope, err = c.rebucket(ctx, path, resolution)
	} else {
		envelope, err = c.waveform.Extract(ctx, path, resolution)
	}

	if err != nil || len(envelope) == 0 {
		logger.Warn("Waveform unavailable", logging.Fields{"error": err})
		c.opts.Dispatch(func() { c.wave.SetWaveformData(nil) })
		return
	}

	normalized := waveform.Normalize(envelope, 1)
	c.opts.Dispatch(func() { c.wave.SetWaveformData(normalized) })
}

// rebucket reuses the memo's PCM so tier changes don't decode again
func (c *Controller) rebucket(ctx context.Context, path string, resolution int) ([]float64, error) {
	c.mu.Lock()
	pcm := c.pcm
	c.mu.Unlock()

	if pcm == nil {
		var err error
		pcm, err = c.waveform.PCM(ctx, path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.path == path {
			c.pcm = pcm
		}
		c.mu.Unlock()
	}
	return waveform.Downsample(pcm, resolution), nil
}

func (c *Controller) startSpectrogram(ctx context.Context, path string, hop int) {
	params := c.opts.Spectrogram
	params.HopLength = hop

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.current = nil
	req := spectrogram.Request{AudioPath: path, Params: params, Generation: gen}
	w := spectrogram.NewWorker(req, spectrogram.Deps{
		Cache:     c.deps.SpectrogramCache,
		Prober:    c.deps.Prober,
		Extractor: c.deps.Extractor,
		STFT:      c.deps.STFT,
	}, c.deliver)
	c.worker = w
	c.mu.Unlock()

	c.opts.Dispatch(func() {
		if c.isCurrent(gen) {
			c.spectrogram.SetLoadingState(true)
		}
	})

	if err := w.Start(ctx); err != nil {
		c.logger.Error(err, "Failed to start spectrogram worker")
	}
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// deliver runs on the worker goroutine. The generation is checked again
// inside each dispatched update, since a tier change may land between the
// two.
func (c *Controller) deliver(out spectrogram.Outcome) {
	c.mu.Lock()
	stale := out.Generation != c.generation || c.worker == nil || c.worker.ID() != out.WorkerID
	if !stale && out.State == spectrogram.Completed {
		c.current = out.Result
	}
	c.mu.Unlock()

	if stale {
		c.logger.Debug("Discarding superseded result", logging.Fields{
			"worker_id":  out.WorkerID,
			"generation": out.Generation,
		})
		return
	}

	// listeners run inside the dispatched update, after the same check
	switch out.State {
	case spectrogram.Completed:
		result := out.Result
		c.opts.Dispatch(func() {
			if !c.isCurrent(out.Generation) {
				return
			}
			c.spectrogram.SetLoadingState(false)
			c.spectrogram.SetSpectrogramData(result.MagnitudeDB, result.Frequencies)
			c.notifyCompleted(result)
		})

	case spectrogram.Failed:
		err := out.Err
		c.opts.Dispatch(func() {
			if !c.isCurrent(out.Generation) {
				return
			}
			c.spectrogram.SetLoadingState(false)
			c.spectrogram.Clear()
			c.notifyFailed(err)
		})
	}
}

func (c *Controller) notifyCompleted(result *spectrogram.Result) {
	c.lmu.Lock()
	listeners := append([]func(*spectrogram.Result){}, c.completed...)
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(result)
	}
}

func (c *Controller) notifyFailed(err error) {
	c.lmu.Lock()
	listeners := append([]func(error){}, c.failed...)
	c.lmu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}
