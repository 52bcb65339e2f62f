package visualization

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/spectrogram"
	"github.com/RyanBlaney/memoscope/viewport"
	"github.com/RyanBlaney/memoscope/waveform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
	os.Exit(m.Run())
}

const analysisRate = 16000

type fakeExtractor struct {
	mu       sync.Mutex
	samples  []float64
	err      error
	calls    map[int]int
	block    int // spectrogram-rate calls that wait for cancellation
	blocking chan struct{}
}

func (f *fakeExtractor) ExtractPCM(ctx context.Context, path string, rate, channels int, maxDuration time.Duration) ([]float64, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[int]int{}
	}
	f.calls[rate]++
	shouldBlock := rate == analysisRate && f.block > 0
	if shouldBlock {
		f.block--
	}
	blocking := f.blocking
	f.mu.Unlock()

	if shouldBlock {
		if blocking != nil {
			blocking <- struct{}{}
		}
		// finish normally once cancelled, as a slow decode would
		<-ctx.Done()
	}
	return f.samples, f.err
}

func (f *fakeExtractor) callsAt(rate int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rate]
}

type surfaceState struct {
	specSets int
	matrix   [][]float64
	freqs    []float64
	loading  []bool
	clears   int
	wave     []float64
	waveSets int
}

type fakeSurfaces struct {
	mu    sync.Mutex
	state surfaceState
}

func (s *fakeSurfaces) SetSpectrogramData(m [][]float64, f []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.specSets++
	s.state.matrix, s.state.freqs = m, f
}

func (s *fakeSurfaces) SetLoadingState(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.loading = append(s.state.loading, loading)
}

func (s *fakeSurfaces) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.clears++
}

func (s *fakeSurfaces) SetWaveformData(a []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.waveSets++
	s.state.wave = a
}

func (s *fakeSurfaces) snapshot() surfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.loading = append([]bool(nil), s.state.loading...)
	return out
}

func sine(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/analysisRate)
	}
	return out
}

func memo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memo.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

type harness struct {
	vp        *viewport.Model
	ctrl      *Controller
	ex        *fakeExtractor
	surfaces  *fakeSurfaces
	completed chan *spectrogram.Result
	failed    chan error
}

func newHarness(t *testing.T, ex *fakeExtractor) *harness {
	t.Helper()
	h := &harness{
		vp:        viewport.New(),
		ex:        ex,
		surfaces:  &fakeSurfaces{},
		completed: make(chan *spectrogram.Result, 8),
		failed:    make(chan error, 8),
	}
	h.ctrl = New(h.vp, Deps{Extractor: ex}, h.surfaces, h.surfaces, Options{
		Spectrogram:  spectrogram.DefaultParams(0),
		WaveformRate: waveform.DefaultSampleRate,
	})
	h.ctrl.OnComputationCompleted(func(r *spectrogram.Result) { h.completed <- r })
	h.ctrl.OnComputationFailed(func(err error) { h.failed <- err })
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) awaitResult(t *testing.T) *spectrogram.Result {
	t.Helper()
	select {
	case r := <-h.completed:
		return r
	case err := <-h.failed:
		t.Fatalf("computation failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for spectrogram")
	}
	return nil
}

func TestLoadMemoPublishesBothViews(t *testing.T) {
	h := newHarness(t, &fakeExtractor{samples: sine(analysisRate)})
	path := memo(t)

	h.vp.SetZoom(7, 0.5)
	h.ctrl.LoadMemo(context.Background(), path)

	// load resets the viewport
	assert.Equal(t, 1.0, h.vp.Zoom())
	assert.Equal(t, path, h.ctrl.Path())

	result := h.awaitResult(t)
	// tier 0: hop 1024, n_fft 2048 over 16000 samples
	assert.Equal(t, 15, result.TimeBins())
	assert.Same(t, result, h.ctrl.Current())

	s := h.surfaces.snapshot()
	assert.Equal(t, 1, s.specSets)
	assert.Equal(t, result.MagnitudeDB, s.matrix)
	assert.Equal(t, []bool{true, false}, s.loading)

	require.Len(t, s.wave, viewport.ResolutionForTier(0))
	peak := 0.0
	for _, v := range s.wave {
		peak = math.Max(peak, v)
	}
	assert.InDelta(t, 1.0, peak, 1e-12)
}

func TestTierChangeRecomputesWithNewHop(t *testing.T) {
	h := newHarness(t, &fakeExtractor{samples: sine(analysisRate)})
	h.ctrl.LoadMemo(context.Background(), memo(t))
	h.awaitResult(t)
	gen := h.ctrl.Generation()

	// same tier: visual only
	h.ctrl.RequestZoom(1.5, 0.5)
	assert.Equal(t, gen, h.ctrl.Generation())

	h.ctrl.RequestZoom(2, 0.5) // 3.0 -> tier 1
	assert.Greater(t, h.ctrl.Generation(), gen)

	result := h.awaitResult(t)
	// hop 512
	assert.Equal(t, 29, result.TimeBins())

	s := h.surfaces.snapshot()
	assert.Len(t, s.wave, viewport.ResolutionForTier(1))
	assert.Equal(t, 2, s.specSets)

	// later tier changes re-bucket the decoded envelope
	h.ctrl.RequestZoom(2, 0.5) // 6.0 -> tier 2
	h.awaitResult(t)
	assert.Equal(t, 2, h.ex.callsAt(waveform.DefaultSampleRate))
	assert.Len(t, h.surfaces.snapshot().wave, viewport.ResolutionForTier(2))
}

func TestSupersededWorkerNeverPublishes(t *testing.T) {
	ex := &fakeExtractor{samples: sine(analysisRate), block: 1, blocking: make(chan struct{}, 1)}
	h := newHarness(t, ex)
	h.ctrl.LoadMemo(context.Background(), memo(t))

	// worker A is inside extraction
	select {
	case <-ex.blocking:
	case <-time.After(5 * time.Second):
		t.Fatal("worker A never started extracting")
	}
	genA := h.ctrl.Generation()

	// crossing a tier cancels and awaits A, then dispatches B
	h.ctrl.RequestZoom(2.5, 0.25)
	genB := h.ctrl.Generation()
	assert.Greater(t, genB, genA)

	result := h.awaitResult(t)
	assert.Equal(t, 29, result.TimeBins())

	select {
	case r := <-h.completed:
		t.Fatalf("unexpected second result with %d frames", r.TimeBins())
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 1, h.surfaces.snapshot().specSets)
	assert.Equal(t, 2, ex.callsAt(analysisRate))
}

func TestStaleOutcomeIsDiscarded(t *testing.T) {
	h := newHarness(t, &fakeExtractor{samples: sine(analysisRate)})
	h.ctrl.LoadMemo(context.Background(), memo(t))
	current := h.awaitResult(t)

	h.ctrl.deliver(spectrogram.Outcome{
		WorkerID:   "someone-else",
		Generation: h.ctrl.Generation() - 1,
		State:      spectrogram.Completed,
		Result:     &spectrogram.Result{MagnitudeDB: [][]float64{{0}}, Frequencies: []float64{100}},
	})

	assert.Same(t, current, h.ctrl.Current())
	assert.Equal(t, 1, h.surfaces.snapshot().specSets)
	assert.Empty(t, h.completed)
}

func TestExtractionFailureDegradesToPlaceholder(t *testing.T) {
	h := newHarness(t, &fakeExtractor{err: errors.New("ffmpeg exploded")})
	h.ctrl.LoadMemo(context.Background(), memo(t))

	select {
	case err := <-h.failed:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected failure")
	}

	s := h.surfaces.snapshot()
	assert.Nil(t, s.wave)
	assert.Equal(t, 1, s.waveSets)
	assert.Equal(t, 1, s.clears)
	assert.Equal(t, 0, s.specSets)
	assert.Equal(t, []bool{true, false}, s.loading)
	assert.Nil(t, h.ctrl.Current())
}

func TestUnloadCancelsRunningWorker(t *testing.T) {
	ex := &fakeExtractor{samples: sine(analysisRate), block: 1, blocking: make(chan struct{}, 1)}
	h := newHarness(t, ex)
	h.ctrl.LoadMemo(context.Background(), memo(t))
	<-ex.blocking

	done := make(chan struct{})
	go func() {
		h.ctrl.UnloadMemo()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unload did not return")
	}

	assert.Empty(t, h.ctrl.Path())
	assert.Nil(t, h.ctrl.Current())
	assert.Empty(t, h.completed)

	s := h.surfaces.snapshot()
	assert.Equal(t, 1, s.clears)
	assert.Nil(t, s.wave)

	// tier changes with nothing loaded do nothing
	gen := h.ctrl.Generation()
	h.ctrl.RequestZoom(20, 0.5)
	assert.Equal(t, gen+1, h.ctrl.Generation())
	assert.Equal(t, 1, ex.callsAt(analysisRate))
}

func TestCachedSpectrogramIsReused(t *testing.T) {
	ex := &fakeExtractor{samples: sine(analysisRate)}
	vp := viewport.New()
	ctrl := New(vp, Deps{
		Extractor:        ex,
		SpectrogramCache: spectrogram.NewCache(t.TempDir()),
		WaveformCache:    waveform.NewCache(t.TempDir()),
	}, nil, nil, Options{})
	defer ctrl.Close()

	results := make(chan *spectrogram.Result, 2)
	ctrl.OnComputationCompleted(func(r *spectrogram.Result) { results <- r })

	path := memo(t)
	ctrl.LoadMemo(context.Background(), path)
	first := <-results
	ctrl.LoadMemo(context.Background(), path)
	second := <-results

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ex.callsAt(analysisRate))
	assert.Equal(t, 1, ex.callsAt(waveform.DefaultSampleRate))
}

func TestRequestSeekAndPan(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})

	var seeks []float64
	h.ctrl.OnSeekRequested(func(pos float64) { seeks = append(seeks, pos) })
	h.ctrl.RequestSeek(0.25)
	h.ctrl.RequestSeek(1.5)
	h.ctrl.RequestSeek(-1)
	assert.Equal(t, []float64{0.25, 1, 0}, seeks)

	changes := 0
	h.ctrl.OnViewportChanged(func() { changes++ })
	h.ctrl.RequestZoom(4, 0)
	h.ctrl.RequestPan(0.1)
	assert.InDelta(t, 0.1, h.vp.Pan(), 1e-12)
	h.ctrl.RequestPan(5)
	assert.InDelta(t, 0.75, h.vp.Pan(), 1e-12)
	h.ctrl.RequestZoom(0, 0.5)
	assert.Equal(t, 4.0, h.vp.Zoom())
	assert.Equal(t, 3, changes)
}

func TestDispatchRunsSurfaceUpdates(t *testing.T) {
	var mu sync.Mutex
	dispatched := 0
	surfaces := &fakeSurfaces{}
	done := make(chan struct{}, 1)

	ctrl := New(viewport.New(), Deps{Extractor: &fakeExtractor{samples: sine(analysisRate)}}, surfaces, surfaces, Options{
		Dispatch: func(fn func()) {
			mu.Lock()
			dispatched++
			mu.Unlock()
			fn()
		},
	})
	defer ctrl.Close()
	ctrl.OnComputationCompleted(func(*spectrogram.Result) { done <- struct{}{} })

	ctrl.LoadMemo(context.Background(), memo(t))
	<-done

	mu.Lock()
	defer mu.Unlock()
	// waveform, loading, result
	assert.Equal(t, 3, dispatched)
}

// uiLoop runs queued updates on one goroutine, standing in for the UI thread
type uiLoop struct {
	queue chan func()
	quit  chan struct{}
	done  chan struct{}
}

func newUILoop(t *testing.T) *uiLoop {
	t.Helper()
	l := &uiLoop{
		queue: make(chan func(), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(l.done)
		for {
			select {
			case fn := <-l.queue:
				fn()
			case <-l.quit:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(l.quit)
		<-l.done
	})
	return l
}

func (l *uiLoop) dispatch(fn func()) {
	l.queue <- fn
}

// run executes fn on the loop and waits for it
func (l *uiLoop) run(t *testing.T, fn func()) {
	t.Helper()
	finished := make(chan struct{})
	l.dispatch(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("UI loop stalled")
	}
}

func TestCompletionListenerCanCrossTier(t *testing.T) {
	loop := newUILoop(t)
	surfaces := &fakeSurfaces{}
	vp := viewport.New()
	ctrl := New(vp, Deps{Extractor: &fakeExtractor{samples: sine(analysisRate)}}, surfaces, surfaces, Options{
		Dispatch: loop.dispatch,
	})

	results := make(chan *spectrogram.Result, 4)
	zoomed := false
	ctrl.OnComputationCompleted(func(r *spectrogram.Result) {
		results <- r
		if !zoomed {
			zoomed = true
			ctrl.RequestZoom(3, 0.5) // tier 0 -> 1
		}
	})

	path := memo(t)
	loop.run(t, func() { ctrl.LoadMemo(context.Background(), path) })

	var frames []int
	for range 2 {
		select {
		case r := <-results:
			frames = append(frames, r.TimeBins())
		case <-time.After(5 * time.Second):
			t.Fatalf("listener zoom stalled after %v", frames)
		}
	}
	// hop 1024 then hop 512
	assert.Equal(t, []int{15, 29}, frames)

	loop.run(t, func() {
		assert.Equal(t, 3.0, vp.Zoom())
		assert.Equal(t, 2, surfaces.snapshot().specSets)
		ctrl.Close()
	})
}

func TestSupersededCompletionSkipsListeners(t *testing.T) {
	queue := make(chan func(), 16)
	surfaces := &fakeSurfaces{}
	ctrl := New(viewport.New(), Deps{Extractor: &fakeExtractor{samples: sine(analysisRate)}}, surfaces, surfaces, Options{
		Dispatch: func(fn func()) { queue <- fn },
	})
	defer ctrl.Close()

	completed := 0
	ctrl.OnComputationCompleted(func(*spectrogram.Result) { completed++ })

	ctrl.LoadMemo(context.Background(), memo(t))
	// waveform, loading, then the worker's result
	require.Eventually(t, func() bool { return len(queue) == 3 }, 5*time.Second, time.Millisecond)

	// unloading before the UI gets to the result supersedes it
	ctrl.UnloadMemo()
	for len(queue) > 0 {
		(<-queue)()
	}

	assert.Zero(t, completed)
	assert.Nil(t, ctrl.Current())
	s := surfaces.snapshot()
	assert.Zero(t, s.specSets)
	assert.Equal(t, 1, s.clears)
}
