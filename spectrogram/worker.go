package spectrogram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RyanBlaney/memoscope/algorithms/spectral"
	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/transcode"
	"github.com/google/uuid"
)

// ErrCancelled is reported by Run when the worker was stopped before
// producing a result
var ErrCancelled = errors.New("spectrogram computation cancelled")

// State is the worker lifecycle state
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is an end state
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Request describes one computation. Generation is an opaque tag the
// caller uses to recognise superseded work.
type Request struct {
	AudioPath  string
	Params     Params
	Generation uint64
}

// Outcome is delivered to the completion callback
type Outcome struct {
	WorkerID   string
	Generation uint64
	State      State
	Result     *Result // set when State == Completed
	Err        error   // set when State == Failed
	FromCache  bool
	Elapsed    time.Duration
}

// Deps are the collaborators a worker uses. Cache may be nil to disable
// caching; Prober may be nil, in which case Params.MaxSampleRate is used.
type Deps struct {
	Cache     *Cache
	Prober    transcode.Prober
	Extractor transcode.PCMExtractor
	STFT      *spectral.STFT
}

// Worker computes a single spectrogram on its own goroutine.
// Idle -> Running -> Completed | Failed | Cancelled.
type Worker struct {
	id     string
	req    Request
	deps   Deps
	onDone func(Outcome)
	logger logging.Logger

	mu        sync.Mutex
	state     State
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
	outcome   Outcome
}

// NewWorker creates an idle worker. onDone, if non-nil, is called from the
// worker goroutine exactly once for Completed or Failed, and never for
// Cancelled.
func NewWorker(req Request, deps Deps, onDone func(Outcome)) *Worker {
	if deps.STFT == nil {
		deps.STFT = spectral.NewSTFT()
	}
	id := uuid.NewString()
	return &Worker{
		id:     id,
		req:    req,
		deps:   deps,
		onDone: onDone,
		done:   make(chan struct{}),
		logger: logging.WithFields(logging.Fields{
			"component":  "spectrogram_worker",
			"worker_id":  id,
			"generation": req.Generation,
			"path":       req.AudioPath,
			"hop_length": req.Params.HopLength,
		}),
	}
}

// ID returns the worker's unique identifier
func (w *Worker) ID() string {
	return w.id
}

// Request returns the request the worker was built with
func (w *Worker) Request() Request {
	return w.req
}

// State returns the current state
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start launches the computation. It fails if the worker already ran.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != Idle {
		w.mu.Unlock()
		return fmt.Errorf("worker %s already %s", w.id, w.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.state = Running
	if w.cancelled {
		cancel()
	}
	w.mu.Unlock()

	go w.run(runCtx)
	return nil
}

// Run starts the worker and blocks until it finishes
func (w *Worker) Run(ctx context.Context) (*Result, error) {
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.outcome.State {
	case Completed:
		return w.outcome.Result, nil
	case Cancelled:
		return nil, ErrCancelled
	default:
		return nil, w.outcome.Err
	}
}

// Cancel requests cooperative cancellation. A worker that had already
// settled on Completed or Failed before Cancel took the lock still calls
// onDone after Cancel returns; callers that must drop such results compare
// Outcome.Generation against their own.
func (w *Worker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
	if w.cancel != nil {
		w.cancel()
	}
}

// Wait blocks until the worker reaches a terminal state. Waiting on a
// worker that was never started returns immediately.
func (w *Worker) Wait() {
	w.mu.Lock()
	started := w.state != Idle
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

// Done is closed when the worker finishes
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) isCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	start := time.Now()

	result, fromCache, err := w.compute(ctx)

	out := Outcome{
		WorkerID:   w.id,
		Generation: w.req.Generation,
		FromCache:  fromCache,
		Elapsed:    time.Since(start),
	}

	// The publish decision is taken under the same lock Cancel uses
	w.mu.Lock()
	switch {
	case w.cancelled || errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		out.State = Cancelled
	case err != nil:
		out.State = Failed
		out.Err = err
	default:
		out.State = Completed
		out.Result = result
	}
	w.state = out.State
	w.outcome = out
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	switch out.State {
	case Cancelled:
		w.logger.Debug("Computation cancelled", logging.Fields{"elapsed": out.Elapsed.String()})
		return
	case Failed:
		w.logger.Warn("Computation failed", logging.Fields{"error": err.Error()})
	case Completed:
		w.logger.Debug("Computation completed", logging.Fields{
			"frames":     result.TimeBins(),
			"freq_bins":  result.FreqBins(),
			"from_cache": fromCache,
			"elapsed":    out.Elapsed.String(),
		})
	}

	if w.onDone != nil {
		w.onDone(out)
	}
}

// compute performs cache lookup, extraction, transform and store, checking
// for cancellation between each step
func (w *Worker) compute(ctx context.Context) (*Result, bool, error) {
	p := w.req.Params
	path := w.req.AudioPath

	if w.isCancelled(ctx) {
		return nil, false, ErrCancelled
	}

	// 1. cache lookup
	key, keyErr := KeyFor(path, p)
	if keyErr != nil {
		return nil, false, fmt.Errorf("%w: %v", transcode.ErrExtractionFailed, keyErr)
	}
	if w.deps.Cache != nil {
		if cached, ok := w.deps.Cache.Load(path, key); ok {
			return cached, true, nil
		}
	}

	if w.isCancelled(ctx) {
		return nil, false, ErrCancelled
	}

	// 2. extract mono PCM at min(native, cap)
	rate := w.analysisRate(ctx)
	if w.deps.Extractor == nil {
		return nil, false, fmt.Errorf("%w: no extractor configured", transcode.ErrExtractionFailed)
	}
	samples, err := w.deps.Extractor.ExtractPCM(ctx, path, rate, 1, 0)
	if w.isCancelled(ctx) {
		return nil, false, ErrCancelled
	}
	if err != nil {
		if !errors.Is(err, transcode.ErrExtractionFailed) {
			err = fmt.Errorf("%w: %v", transcode.ErrExtractionFailed, err)
		}
		return nil, false, err
	}
	if len(samples) == 0 {
		return nil, false, fmt.Errorf("%w: no samples", transcode.ErrExtractionFailed)
	}

	// 3. transform and band-limit
	stft, err := w.deps.STFT.Compute(ctx, samples, rate, p.NFFT, p.HopLength, p.Window)
	if w.isCancelled(ctx) {
		return nil, false, ErrCancelled
	}
	if err != nil {
		return nil, false, err
	}
	filtered, err := stft.Filter(p.FreqMin, p.FreqMax)
	if err != nil {
		return nil, false, err
	}
	result := FromSTFT(filtered)

	if w.isCancelled(ctx) {
		return nil, false, ErrCancelled
	}

	// 4. best-effort store
	if w.deps.Cache != nil {
		if err := w.deps.Cache.Store(path, key, result); err != nil {
			w.logger.Debug("Cache write failed", logging.Fields{"error": err.Error()})
		}
	}

	return result, false, nil
}

func (w *Worker) analysisRate(ctx context.Context) int {
	limit := w.req.Params.MaxSampleRate
	if limit <= 0 {
		limit = 16000
	}
	if w.deps.Prober == nil {
		return limit
	}

	info, err := w.deps.Prober.Probe(ctx, w.req.AudioPath)
	if err != nil || info.SampleRate <= 0 {
		w.logger.Debug("Probe failed, using analysis rate cap", logging.Fields{"rate": limit})
		return limit
	}
	return min(info.SampleRate, limit)
}
