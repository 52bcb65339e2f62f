package live

import (
	"sync"
)

type spectrogramUpdate struct {
	magnitudeDB [][]float64
	frequencies []float64
}

// AsyncSink forwards updates to another Sink on its own goroutine. Each
// kind of update has a single pending slot, so a consumer that falls
// behind only ever sees the newest value. Calls never block.
type AsyncSink struct {
	target Sink

	mu          sync.Mutex
	level       *float64
	history     []float64
	hasHistory  bool
	spectrogram *spectrogramUpdate
	clear       bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewAsyncSink starts forwarding to target. Close stops it.
func NewAsyncSink(target Sink) *AsyncSink {
	s := &AsyncSink{
		target: target,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetLevel replaces any pending level
func (s *AsyncSink) SetLevel(level float64) {
	s.mu.Lock()
	s.level = &level
	s.mu.Unlock()
	s.notify()
}

// SetLevelHistory replaces any pending level history
func (s *AsyncSink) SetLevelHistory(levels []float64) {
	s.mu.Lock()
	s.history = levels
	s.hasHistory = true
	s.mu.Unlock()
	s.notify()
}

// SetSpectrogramData replaces any pending spectrogram
func (s *AsyncSink) SetSpectrogramData(magnitudeDB [][]float64, frequencies []float64) {
	s.mu.Lock()
	s.spectrogram = &spectrogramUpdate{magnitudeDB: magnitudeDB, frequencies: frequencies}
	s.mu.Unlock()
	s.notify()
}

// Clear discards pending updates and forwards a clear
func (s *AsyncSink) Clear() {
	s.mu.Lock()
	s.level = nil
	s.history = nil
	s.hasHistory = false
	s.spectrogram = nil
	s.clear = true
	s.mu.Unlock()
	s.notify()
}

// Close stops the forwarding goroutine after delivering what is pending
func (s *AsyncSink) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.quit:
			s.flush()
			return
		}
	}
}

func (s *AsyncSink) flush() {
	s.mu.Lock()
	clearPending := s.clear
	level := s.level
	history, hasHistory := s.history, s.hasHistory
	spec := s.spectrogram
	s.clear = false
	s.level = nil
	s.history = nil
	s.hasHistory = false
	s.spectrogram = nil
	s.mu.Unlock()

	if clearPending {
		s.target.Clear()
	}
	if level != nil {
		s.target.SetLevel(*level)
	}
	if hasHistory {
		s.target.SetLevelHistory(history)
	}
	if spec != nil {
		s.target.SetSpectrogramData(spec.magnitudeDB, spec.frequencies)
	}
}
