// Package viewport holds the shared zoom/pan state used by the waveform and
// spectrogram surfaces. Times are normalized to [0,1] of the track length.
package viewport

import (
	"math"
	"sync"
)

const (
	MinZoom = 1.0
	MaxZoom = 50.0
)

// Tier thresholds: zoom < 2 is tier 0, < 5 tier 1, < 10 tier 2, else tier 3
var tierThresholds = [...]float64{2.0, 5.0, 10.0}

// Per-tier waveform sample counts and STFT hop lengths. For a 5 s memo at
// 16 kHz the sample count is a whole multiple of the spectrogram frame
// count, e.g. 78 frames x 13 = 1014, keeping both views registered.
var (
	tierResolutions = [...]int{1014, 2028, 4992, 9984}
	tierHopLengths  = [...]int{1024, 512, 256, 128}
)

// State is an immutable snapshot of the viewport
type State struct {
	Zoom float64
	Pan  float64
}

// VisibleDuration returns the fraction of the track on screen
func (s State) VisibleDuration() float64 {
	return math.Min(1.0, 1.0/s.Zoom)
}

// Tier returns the resolution tier (0-3)
func (s State) Tier() int {
	return TierForZoom(s.Zoom)
}

// Model is the shared viewport. Listeners are invoked synchronously after
// the change is applied, outside the internal lock, so they may read the
// model back.
type Model struct {
	mu    sync.RWMutex
	state State

	lmu             sync.Mutex
	changeListeners []func()
	tierListeners   []func(zoom float64)
}

// New creates a model at the fit-all state (zoom 1, pan 0)
func New() *Model {
	return &Model{state: State{Zoom: MinZoom}}
}

// TierForZoom maps a zoom level to its resolution tier
func TierForZoom(zoom float64) int {
	for i, threshold := range tierThresholds {
		if zoom < threshold {
			return i
		}
	}
	return len(tierThresholds)
}

// ResolutionForTier returns the waveform sample count for a tier
func ResolutionForTier(tier int) int {
	return tierResolutions[clampTier(tier)]
}

// HopLengthForTier returns the STFT hop length for a tier
func HopLengthForTier(tier int) int {
	return tierHopLengths[clampTier(tier)]
}

func clampTier(tier int) int {
	return max(0, min(tier, len(tierResolutions)-1))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// OnViewportChanged registers fn for every accepted zoom or pan change
func (m *Model) OnViewportChanged(fn func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.changeListeners = append(m.changeListeners, fn)
}

// OnTierChanged registers fn for zoom changes that cross a tier boundary.
// fn receives the new zoom level.
func (m *Model) OnTierChanged(fn func(zoom float64)) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.tierListeners = append(m.tierListeners, fn)
}

func (m *Model) emit(tierChanged bool, zoom float64) {
	m.lmu.Lock()
	changed := append([]func(){}, m.changeListeners...)
	tiers := append([]func(float64){}, m.tierListeners...)
	m.lmu.Unlock()

	for _, fn := range changed {
		fn()
	}
	if tierChanged {
		for _, fn := range tiers {
			fn(zoom)
		}
	}
}

// Snapshot returns the current state
func (m *Model) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Zoom returns the current zoom level
func (m *Model) Zoom() float64 {
	return m.Snapshot().Zoom
}

// Pan returns the current pan offset
func (m *Model) Pan() float64 {
	return m.Snapshot().Pan
}

// VisibleDuration returns min(1, 1/zoom)
func (m *Model) VisibleDuration() float64 {
	return m.Snapshot().VisibleDuration()
}

// Tier returns the current resolution tier
func (m *Model) Tier() int {
	return m.Snapshot().Tier()
}

// SetZoom changes the zoom level, keeping centerTime at the same fraction
// of the viewport width it occupied before. It does nothing when the
// clamped zoom equals the current one or either argument is NaN or
// infinite.
func (m *Model) SetZoom(zoom, centerTime float64) {
	if !finite(zoom) || !finite(centerTime) {
		return
	}
	newZoom := clamp(zoom, MinZoom, MaxZoom)

	m.mu.Lock()
	old := m.state
	if newZoom == old.Zoom {
		m.mu.Unlock()
		return
	}

	centerPos := 0.5
	if visible := old.VisibleDuration(); visible > 0 {
		centerPos = clamp((centerTime-old.Pan)/visible, 0, 1)
	}

	next := State{Zoom: newZoom}
	newVisible := next.VisibleDuration()
	next.Pan = clamp(centerTime-centerPos*newVisible, 0, math.Max(0, 1-newVisible))
	m.state = next
	m.mu.Unlock()

	m.emit(old.Tier() != next.Tier(), newZoom)
}

// SetPan moves the viewport start, clamped to [0, 1-visible]. Non-finite
// offsets are ignored.
func (m *Model) SetPan(offset float64) {
	if !finite(offset) {
		return
	}
	m.mu.Lock()
	maxOffset := math.Max(0, 1-m.state.VisibleDuration())
	newPan := clamp(offset, 0, maxOffset)
	if newPan == m.state.Pan {
		m.mu.Unlock()
		return
	}
	m.state.Pan = newPan
	m.mu.Unlock()

	m.emit(false, 0)
}

// Reset returns to the fit-all view. A zoomed-in reset does not raise a
// tier event; callers that reload data do so explicitly.
func (m *Model) Reset() {
	m.mu.Lock()
	if m.state.Zoom == MinZoom && m.state.Pan == 0 {
		m.mu.Unlock()
		return
	}
	m.state = State{Zoom: MinZoom}
	m.mu.Unlock()

	m.emit(false, 0)
}

// VisibleTimeRange returns (start, end) of the visible window
func (m *Model) VisibleTimeRange() (float64, float64) {
	s := m.Snapshot()
	return s.Pan, math.Min(1.0, s.Pan+s.VisibleDuration())
}

// ScreenToTime maps a pixel x coordinate to normalized time, clamped to [0,1].
// A non-positive width yields 0.
func (m *Model) ScreenToTime(pixelX, widgetWidth float64) float64 {
	if widgetWidth <= 0 {
		return 0
	}
	s := m.Snapshot()
	return clamp(s.Pan+(pixelX/widgetWidth)*s.VisibleDuration(), 0, 1)
}

// TimeToScreen maps normalized time to a pixel x coordinate. The result is
// not clamped and may fall outside [0, widgetWidth].
func (m *Model) TimeToScreen(t, widgetWidth float64) float64 {
	s := m.Snapshot()
	visible := s.VisibleDuration()
	if visible <= 0 {
		return 0
	}
	return (t - s.Pan) / visible * widgetWidth
}

// IsTimeVisible reports whether pan <= t <= pan+visible
func (m *Model) IsTimeVisible(t float64) bool {
	s := m.Snapshot()
	return s.Pan <= t && t <= s.Pan+s.VisibleDuration()
}

// RecommendedResolution returns the waveform sample count for the current tier
func (m *Model) RecommendedResolution() int {
	return ResolutionForTier(m.Tier())
}

// RecommendedHopLength returns the STFT hop length for the current tier
func (m *Model) RecommendedHopLength() int {
	return HopLengthForTier(m.Tier())
}
