// Package visualization keeps the waveform and spectrogram surfaces in step
// with the shared viewport, owning the background spectrogram worker.
package visualization

// SpectrogramSurface renders a spectrogram. Magnitudes are time x
// frequency in dB; the slices must be treated as read-only.
type SpectrogramSurface interface {
	SetSpectrogramData(magnitudeDB [][]float64, frequencies []float64)
	SetLoadingState(loading bool)
	Clear()
}

// WaveformSurface renders a normalized amplitude envelope. nil means no
// data and shows the placeholder.
type WaveformSurface interface {
	SetWaveformData(amplitudes []float64)
}

type nopSpectrogramSurface struct{}

func (nopSpectrogramSurface) SetSpectrogramData([][]float64, []float64) {}
func (nopSpectrogramSurface) SetLoadingState(bool)                      {}
func (nopSpectrogramSurface) Clear()                                    {}

type nopWaveformSurface struct{}

func (nopWaveformSurface) SetWaveformData([]float64) {}
