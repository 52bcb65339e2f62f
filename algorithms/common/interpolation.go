package common

// InterpolationType defines interpolation method
type InterpolationType int

const (
	Linear InterpolationType = iota
	Cubic
)

// Interpolator resamples sample arrays at fractional positions
type Interpolator struct {
	method InterpolationType
}

// NewInterpolator creates a new interpolator
func NewInterpolator(method InterpolationType) *Interpolator {
	return &Interpolator{
		method: method,
	}
}

// Interpolate performs interpolation at fractional index
func (interp *Interpolator) Interpolate(data []float64, index float64) float64 {
	if interp.method == Cubic {
		return interp.cubicInterpolate(data, index)
	}
	return interp.linearInterpolate(data, index)
}

func (interp *Interpolator) linearInterpolate(data []float64, index float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	if index <= 0 {
		return data[0]
	}

	i := int(index)
	if i >= len(data)-1 {
		return data[len(data)-1]
	}

	frac := index - float64(i)
	return data[i] + frac*(data[i+1]-data[i])
}

// cubicInterpolate uses a Catmull-Rom spline through the four nearest points
func (interp *Interpolator) cubicInterpolate(data []float64, index float64) float64 {
	i := int(index)
	if len(data) < 4 || i < 1 || i >= len(data)-2 {
		return interp.linearInterpolate(data, index)
	}

	frac := index - float64(i)
	y0, y1, y2, y3 := data[i-1], data[i], data[i+1], data[i+2]

	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2

	return ((a0*frac+a1)*frac+a2)*frac + y1
}

// ResampleSignal resamples a signal to a new sample rate.
// Equal rates return the input unchanged.
func (interp *Interpolator) ResampleSignal(signal []float64, originalRate, targetRate int) []float64 {
	if len(signal) == 0 || originalRate <= 0 || targetRate <= 0 || originalRate == targetRate {
		return signal
	}

	ratio := float64(originalRate) / float64(targetRate)
	newLength := int(float64(len(signal)) / ratio)
	if newLength <= 0 {
		return []float64{}
	}

	resampled := make([]float64, newLength)
	for i := range resampled {
		resampled[i] = interp.Interpolate(signal, float64(i)*ratio)
	}

	return resampled
}
