package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// MaxAbs returns the largest absolute value in data (0 for empty input)
func MaxAbs(data []float64) float64 {
	peak := 0.0
	for _, v := range data {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

// PeakNormalize returns a copy of data divided by its maximum value.
// A non-positive maximum leaves the values unchanged.
func PeakNormalize(data []float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if len(out) == 0 {
		return out
	}

	if peak := floats.Max(out); peak > 0 {
		floats.Scale(1/peak, out)
	}
	return out
}

// MixToMono averages interleaved channels into a single channel.
// Trailing samples that don't fill a whole frame are dropped.
func MixToMono(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		out := make([]float64, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for i := range frames {
		mono[i] = floats.Sum(interleaved[i*channels:(i+1)*channels]) / float64(channels)
	}
	return mono
}

// Clamp restricts value to [lo, hi]
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// Smooth applies one step of exponential smoothing:
// prev*(1-alpha) + next*alpha
func Smooth(prev, next, alpha float64) float64 {
	return prev*(1-alpha) + next*alpha
}

// MinMax returns the smallest and largest values in a matrix
func MinMax(matrix [][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range matrix {
		if len(row) == 0 {
			continue
		}
		lo = math.Min(lo, floats.Min(row))
		hi = math.Max(hi, floats.Max(row))
	}
	return lo, hi
}
