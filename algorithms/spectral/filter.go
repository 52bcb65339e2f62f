package spectral

import "fmt"

// FrequencyMask returns the indices of freqs inside [fMin, fMax] (inclusive)
func FrequencyMask(freqs []float64, fMin, fMax float64) []int {
	idx := make([]int, 0, len(freqs))
	for i, f := range freqs {
		if f >= fMin && f <= fMax {
			idx = append(idx, i)
		}
	}
	return idx
}

// FilterFrequencyRange keeps the bins of spectrogram whose frequency lies
// in [fMin, fMax]. Both returned slices are freshly allocated.
func FilterFrequencyRange(spectrogram [][]float64, freqs []float64, fMin, fMax float64) ([][]float64, []float64, error) {
	if fMin > fMax {
		return nil, nil, fmt.Errorf("%w: freq_min %.1f > freq_max %.1f", ErrInvalidParams, fMin, fMax)
	}

	keep := FrequencyMask(freqs, fMin, fMax)

	outFreqs := make([]float64, len(keep))
	for j, k := range keep {
		outFreqs[j] = freqs[k]
	}

	out := make([][]float64, len(spectrogram))
	for t, row := range spectrogram {
		if len(row) != len(freqs) {
			return nil, nil, fmt.Errorf("%w: frame %d has %d bins, expected %d", ErrInvalidParams, t, len(row), len(freqs))
		}
		filtered := make([]float64, len(keep))
		for j, k := range keep {
			filtered[j] = row[k]
		}
		out[t] = filtered
	}

	return out, outFreqs, nil
}

// Filter applies FilterFrequencyRange to r and returns a new result
func (r *STFTResult) Filter(fMin, fMax float64) (*STFTResult, error) {
	mag, freqs, err := FilterFrequencyRange(r.MagnitudeDB, r.Frequencies, fMin, fMax)
	if err != nil {
		return nil, err
	}

	filtered := *r
	filtered.MagnitudeDB = mag
	filtered.Frequencies = freqs
	filtered.FreqBins = len(freqs)
	return &filtered, nil
}
