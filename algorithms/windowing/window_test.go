package windowing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsByName(t *testing.T) {
	for _, kind := range []string{"", "hann", "HAMMING", "blackman", "rectangular", "boxcar"} {
		w, err := New(kind, 16)
		require.NoError(t, err, kind)
		assert.Equal(t, 16, w.GetSize())
	}

	_, err := New("kaiser", 16)
	assert.Error(t, err)

	_, err = New("hann", 0)
	assert.Error(t, err)
}

func TestPeriodicHann(t *testing.T) {
	w := NewHann(4, false)
	// periodic hann of size 4: 0, 0.5, 1, 0.5
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5}, w.GetCoefficients(), 1e-12)
	assert.InDelta(t, 2.0, w.Sum(), 1e-12)
	assert.Equal(t, "hann", w.GetType())
	assert.False(t, w.IsSymmetric())
}

func TestSymmetricHannEndsAtZero(t *testing.T) {
	w := NewHann(5, true)
	c := w.GetCoefficients()
	assert.InDelta(t, 0, c[0], 1e-12)
	assert.InDelta(t, 1, c[2], 1e-12)
	assert.InDelta(t, 0, c[4], 1e-12)
}

func TestApplyInPlace(t *testing.T) {
	w := NewHann(4, false)
	sig := []float64{2, 2, 2, 2}
	require.NoError(t, w.ApplyInPlace(sig))
	assert.InDeltaSlice(t, []float64{0, 1, 2, 1}, sig, 1e-12)

	assert.Error(t, w.ApplyInPlace([]float64{1, 2}))
	assert.Nil(t, w.Apply([]float64{1}))
}

func TestRectangularIsIdentity(t *testing.T) {
	w := NewRectangular(3)
	assert.Equal(t, []float64{4, 5, 6}, w.Apply([]float64{4, 5, 6}))
	assert.Equal(t, 3.0, w.Sum())
}

func TestCoefficientsAreCopied(t *testing.T) {
	w := NewHamming(8, false)
	c := w.GetCoefficients()
	c[0] = 99
	assert.NotEqual(t, 99.0, w.GetCoefficients()[0])
}
