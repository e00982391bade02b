package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowMean(t *testing.T) {
	w := NewWindow(3)
	w.Add(1)
	w.Add(2)
	w.Add(3)
	require.Equal(t, 2.0, w.Mean())

	w.Add(10) // evicts 1
	require.InDelta(t, 5.0, w.Mean(), 1e-9)
}

func TestWindowMinMax(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{5, 1, 9, 2, 8} {
		w.Add(v)
	}
	// window now holds the last 3: 9, 2, 8
	mn, ok := w.Min()
	require.True(t, ok)
	require.Equal(t, 2.0, mn)

	mx, ok := w.Max()
	require.True(t, ok)
	require.Equal(t, 9.0, mx)
}

func TestWindowMinMaxSlidingExpiry(t *testing.T) {
	w := NewWindow(2)
	w.Add(100)
	w.Add(1)
	w.Add(2)
	mx, _ := w.Max()
	require.Equal(t, 2.0, mx) // 100 fell out of the window
}
