package fixer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatencyInvariantCleanInput(t *testing.T) {
	f := New()
	for i := 0; i < 20; i++ {
		out, changed := f.Fix(float64(i), float64(i))
		require.False(t, changed)
		if i >= Window {
			require.InDelta(t, float64(i-Edge), out.Y(), 1e-6)
		}
	}
}

func TestJumpCorrection(t *testing.T) {
	f := New()
	var sawChange bool
	var deltaAtChange float64
	for i := 0; i < 30; i++ {
		y := float64(i)
		if i >= 10 {
			y += 100
		}
		out, changed := f.Fix(float64(i), y)
		_ = out
		if changed {
			sawChange = true
			// the offset applied should cancel ~100 of the jump.
			deltaAtChange = f.currentOffset
		}
	}
	require.True(t, sawChange)
	require.InDelta(t, -100.0, deltaAtChange, 5.0)
}

func TestOutlierImmunity(t *testing.T) {
	f := New()
	for i := 0; i < 30; i++ {
		y := float64(i)
		if i == 15 {
			y += 50
		}
		_, changed := f.Fix(float64(i), y)
		require.False(t, changed, "single spike at i=%d must not trigger a correction", i)
	}
}
