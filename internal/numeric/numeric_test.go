package numeric

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolve3x3Identity(t *testing.T) {
	a := Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	x, ok := Solve3x3(a, Vec3{1, 2, 3})
	require.True(t, ok)
	require.InDelta(t, 1.0, x[0], 1e-9)
	require.InDelta(t, 2.0, x[1], 1e-9)
	require.InDelta(t, 3.0, x[2], 1e-9)
}

func TestSolve3x3Singular(t *testing.T) {
	a := Mat3{{1, 2, 3}, {2, 4, 6}, {0, 1, 0}}
	_, ok := Solve3x3(a, Vec3{1, 2, 3})
	require.False(t, ok)
}

func TestLinearFitExactLine(t *testing.T) {
	pts := []Point{{0, 1}, {1, 3}, {2, 5}, {3, 7}}
	fit := LinearFit(pts)
	require.True(t, fit.Valid)
	require.InDelta(t, 2.0, fit.B, 1e-9)
	require.InDelta(t, 1.0, fit.C, 1e-9)
	require.Equal(t, 0.0, fit.A)
}

func TestQuadraticFitExactParabola(t *testing.T) {
	pts := make([]Point, 0, 10)
	for i := 0; i < 10; i++ {
		x := float64(i)
		pts = append(pts, Point{X: x, Y: 2*x*x + 3*x + 1})
	}
	fit := QuadraticFit(pts)
	require.True(t, fit.Valid)
	require.InDelta(t, 2.0, fit.A, 1e-6)
	require.InDelta(t, 3.0, fit.B, 1e-6)
	require.InDelta(t, 1.0, fit.C, 1e-6)
}

func TestQuadraticFitFallsBackWhenDegenerate(t *testing.T) {
	pts := []Point{{5, 1}, {5, 2}, {5, 3}}
	fit := QuadraticFit(pts)
	require.Equal(t, 0.0, fit.A)
}

func TestEvaluate(t *testing.T) {
	fit := Fit{A: 1, B: 2, C: 3, Valid: true}
	require.Equal(t, 6.0, fit.Evaluate(1))
}
