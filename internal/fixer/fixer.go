// Package fixer implements the discontinuity fixer: a sliding window of
// (x, y) samples, dual-edge polynomial regression used to detect step-jump
// baseline shifts, and an interior rewrite that restores continuity while
// emitting a stable, fixed-latency output.
package fixer

import (
	"math"

	"github.com/amalcolm/TeensyMonitor/internal/numeric"
)

// Tuning constants, reproduced verbatim from the device firmware's
// discontinuity fixer; their selection is undocumented upstream.
const (
	Buffer         = 4096
	Window         = 10
	Edge           = 4
	ScoreThreshold = 10.0
	SlopeWeight    = 0.05
	CurveWeight    = 0.01

	rawJumpGuard = 40.0
)

// SamplePoint is one windowed observation. The observable value is
// YRaw + OffsetY; OffsetY is the running baseline correction in effect when
// the point was appended, and may be adjusted later by Fix.
type SamplePoint struct {
	X       float64
	YRaw    float64
	OffsetY float64
}

// Y returns the corrected observable value.
func (p SamplePoint) Y() float64 { return p.YRaw + p.OffsetY }

// DiscontinuityReport is the dual-edge regression analysis of one window.
type DiscontinuityReport struct {
	LeftFit        numeric.Fit
	RightFit       numeric.Fit
	DeltaY         float64
	DeltaSlope     float64
	DeltaCurvature float64
	Score          float64
	Valid          bool
}

// Fixer holds the append-only sample window and the running baseline
// correction it has accumulated.
type Fixer struct {
	points        []SamplePoint
	currentOffset float64
}

// New returns an empty Fixer.
func New() *Fixer {
	return &Fixer{}
}

// Fix appends (x, y) to the window and, once at least Window points have
// accumulated, analyses the last Window points for a baseline
// discontinuity. From then on the reported output point lags the latest
// input by exactly Edge samples; before that, Fix returns the point it just
// appended.
func (f *Fixer) Fix(x, y float64) (output SamplePoint, changed bool) {
	f.points = append(f.points, SamplePoint{X: x, YRaw: y, OffsetY: f.currentOffset})
	if len(f.points) > Buffer {
		f.points = append([]SamplePoint{}, f.points[len(f.points)-Window:]...)
	}

	n := len(f.points)
	if n < Window {
		return f.points[n-1], false
	}

	report := f.analyze()

	if !report.Valid || report.Score <= ScoreThreshold {
		return f.points[n-1-Edge], false
	}

	f.applyCorrection(report)
	return f.points[n-1-Edge], true
}

func (f *Fixer) analyze() DiscontinuityReport {
	n := len(f.points)
	window := f.points[n-Window:]
	leftEdge := window[:Edge]
	rightEdge := window[len(window)-Edge:]

	leftFit := numeric.QuadraticFit(toXY(leftEdge))
	rightFit := numeric.QuadraticFit(toXY(rightEdge))
	if !leftFit.Valid || !rightFit.Valid {
		return DiscontinuityReport{Valid: false}
	}

	xMid := (leftEdge[len(leftEdge)-1].X + rightEdge[0].X) / 2
	yL := leftFit.Evaluate(xMid)
	yR := rightFit.Evaluate(xMid)
	deltaY := yR - yL
	deltaSlope := leftFit.B - rightFit.B
	deltaCurvature := leftFit.A - rightFit.A

	score := math.Abs(deltaY) - SlopeWeight*math.Abs(deltaSlope) - CurveWeight*math.Abs(deltaCurvature)

	rawJump := f.points[n-1].YRaw - f.points[n-2].YRaw
	edgeJump := rightEdge[0].Y() - leftEdge[len(leftEdge)-1].Y()
	if math.Abs(rawJump) > rawJumpGuard || edgeJump > rawJumpGuard {
		score = 0
	}

	return DiscontinuityReport{
		LeftFit:        leftFit,
		RightFit:       rightFit,
		DeltaY:         deltaY,
		DeltaSlope:     deltaSlope,
		DeltaCurvature: deltaCurvature,
		Score:          score,
		Valid:          true,
	}
}

// applyCorrection rewrites the window's interior to restore continuity
// around a detected jump, and updates the running baseline so future
// points inherit it.
func (f *Fixer) applyCorrection(report DiscontinuityReport) {
	n := len(f.points)
	rightStart := n - Edge

	for i := rightStart; i < n; i++ {
		f.points[i].OffsetY -= report.DeltaY
	}

	rightFitAdjusted := numeric.QuadraticFit(toXY(f.points[rightStart:n]))

	interiorStart := n - Window + Edge
	for i := interiorStart; i < rightStart; i++ {
		target := (report.LeftFit.Evaluate(f.points[i].X) + rightFitAdjusted.Evaluate(f.points[i].X)) / 2
		f.points[i].OffsetY = target - f.points[i].YRaw
	}

	f.currentOffset -= report.DeltaY
}

func toXY(points []SamplePoint) []numeric.Point {
	out := make([]numeric.Point, len(points))
	for i, p := range points {
		out[i] = numeric.Point{X: p.X, Y: p.Y()}
	}
	return out
}
