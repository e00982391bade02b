// Package numeric provides the small linear-algebra and least-squares
// kernels the discontinuity fixer builds on: a 3x3 linear solver and
// linear/quadratic regression fitters.
package numeric

import "math"

const singularDet = 1e-10

// Mat3 is a 3x3 matrix in row-major order.
type Mat3 [3][3]float64

// Vec3 is a 3-vector.
type Vec3 [3]float64

// Solve3x3 solves A·x = b via Cramer's rule. ok is false when the system is
// singular (|det(A)| < 1e-10).
func Solve3x3(a Mat3, b Vec3) (x Vec3, ok bool) {
	det := det3(a)
	if math.Abs(det) < singularDet {
		return Vec3{}, false
	}
	for col := 0; col < 3; col++ {
		m := a
		for row := 0; row < 3; row++ {
			m[row][col] = b[row]
		}
		x[col] = det3(m) / det
	}
	return x, true
}

func det3(m Mat3) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Point is one (x, y) observation fed to a fitter.
type Point struct {
	X, Y float64
}

// Fit is a quadratic y ≈ a·x² + b·x + c. Linear fits set a = 0.
type Fit struct {
	A, B, C   float64
	Valid     bool
	R2        float64
	RMSE      float64
	SlopeMean float64
	Curvature float64
}

// Evaluate returns a·x² + b·x + c regardless of whether the fit came from
// LinearFit or QuadraticFit.
func (f Fit) Evaluate(x float64) float64 {
	return f.A*x*x + f.B*x + f.C
}

// Slope returns the fit's first derivative at x.
func (f Fit) Slope(x float64) float64 {
	return 2*f.A*x + f.B
}

// LinearFit computes the closed-form OLS line through points. The fit is
// singular (Valid == false) when n·Σx² − (Σx)² < 1e-12.
func LinearFit(points []Point) Fit {
	n := float64(len(points))
	if n == 0 {
		return Fit{}
	}
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
		sumXY += p.X * p.Y
		sumX2 += p.X * p.X
	}
	denom := n*sumX2 - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return Fit{}
	}
	b := (n*sumXY - sumX*sumY) / denom
	c := (sumY - b*sumX) / n

	fit := Fit{A: 0, B: b, C: c, Valid: true}
	populateGoodness(&fit, points)
	return fit
}

// QuadraticFit centres and scales x to [-1, 1] before assembling the normal
// equations, denormalises the resulting coefficients, and falls back to
// LinearFit when the scale is degenerate or the 3x3 system is singular.
func QuadraticFit(points []Point) Fit {
	n := float64(len(points))
	if n == 0 {
		return Fit{}
	}

	xMin, xMax := points[0].X, points[0].X
	for _, p := range points {
		if p.X < xMin {
			xMin = p.X
		}
		if p.X > xMax {
			xMax = p.X
		}
	}
	span := xMax - xMin
	if span < 1e-12 {
		return LinearFit(points)
	}
	mid := (xMin + xMax) / 2
	scale := span / 2

	norm := make([]Point, len(points))
	for i, p := range points {
		norm[i] = Point{X: (p.X - mid) / scale, Y: p.Y}
	}

	var sumX, sumX2, sumX3, sumX4, sumY, sumXY, sumX2Y float64
	for _, p := range norm {
		x2 := p.X * p.X
		sumX += p.X
		sumX2 += x2
		sumX3 += x2 * p.X
		sumX4 += x2 * x2
		sumY += p.Y
		sumXY += p.X * p.Y
		sumX2Y += x2 * p.Y
	}

	a := Mat3{
		{sumX4, sumX3, sumX2},
		{sumX3, sumX2, sumX},
		{sumX2, sumX, n},
	}
	b := Vec3{sumX2Y, sumXY, sumY}

	sol, ok := Solve3x3(a, b)
	if !ok {
		return LinearFit(points)
	}

	// Denormalise: y = A'*u^2 + B'*u + C', u = (x-mid)/scale.
	aN, bN, cN := sol[0], sol[1], sol[2]
	a2 := aN / (scale * scale)
	b2 := bN/scale - 2*aN*mid/(scale*scale)
	c2 := cN - bN*mid/scale + aN*mid*mid/(scale*scale)

	fit := Fit{A: a2, B: b2, C: c2, Valid: true}
	populateGoodness(&fit, points)
	return fit
}

func populateGoodness(fit *Fit, points []Point) {
	n := float64(len(points))
	if n == 0 {
		return
	}
	var sumY float64
	for _, p := range points {
		sumY += p.Y
	}
	mean := sumY / n

	var ssRes, ssTot float64
	for _, p := range points {
		pred := fit.Evaluate(p.X)
		ssRes += (p.Y - pred) * (p.Y - pred)
		ssTot += (p.Y - mean) * (p.Y - mean)
	}
	fit.RMSE = math.Sqrt(ssRes / n)
	if ssTot > 1e-12 {
		fit.R2 = 1 - ssRes/ssTot
	} else {
		fit.R2 = 1
	}

	first, last := points[0], points[len(points)-1]
	fit.SlopeMean = (fit.Slope(first.X) + fit.Slope(last.X)) / 2
	fit.Curvature = math.Abs(fit.A) * (last.X - first.X) * (last.X - first.X)
}
