package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// normalization returns the similarity that moves the centroid of pts to
// the origin and scales their mean distance from it to sqrt(2), together
// with its inverse.
func normalization(pts []Point) (Homography, Homography, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	if mean < 1e-12 {
		return Homography{}, Homography{}, false
	}
	s := math.Sqrt2 / mean
	t := Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
	inv := Homography{1 / s, 0, cx, 0, 1 / s, cy, 0, 0, 1}
	return t, inv, true
}

func transformAll(h Homography, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		// Similarities never have w == 0.
		x, y, _ := h.Apply(p.X, p.Y)
		out[i] = Point{X: x, Y: y}
	}
	return out
}

// collinear reports whether a, b and c lie (nearly) on one line, including
// when two of them coincide.
func collinear(a, b, c Point) bool {
	abx, aby := b.X-a.X, b.Y-a.Y
	acx, acy := c.X-a.X, c.Y-a.Y
	cross := abx*acy - aby*acx
	return math.Abs(cross) <= 1e-3*math.Hypot(abx, aby)*math.Hypot(acx, acy)
}

// degenerateSample reports whether any three of the four points are
// collinear.
func degenerateSample(p [4]Point) bool {
	return collinear(p[0], p[1], p[2]) ||
		collinear(p[0], p[1], p[3]) ||
		collinear(p[0], p[2], p[3]) ||
		collinear(p[1], p[2], p[3])
}

// solveFour returns the homography mapping src[i] exactly onto dst[i].
//
// The eight unknowns h0..h7 (h8 = 1) satisfy two linear equations per
// correspondence; the system is solved in normalized coordinates by
// Gauss-Jordan elimination with partial pivoting.
func solveFour(src, dst [4]Point) (Homography, bool) {
	ts, _, ok := normalization(src[:])
	if !ok {
		return Homography{}, false
	}
	td, tdInv, ok := normalization(dst[:])
	if !ok {
		return Homography{}, false
	}
	ns := transformAll(ts, src[:])
	nd := transformAll(td, dst[:])

	var a [8][9]float64 // augmented with the right-hand side
	for i := 0; i < 4; i++ {
		x, y := ns[i].X, ns[i].Y
		u, v := nd[i].X, nd[i].Y
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return Homography{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]

		div := a[col][col]
		for c := col; c < 9; c++ {
			a[col][c] /= div
		}
		for r := 0; r < 8; r++ {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for c := col; c < 9; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	hn := Homography{a[0][8], a[1][8], a[2][8], a[3][8], a[4][8], a[5][8], a[6][8], a[7][8], 1}
	return tdInv.Mul(hn).Mul(ts).Normalize()
}

// FitLeastSquares returns the homography minimizing the algebraic error
// over all correspondences (normalized DLT). At least four
// correspondences are required.
func FitLeastSquares(src, dst []Point) (Homography, bool) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return Homography{}, false
	}
	ts, _, ok := normalization(src)
	if !ok {
		return Homography{}, false
	}
	td, tdInv, ok := normalization(dst)
	if !ok {
		return Homography{}, false
	}
	ns := transformAll(ts, src)
	nd := transformAll(td, dst)

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := ns[i].X, ns[i].Y
		u, v := nd[i].X, nd[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return Homography{}, false
	}
	var vt mat.Dense
	svd.VTo(&vt)

	// Right singular vector of the smallest singular value.
	var hn Homography
	for k := 0; k < 9; k++ {
		hn[k] = vt.At(k, 8)
	}
	return tdInv.Mul(hn).Mul(ts).Normalize()
}
