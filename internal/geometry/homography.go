package geometry

import (
	"fmt"
	"math"
)

// ProjectiveEpsilon is the smallest |w'| Apply divides by.
const ProjectiveEpsilon = 1e-10

// Point is a 2-D image location.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Homography is a 3x3 projective transform stored row-major.
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Translation returns the transform that shifts points by (tx, ty).
func Translation(tx, ty float64) Homography {
	return Homography{1, 0, tx, 0, 1, ty, 0, 0, 1}
}

// Apply maps (x, y) through h. ok is false when the point maps to (or
// near) infinity.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < ProjectiveEpsilon || math.IsNaN(w) {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// W returns the homogeneous coordinate (x, y) maps to before the divide.
func (h Homography) W(x, y float64) float64 {
	return h[6]*x + h[7]*y + h[8]
}

// Mul returns h·o, the transform that applies o first and then h.
func (h Homography) Mul(o Homography) Homography {
	var r Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = h[i*3]*o[j] + h[i*3+1]*o[3+j] + h[i*3+2]*o[6+j]
		}
	}
	return r
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// Inverse returns the normalized inverse transform. ok is false for a
// singular matrix.
func (h Homography) Inverse() (Homography, bool) {
	det := h.Det()
	if math.Abs(det) < 1e-14 || math.IsNaN(det) {
		return Homography{}, false
	}
	inv := Homography{
		(h[4]*h[8] - h[5]*h[7]) / det,
		(h[2]*h[7] - h[1]*h[8]) / det,
		(h[1]*h[5] - h[2]*h[4]) / det,
		(h[5]*h[6] - h[3]*h[8]) / det,
		(h[0]*h[8] - h[2]*h[6]) / det,
		(h[2]*h[3] - h[0]*h[5]) / det,
		(h[3]*h[7] - h[4]*h[6]) / det,
		(h[1]*h[6] - h[0]*h[7]) / det,
		(h[0]*h[4] - h[1]*h[3]) / det,
	}
	return inv.Normalize()
}

// Normalize scales h so that h[8] == 1. ok is false when h[8] is zero.
func (h Homography) Normalize() (Homography, bool) {
	if math.Abs(h[8]) < 1e-14 || math.IsNaN(h[8]) {
		return h, false
	}
	s := 1 / h[8]
	for i := range h {
		h[i] *= s
	}
	h[8] = 1
	return h, true
}

// IsDegenerate reports whether h cannot describe two views of the same
// scene: a non-finite entry, a (near) singular matrix, or an orientation
// flip.
func (h Homography) IsDegenerate() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	n, ok := h.Normalize()
	if !ok {
		return true
	}
	return n.Det() < 1e-6
}

// String formats the matrix one row per line.
func (h Homography) String() string {
	return fmt.Sprintf("[%.6g %.6g %.6g; %.6g %.6g %.6g; %.6g %.6g %.6g]",
		h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8])
}
