// Package align estimates and applies per-region 2-D transforms that map
// reference landmarks onto a user's face.
package align

import (
	"math"

	"github.com/banshee-data/articulate/internal/landmarks"
)

// Matrix2x3 is an affine transform [[a, b, tx], [c, d, ty]] mapping
// reference-space points to user-space points.
type Matrix2x3 [2][3]float64

// Identity returns the identity transform.
func Identity() Matrix2x3 {
	return Matrix2x3{{1, 0, 0}, {0, 1, 0}}
}

// similarity builds [[a, -b, tx], [b, a, ty]].
func similarity(a, b, tx, ty float64) Matrix2x3 {
	return Matrix2x3{{a, -b, tx}, {b, a, ty}}
}

// Apply maps p through the matrix.
func (m Matrix2x3) Apply(p landmarks.Point) landmarks.Point {
	return landmarks.Point{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2],
	}
}

// IsIdentity reports whether m is exactly the identity.
func (m Matrix2x3) IsIdentity() bool {
	return m == Identity()
}

// IsFinite reports whether every coefficient is finite.
func (m Matrix2x3) IsFinite() bool {
	for _, row := range m {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Scale returns the uniform scale factor of a similarity matrix.
func (m Matrix2x3) Scale() float64 {
	return math.Hypot(m[0][0], m[1][0])
}

// RotationDegrees returns the rotation angle of a similarity matrix.
func (m Matrix2x3) RotationDegrees() float64 {
	return math.Atan2(m[1][0], m[0][0]) * 180 / math.Pi
}
