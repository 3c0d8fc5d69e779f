// Package landmarks defines the face-mesh landmark data model shared by the
// alignment engine: points, landmark sets, anatomical regions and the
// prerecorded reference animation.
package landmarks

import (
	"context"
	"errors"
	"math"
)

// Point is a 2-D landmark position in pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// LandmarkSet is an ordered, fixed-length set of points for one frame.
// Index i identifies the same anatomical point in every set produced by the
// same detector configuration.
type LandmarkSet []Point

// Clone returns an independent copy of the set.
func (s LandmarkSet) Clone() LandmarkSet {
	if s == nil {
		return nil
	}
	out := make(LandmarkSet, len(s))
	copy(out, s)
	return out
}

// Equal reports whether two sets have the same cardinality and identical points.
func (s LandmarkSet) Equal(other LandmarkSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Bounds is the axis-aligned extent of a landmark set.
type Bounds struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
}

// Bounds returns the extent of the set. An empty set yields the zero Bounds.
func (s LandmarkSet) Bounds() Bounds {
	if len(s) == 0 {
		return Bounds{}
	}
	b := Bounds{MinX: s[0].X, MaxX: s[0].X, MinY: s[0].Y, MaxY: s[0].Y}
	for _, p := range s[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// Errors returned by animation construction and loading.
var (
	ErrEmptyAnimation   = errors.New("reference animation has no frames")
	ErrIndexOutOfRange  = errors.New("region index out of range")
	ErrCardinalityDrift = errors.New("frame cardinality differs from first frame")
)

// Detector finds face-mesh landmarks in a raster image. ok is false when no
// face was found; err is reserved for detector failures. Implementations must
// return the same cardinality and ordering on every call.
type Detector interface {
	Detect(ctx context.Context, image []byte) (set LandmarkSet, ok bool, err error)
}

// Loader produces a ReferenceAnimation from a persisted per-frame landmark table.
type Loader interface {
	Load(ctx context.Context, source string) (*ReferenceAnimation, error)
}
