package align

import (
	"github.com/banshee-data/articulate/internal/landmarks"
)

// Transform is the per-region transform pair for one session.
type Transform struct {
	Jaw         Matrix2x3
	Mouth       Matrix2x3
	JawFitted   bool
	MouthFitted bool
}

// IdentityTransform returns the unfitted fallback pair.
func IdentityTransform() Transform {
	return Transform{Jaw: Identity(), Mouth: Identity()}
}

// Fitted reports whether both regions came from a real estimate.
func (t Transform) Fitted() bool {
	return t.JawFitted && t.MouthFitted
}

// RegionAligner computes a session transform from a reference frame and a
// user capture, and applies it to reference frames.
type RegionAligner interface {
	ComputeSessionTransform(ref, user landmarks.LandmarkSet) Transform
	Apply(ref landmarks.LandmarkSet, t Transform) landmarks.LandmarkSet
}

// Aligner estimates and applies jaw and mouth transforms independently.
type Aligner struct {
	Regions landmarks.Regions
}

// NewAligner returns an Aligner over the given regions.
func NewAligner(regions landmarks.Regions) *Aligner {
	return &Aligner{Regions: regions}
}

// ComputeSessionTransform estimates each region from the paired points of
// ref and user. Indices outside either set are skipped. If either region is
// left with fewer than landmarks.MinRegionPoints pairs, both regions fall
// back to identity.
func (a *Aligner) ComputeSessionTransform(ref, user landmarks.LandmarkSet) Transform {
	jawRef, jawUser := regionPairs(a.Regions.Jaw, ref, user)
	mouthRef, mouthUser := regionPairs(a.Regions.Mouth, ref, user)
	if len(jawRef) < landmarks.MinRegionPoints || len(mouthRef) < landmarks.MinRegionPoints {
		return IdentityTransform()
	}

	var t Transform
	t.Jaw, t.JawFitted = estimate(jawRef, jawUser)
	t.Mouth, t.MouthFitted = estimate(mouthRef, mouthUser)
	return t
}

// Apply returns a copy of ref with jaw points mapped through t.Jaw and
// mouth points through t.Mouth. The mouth pass runs second, so it wins for
// indices in both regions. ref is not modified.
func (a *Aligner) Apply(ref landmarks.LandmarkSet, t Transform) landmarks.LandmarkSet {
	out := ref.Clone()
	for _, idx := range a.Regions.Jaw.Indices {
		if idx >= 0 && idx < len(ref) {
			out[idx] = t.Jaw.Apply(ref[idx])
		}
	}
	for _, idx := range a.Regions.Mouth.Indices {
		if idx >= 0 && idx < len(ref) {
			out[idx] = t.Mouth.Apply(ref[idx])
		}
	}
	return out
}

func regionPairs(r landmarks.Region, ref, user landmarks.LandmarkSet) (src, dst []landmarks.Point) {
	src = make([]landmarks.Point, 0, len(r.Indices))
	dst = make([]landmarks.Point, 0, len(r.Indices))
	for _, idx := range r.Indices {
		if idx < 0 || idx >= len(ref) || idx >= len(user) {
			continue
		}
		src = append(src, ref[idx])
		dst = append(dst, user[idx])
	}
	return src, dst
}
