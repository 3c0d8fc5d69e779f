package landmarks

import "fmt"

// ReferenceAnimation is the prerecorded target landmark sequence. It is
// immutable after construction and safe to share between sessions.
type ReferenceAnimation struct {
	name   string
	frames []LandmarkSet
}

// NewReferenceAnimation builds an animation from frames. Every frame must
// have the cardinality of the first; the frames are copied.
func NewReferenceAnimation(name string, frames []LandmarkSet) (*ReferenceAnimation, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyAnimation
	}
	want := len(frames[0])
	if want == 0 {
		return nil, fmt.Errorf("frame 0 has no points: %w", ErrEmptyAnimation)
	}
	copied := make([]LandmarkSet, len(frames))
	for i, f := range frames {
		if len(f) != want {
			return nil, fmt.Errorf("frame %d has %d points, want %d: %w", i, len(f), want, ErrCardinalityDrift)
		}
		copied[i] = f.Clone()
	}
	return &ReferenceAnimation{name: name, frames: copied}, nil
}

// Name identifies the animation (file base name or store key).
func (a *ReferenceAnimation) Name() string { return a.name }

// Len returns the number of frames T.
func (a *ReferenceAnimation) Len() int { return len(a.frames) }

// Cardinality returns the number of points per frame.
func (a *ReferenceAnimation) Cardinality() int { return len(a.frames[0]) }

// Frame returns frame i. The returned set must not be modified.
func (a *ReferenceAnimation) Frame(i int) LandmarkSet { return a.frames[i] }

// Frames returns a copy of all frames, for persistence.
func (a *ReferenceAnimation) Frames() []LandmarkSet {
	out := make([]LandmarkSet, len(a.frames))
	for i, f := range a.frames {
		out[i] = f.Clone()
	}
	return out
}

// Bounds returns the coordinate range of the first frame.
func (a *ReferenceAnimation) Bounds() Bounds { return a.frames[0].Bounds() }

// Validate checks that every region index addresses a point in the frames.
func (a *ReferenceAnimation) Validate(regions Regions) error {
	if err := regions.Validate(); err != nil {
		return err
	}
	if max := regions.MaxIndex(); max >= a.Cardinality() {
		return fmt.Errorf("index %d with %d points per frame: %w", max, a.Cardinality(), ErrIndexOutOfRange)
	}
	return nil
}
