package detector

import (
	"context"

	"github.com/banshee-data/articulate/internal/landmarks"
)

// StaticDetector reports the same landmarks for every image. A nil Set
// reports no face.
type StaticDetector struct {
	Set landmarks.LandmarkSet
}

// Detect implements landmarks.Detector.
func (d StaticDetector) Detect(ctx context.Context, image []byte) (landmarks.LandmarkSet, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if d.Set == nil {
		return nil, false, nil
	}
	return d.Set.Clone(), true, nil
}

// FuncDetector adapts a function to landmarks.Detector.
type FuncDetector func(ctx context.Context, image []byte) (landmarks.LandmarkSet, bool, error)

// Detect calls f.
func (f FuncDetector) Detect(ctx context.Context, image []byte) (landmarks.LandmarkSet, bool, error) {
	return f(ctx, image)
}
