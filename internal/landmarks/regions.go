package landmarks

import "fmt"

// MinRegionPoints is the smallest number of correspondences a 2-D
// similarity estimate can be fitted from.
const MinRegionPoints = 3

// Face-mesh indices outlining the jaw line, ear to ear.
var JawIndices = []int{
	389, 356, 454, 323, 361, 288, 397, 365, 379, 378, 400, 377, 152,
	148, 176, 149, 150, 136, 172, 58, 132, 93, 234, 127, 162,
}

// Face-mesh indices for the outer and inner lip contours. Some indices
// repeat where the contours close.
var MouthIndices = []int{
	61, 146, 91, 181, 84, 17, 314, 405, 321, 375, 291, 308, 324, 318, 402,
	317, 14, 87, 178, 88, 95, 78, 61, 185, 40, 39, 37, 0, 267, 269, 270,
	409, 291, 308, 415, 310, 311, 312, 13, 82, 81, 80, 78, 191,
}

// Region is a named subset of landmark indices aligned independently.
type Region struct {
	Name    string `json:"name"`
	Indices []int  `json:"indices"`
}

// Regions groups the two animated regions.
type Regions struct {
	Jaw   Region `json:"jaw"`
	Mouth Region `json:"mouth"`
}

// DefaultRegions returns the jaw and mouth regions for the 468/478-point
// face mesh. The slices are copies, so callers may modify them.
func DefaultRegions() Regions {
	return Regions{
		Jaw:   Region{Name: "jaw", Indices: append([]int(nil), JawIndices...)},
		Mouth: Region{Name: "mouth", Indices: append([]int(nil), MouthIndices...)},
	}
}

// MaxIndex returns the largest index in the region, or -1 when empty.
func (r Region) MaxIndex() int {
	max := -1
	for _, idx := range r.Indices {
		if idx > max {
			max = idx
		}
	}
	return max
}

// Validate checks the region can support an estimate and has no negative indices.
func (r Region) Validate() error {
	if len(r.Indices) < MinRegionPoints {
		return fmt.Errorf("region %q needs at least %d indices, got %d", r.Name, MinRegionPoints, len(r.Indices))
	}
	for _, idx := range r.Indices {
		if idx < 0 {
			return fmt.Errorf("region %q has negative index %d", r.Name, idx)
		}
	}
	return nil
}

// Validate checks both regions.
func (r Regions) Validate() error {
	if err := r.Jaw.Validate(); err != nil {
		return err
	}
	return r.Mouth.Validate()
}

// MaxIndex returns the largest index referenced by either region.
func (r Regions) MaxIndex() int {
	j, m := r.Jaw.MaxIndex(), r.Mouth.MaxIndex()
	if j > m {
		return j
	}
	return m
}
