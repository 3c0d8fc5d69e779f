package align

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/articulate/internal/landmarks"
)

const (
	// maxPairSamples caps the number of 2-point hypotheses scored per fit.
	// Below it every pair is tried.
	maxPairSamples = 500

	// sampleSeed keeps sampling reproducible between runs.
	sampleSeed = 20240611

	// degenerateSpan is the smallest squared distance two sample points may
	// be apart to define a hypothesis.
	degenerateSpan = 1e-12
)

// Estimate fits a rotation, uniform scale and translation mapping ref onto
// user, tolerant of a minority of misplaced points. Non-finite pairs are
// dropped. The identity is returned when fewer than
// landmarks.MinRegionPoints pairs remain, the inputs differ in length, the
// points are degenerate or the fit is not finite.
func Estimate(ref, user []landmarks.Point) Matrix2x3 {
	m, _ := estimate(ref, user)
	return m
}

// estimate is Estimate plus whether a real fit was produced.
func estimate(ref, user []landmarks.Point) (Matrix2x3, bool) {
	if len(ref) != len(user) {
		return Identity(), false
	}
	src := make([]landmarks.Point, 0, len(ref))
	dst := make([]landmarks.Point, 0, len(user))
	for i := range ref {
		if ref[i].IsFinite() && user[i].IsFinite() {
			src = append(src, ref[i])
			dst = append(dst, user[i])
		}
	}
	n := len(src)
	if n < landmarks.MinRegionPoints {
		return Identity(), false
	}

	best, bestMed, ok := leastMedianFit(src, dst)
	if !ok {
		return Identity(), false
	}

	// Robust scale estimate with the small-sample correction for a
	// two-point model.
	sigma := 1.4826 * (1 + 5/float64(n-2)) * math.Sqrt(bestMed)
	threshold := math.Max((2.5*sigma)*(2.5*sigma), degenerateSpan)

	inSrc := make([]landmarks.Point, 0, n)
	inDst := make([]landmarks.Point, 0, n)
	for i := range src {
		if residual2(best, src[i], dst[i]) <= threshold {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}

	if len(inSrc) >= 2 {
		if refined, ok := refine(inSrc, inDst); ok {
			best = refined
		}
	}
	if !best.IsFinite() {
		return Identity(), false
	}
	return best, true
}

// leastMedianFit scores 2-point similarity hypotheses by their median
// squared residual and returns the best one.
func leastMedianFit(src, dst []landmarks.Point) (Matrix2x3, float64, bool) {
	n := len(src)
	best := Identity()
	bestMed := math.Inf(1)
	found := false
	residuals := make([]float64, n)

	try := func(i, j int) {
		m, ok := pairSimilarity(src[i], src[j], dst[i], dst[j])
		if !ok {
			return
		}
		for k := range src {
			residuals[k] = residual2(m, src[k], dst[k])
		}
		med := median(residuals)
		if med < bestMed {
			best, bestMed, found = m, med, true
		}
	}

	if pairs := n * (n - 1) / 2; pairs <= maxPairSamples {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				try(i, j)
			}
		}
	} else {
		rng := rand.New(rand.NewSource(sampleSeed))
		for s := 0; s < maxPairSamples; s++ {
			i := rng.Intn(n)
			j := rng.Intn(n - 1)
			if j >= i {
				j++
			}
			try(i, j)
		}
	}
	return best, bestMed, found
}

// pairSimilarity solves the similarity mapping p1->q1 and p2->q2 exactly.
// Treating points as complex numbers, z' = s*z + t with s = dq/dp.
func pairSimilarity(p1, p2, q1, q2 landmarks.Point) (Matrix2x3, bool) {
	dpx, dpy := p2.X-p1.X, p2.Y-p1.Y
	dqx, dqy := q2.X-q1.X, q2.Y-q1.Y
	den := dpx*dpx + dpy*dpy
	if den < degenerateSpan {
		return Matrix2x3{}, false
	}
	a := (dqx*dpx + dqy*dpy) / den
	b := (dqy*dpx - dqx*dpy) / den
	tx := q1.X - (a*p1.X - b*p1.Y)
	ty := q1.Y - (b*p1.X + a*p1.Y)
	return similarity(a, b, tx, ty), true
}

// refine solves the least-squares similarity over the given pairs.
// Each pair contributes the rows [x, -y, 1, 0] -> u and [y, x, 0, 1] -> v.
func refine(src, dst []landmarks.Point) (Matrix2x3, bool) {
	n := len(src)
	A := mat.NewDense(2*n, 4, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range src {
		A.SetRow(2*i, []float64{src[i].X, -src[i].Y, 1, 0})
		A.SetRow(2*i+1, []float64{src[i].Y, src[i].X, 0, 1})
		b.SetVec(2*i, dst[i].X)
		b.SetVec(2*i+1, dst[i].Y)
	}

	var x mat.VecDense
	if err := x.SolveVec(A, b); err != nil {
		return Matrix2x3{}, false
	}
	m := similarity(x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3))
	return m, m.IsFinite()
}

func residual2(m Matrix2x3, p, q landmarks.Point) float64 {
	r := m.Apply(p)
	dx, dy := r.X-q.X, r.Y-q.Y
	return dx*dx + dy*dy
}

// median sorts a copy of v.
func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
