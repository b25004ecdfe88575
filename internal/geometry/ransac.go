package geometry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrInsufficientMatches means fewer than four correspondences were
	// supplied.
	ErrInsufficientMatches = errors.New("insufficient matches for homography estimation")

	// ErrInsufficientInliers means no hypothesis gathered MinInliers inliers.
	ErrInsufficientInliers = errors.New("homography estimation failed: insufficient inliers")

	// ErrDegenerate means the estimated transform is singular or otherwise
	// cannot relate two views of one scene.
	ErrDegenerate = errors.New("degenerate homography")
)

// RANSACOptions controls robust estimation.
type RANSACOptions struct {
	// Threshold is the reprojection error in pixels below which a
	// correspondence counts as an inlier.
	Threshold float64 `json:"threshold"`

	// MaxIterations caps the number of hypotheses scored.
	MaxIterations int `json:"max_iterations"`

	// Confidence is the target probability that no better hypothesis
	// exists, used to stop early. Must be in (0, 1).
	Confidence float64 `json:"confidence"`

	// MinInliers is the smallest inlier count accepted as a real overlap.
	MinInliers int `json:"min_inliers"`

	// Seed seeds the sampler.
	Seed int64 `json:"seed"`
}

// DefaultRANSACOptions returns the thresholds used for photographs.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{
		Threshold:     3.0,
		MaxIterations: 2000,
		Confidence:    0.995,
		MinInliers:    10,
		Seed:          1,
	}
}

// Validate checks that the options are usable.
func (o RANSACOptions) Validate() error {
	if o.Threshold <= 0 || math.IsNaN(o.Threshold) {
		return fmt.Errorf("reprojection threshold must be positive, got %v", o.Threshold)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", o.MaxIterations)
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		return fmt.Errorf("confidence must be in (0,1), got %v", o.Confidence)
	}
	if o.MinInliers < 4 {
		return fmt.Errorf("min inliers must be at least 4, got %d", o.MinInliers)
	}
	return nil
}

// Estimation is the outcome of a successful Estimate.
type Estimation struct {
	// H maps source points onto destination points.
	H Homography

	// Inliers flags each correspondence consistent with H.
	Inliers []bool

	// InlierCount is the number of true entries in Inliers.
	InlierCount int

	// Iterations is the number of hypotheses scored.
	Iterations int

	// RMSE is the root mean square reprojection error over the inliers.
	RMSE float64
}

// Estimate robustly fits a homography mapping src[i] to dst[i].
//
// Parameters:
//   - src: Points in image B.
//   - dst: Corresponding points in image A; same length as src.
//   - opts: Estimation thresholds; see RANSACOptions.
//
// Returns:
//   - *Estimation: The refined homography and its inlier mask.
//   - error: Wraps ErrInsufficientMatches, ErrInsufficientInliers or
//     ErrDegenerate, or reports invalid options.
func Estimate(src, dst []Point, opts RANSACOptions) (*Estimation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(src) != len(dst) {
		return nil, fmt.Errorf("point sets differ in length: %d vs %d", len(src), len(dst))
	}
	n := len(src)
	if n < 4 {
		return nil, fmt.Errorf("%w: have %d, need at least 4", ErrInsufficientMatches, n)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	thr2 := opts.Threshold * opts.Threshold

	best := Homography{}
	bestCount := 0
	bestErr := math.Inf(1)
	found := false

	limit := opts.MaxIterations
	iterations := 0
	// Bounded so that inputs where almost every sample is degenerate
	// still terminate.
	for attempts := 0; iterations < limit && attempts < 10*opts.MaxIterations; attempts++ {
		idx := sampleFour(rng, n)
		var s, d [4]Point
		for k, i := range idx {
			s[k] = src[i]
			d[k] = dst[i]
		}
		if degenerateSample(s) || degenerateSample(d) {
			continue
		}
		h, ok := solveFour(s, d)
		if !ok || h.IsDegenerate() {
			continue
		}
		iterations++

		count, errSum := score(h, src, dst, thr2, nil)
		if count > bestCount || (count == bestCount && count > 0 && errSum < bestErr) {
			improved := count > bestCount
			best, bestCount, bestErr, found = h, count, errSum, true
			if improved {
				if need := adaptiveIterations(float64(count)/float64(n), opts.Confidence); need < limit {
					limit = need
				}
			}
		}
	}

	if !found || bestCount < opts.MinInliers {
		return nil, fmt.Errorf("%w: best hypothesis has %d inliers, need %d", ErrInsufficientInliers, bestCount, opts.MinInliers)
	}

	mask := make([]bool, n)
	score(best, src, dst, thr2, mask)
	best, bestCount, mask = refine(best, bestCount, mask, src, dst, thr2)

	if best.IsDegenerate() {
		return nil, fmt.Errorf("%w: %v", ErrDegenerate, best)
	}
	for i, in := range mask {
		if in && best.W(src[i].X, src[i].Y) <= ProjectiveEpsilon {
			return nil, fmt.Errorf("%w: inlier %d maps behind the image plane", ErrDegenerate, i)
		}
	}
	if bestCount < opts.MinInliers {
		return nil, fmt.Errorf("%w: refined homography has %d inliers, need %d", ErrInsufficientInliers, bestCount, opts.MinInliers)
	}

	var sq float64
	for i, in := range mask {
		if in {
			sq += reprojectionError2(best, src[i], dst[i])
		}
	}

	return &Estimation{
		H:           best,
		Inliers:     mask,
		InlierCount: bestCount,
		Iterations:  iterations,
		RMSE:        math.Sqrt(sq / float64(bestCount)),
	}, nil
}

// refine refits the homography over the current inliers by least squares,
// repeating while the inlier set grows.
func refine(h Homography, count int, mask []bool, src, dst []Point, thr2 float64) (Homography, int, []bool) {
	for round := 0; round < 5; round++ {
		var s, d []Point
		for i, in := range mask {
			if in {
				s = append(s, src[i])
				d = append(d, dst[i])
			}
		}
		fit, ok := FitLeastSquares(s, d)
		if !ok || fit.IsDegenerate() {
			break
		}
		next := make([]bool, len(mask))
		c, _ := score(fit, src, dst, thr2, next)
		if c < count {
			break
		}
		grew := c > count
		h, count, mask = fit, c, next
		if !grew {
			break
		}
	}
	return h, count, mask
}

// score counts correspondences within the threshold and sums their
// squared errors. mask, when non-nil, receives the inlier flags.
func score(h Homography, src, dst []Point, thr2 float64, mask []bool) (int, float64) {
	count := 0
	var sum float64
	for i := range src {
		e := reprojectionError2(h, src[i], dst[i])
		in := e < thr2
		if mask != nil {
			mask[i] = in
		}
		if in {
			count++
			sum += e
		}
	}
	return count, sum
}

func reprojectionError2(h Homography, s, d Point) float64 {
	x, y, ok := h.Apply(s.X, s.Y)
	if !ok {
		return math.Inf(1)
	}
	dx := x - d.X
	dy := y - d.Y
	return dx*dx + dy*dy
}

// adaptiveIterations is the number of 4-point samples needed to draw at
// least one all-inlier sample with the given confidence.
func adaptiveIterations(inlierRatio, confidence float64) int {
	if inlierRatio >= 1 {
		return 1
	}
	p := math.Pow(inlierRatio, 4)
	if p <= 0 {
		return math.MaxInt32
	}
	denom := math.Log(1 - p)
	if denom >= 0 {
		return math.MaxInt32
	}
	n := math.Ceil(math.Log(1-confidence) / denom)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

func sampleFour(rng *rand.Rand, n int) [4]int {
	var idx [4]int
	for k := 0; k < 4; k++ {
	retry:
		for {
			v := rng.Intn(n)
			for j := 0; j < k; j++ {
				if idx[j] == v {
					continue retry
				}
			}
			idx[k] = v
			break
		}
	}
	return idx
}
