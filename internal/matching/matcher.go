package matching

import (
	"errors"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/parallel"

	"github.com/ironsheep/panorama-tools-mcp/internal/features"
)

// ErrFamilyMismatch is returned when two sets come from different extractor
// families and so have incomparable descriptors.
var ErrFamilyMismatch = errors.New("descriptor families differ")

// Match is a correspondence between query keypoint QueryIdx and train
// keypoint TrainIdx.
type Match struct {
	QueryIdx int     `json:"query_idx"`
	TrainIdx int     `json:"train_idx"`
	Distance float64 `json:"distance"`
}

// Options controls the matching policy.
type Options struct {
	// CrossCheck keeps only mutual nearest neighbours.
	CrossCheck bool `json:"cross_check"`

	// MaxDistance drops matches farther apart than this. Zero disables it.
	MaxDistance float64 `json:"max_distance"`
}

// DefaultOptions returns cross-checked matching with no distance cap.
func DefaultOptions() Options {
	return Options{CrossCheck: true}
}

// MatchSets matches two feature sets produced by the same extractor family.
func MatchSets(metric features.Metric, query, train *features.Set, opts Options) ([]Match, error) {
	if query.Len() > 0 && train.Len() > 0 && query.Family != train.Family {
		return nil, ErrFamilyMismatch
	}
	var q, t []features.Descriptor
	if query != nil {
		q = query.Descriptors
	}
	if train != nil {
		t = train.Descriptors
	}
	return Descriptors(metric, q, t, opts), nil
}

// Descriptors matches two descriptor sequences.
//
// Parameters:
//   - metric: Distance function of the family that produced the descriptors.
//   - query, train: Descriptor sequences; either may be empty.
//   - opts: Matching policy.
//
// Returns:
//   - []Match: Accepted matches sorted by ascending distance. Empty (never
//     nil) when either input is empty.
func Descriptors(metric features.Metric, query, train []features.Descriptor, opts Options) []Match {
	matches := []Match{}
	if len(query) == 0 || len(train) == 0 {
		return matches
	}

	n, m := len(query), len(train)
	dist := make([]float64, n*m)
	parallel.Line(n, func(start, end int) {
		for i := start; i < end; i++ {
			row := dist[i*m : (i+1)*m]
			for j := range train {
				row[j] = metric.Distance(query[i], train[j])
			}
		}
	})

	// Nearest train index per query row; strict < keeps the lowest index.
	bestTrain := make([]int, n)
	for i := 0; i < n; i++ {
		best := -1
		bestD := math.Inf(1)
		for j := 0; j < m; j++ {
			if d := dist[i*m+j]; d < bestD {
				best, bestD = j, d
			}
		}
		bestTrain[i] = best
	}

	var bestQuery []int
	if opts.CrossCheck {
		bestQuery = make([]int, m)
		for j := 0; j < m; j++ {
			best := -1
			bestD := math.Inf(1)
			for i := 0; i < n; i++ {
				if d := dist[i*m+j]; d < bestD {
					best, bestD = i, d
				}
			}
			bestQuery[j] = best
		}
	}

	for i, j := range bestTrain {
		if j < 0 {
			continue
		}
		if opts.CrossCheck && bestQuery[j] != i {
			continue
		}
		d := dist[i*m+j]
		if opts.MaxDistance > 0 && d > opts.MaxDistance {
			continue
		}
		matches = append(matches, Match{QueryIdx: i, TrainIdx: j, Distance: d})
	}

	SortByDistance(matches)
	return matches
}

// SortByDistance orders matches best first, breaking ties by query then
// train index.
func SortByDistance(matches []Match) {
	sort.Slice(matches, func(a, b int) bool {
		ma, mb := matches[a], matches[b]
		if ma.Distance != mb.Distance {
			return ma.Distance < mb.Distance
		}
		if ma.QueryIdx != mb.QueryIdx {
			return ma.QueryIdx < mb.QueryIdx
		}
		return ma.TrainIdx < mb.TrainIdx
	})
}

// Swap returns the matches with query and train roles exchanged.
func Swap(matches []Match) []Match {
	out := make([]Match, len(matches))
	for i, m := range matches {
		out[i] = Match{QueryIdx: m.TrainIdx, TrainIdx: m.QueryIdx, Distance: m.Distance}
	}
	return out
}

// Top returns at most k of the best matches. The input must already be
// sorted.
func Top(matches []Match, k int) []Match {
	if k < 0 {
		k = 0
	}
	if len(matches) > k {
		return matches[:k]
	}
	return matches
}
