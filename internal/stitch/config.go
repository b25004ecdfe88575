package stitch

import (
	"fmt"
	"math"

	"github.com/ironsheep/panorama-tools-mcp/internal/compose"
	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
)

// Config holds every tunable of one stitch request. It is passed by value
// and never modified by the pipeline.
type Config struct {
	// Family selects the feature extractor.
	Family features.Family `json:"family"`

	// ReprojThreshold is the RANSAC inlier threshold in pixels.
	ReprojThreshold float64 `json:"reproj_threshold"`

	// MaxIterations caps RANSAC hypotheses per image pair.
	MaxIterations int `json:"max_iterations"`

	// MinInliers is the inlier count needed to accept a pairwise transform.
	MinInliers int `json:"min_inliers"`

	// FeatherWidth is the blend ramp in pixels. Zero blends with equal
	// weights.
	FeatherWidth float64 `json:"feather_width"`

	// MaxFeatures caps keypoints per image. Zero is unlimited.
	MaxFeatures int `json:"max_features"`

	// MinResponse is the keypoint response floor. Zero selects the
	// family's default.
	MinResponse float64 `json:"min_response"`

	// MinKeypoints fails the request with InsufficientFeatures when an
	// image yields fewer keypoints. Zero lets such images simply produce
	// no matches.
	MinKeypoints int `json:"min_keypoints"`

	// Confidence is the RANSAC early-termination confidence.
	Confidence float64 `json:"confidence"`

	// Seed seeds RANSAC sampling.
	Seed int64 `json:"seed"`

	// AllPairsLimit is the largest image count for which every pair is
	// matched. Larger sets only match neighbours.
	AllPairsLimit int `json:"all_pairs_limit"`

	// NeighborWindow is how many following images each image is matched
	// against when neighbour-only matching is in effect.
	NeighborWindow int `json:"neighbor_window"`

	// Workers bounds concurrent extraction and pair alignment. Zero uses
	// GOMAXPROCS.
	Workers int `json:"workers"`

	// MaxCanvasPixels bounds the output size. Zero disables the check.
	MaxCanvasPixels int `json:"max_canvas_pixels"`
}

// Default request settings.
const (
	DefaultAllPairsLimit  = 8
	DefaultNeighborWindow = 2
)

// DefaultConfig returns the settings used for ordinary handheld
// photographs.
func DefaultConfig() Config {
	r := geometry.DefaultRANSACOptions()
	c := compose.DefaultOptions()
	return Config{
		Family:          features.FamilyGradient,
		ReprojThreshold: r.Threshold,
		MaxIterations:   r.MaxIterations,
		MinInliers:      r.MinInliers,
		FeatherWidth:    c.FeatherWidth,
		MaxFeatures:     features.DefaultMaxFeatures,
		Confidence:      r.Confidence,
		Seed:            r.Seed,
		AllPairsLimit:   DefaultAllPairsLimit,
		NeighborWindow:  DefaultNeighborWindow,
		MaxCanvasPixels: c.MaxCanvasPixels,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if c.Family != features.FamilyGradient && c.Family != features.FamilyBinary {
		return fmt.Errorf("unsupported feature family %v", c.Family)
	}
	if err := c.ransacOptions().Validate(); err != nil {
		return err
	}
	if c.FeatherWidth < 0 || math.IsNaN(c.FeatherWidth) {
		return fmt.Errorf("feather width must not be negative, got %v", c.FeatherWidth)
	}
	if c.MaxFeatures < 0 {
		return fmt.Errorf("max features must not be negative, got %d", c.MaxFeatures)
	}
	if c.MinResponse < 0 || math.IsNaN(c.MinResponse) {
		return fmt.Errorf("min response must not be negative, got %v", c.MinResponse)
	}
	if c.MinKeypoints < 0 {
		return fmt.Errorf("min keypoints must not be negative, got %d", c.MinKeypoints)
	}
	if c.AllPairsLimit < 0 {
		return fmt.Errorf("all pairs limit must not be negative, got %d", c.AllPairsLimit)
	}
	if c.NeighborWindow < 1 {
		return fmt.Errorf("neighbor window must be at least 1, got %d", c.NeighborWindow)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.MaxCanvasPixels < 0 {
		return fmt.Errorf("max canvas pixels must not be negative, got %d", c.MaxCanvasPixels)
	}
	return nil
}

// FeatureOptions returns the extractor options implied by c.
func (c Config) FeatureOptions() features.Options {
	opts := features.DefaultOptions(c.Family)
	opts.MaxFeatures = c.MaxFeatures
	if c.MinResponse > 0 {
		opts.MinResponse = c.MinResponse
	}
	return opts
}

func (c Config) ransacOptions() geometry.RANSACOptions {
	return geometry.RANSACOptions{
		Threshold:     c.ReprojThreshold,
		MaxIterations: c.MaxIterations,
		Confidence:    c.Confidence,
		MinInliers:    c.MinInliers,
		Seed:          c.Seed,
	}
}

func (c Config) composeOptions() compose.Options {
	return compose.Options{
		FeatherWidth:    c.FeatherWidth,
		MaxCanvasPixels: c.MaxCanvasPixels,
	}
}

// Pair is an unordered image pair, A < B.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// CandidatePairs lists the image pairs matched for an n-image request:
// every pair when n <= AllPairsLimit, otherwise each image with its next
// NeighborWindow images.
func (c Config) CandidatePairs(n int) []Pair {
	var pairs []Pair
	window := n
	if n > c.AllPairsLimit {
		window = c.NeighborWindow
	}
	for a := 0; a < n; a++ {
		for b := a + 1; b < n && b <= a+window; b++ {
			pairs = append(pairs, Pair{A: a, B: b})
		}
	}
	return pairs
}
