package features

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/steakknife/hamming"
)

// Family identifies a feature extraction algorithm family.
type Family int

const (
	// FamilyGradient is the scale and rotation invariant detector built on a
	// difference-of-Gaussian scale space with gradient-histogram descriptors.
	FamilyGradient Family = iota

	// FamilyBinary is the FAST corner detector with steered binary
	// intensity-comparison descriptors.
	FamilyBinary
)

// String returns the canonical name of the family.
func (f Family) String() string {
	switch f {
	case FamilyGradient:
		return "gradient"
	case FamilyBinary:
		return "binary"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// ParseFamily maps a user supplied name to a Family. The algorithm names
// "sift" and "orb" are accepted as aliases.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gradient", "sift", "":
		return FamilyGradient, nil
	case "binary", "orb":
		return FamilyBinary, nil
	}
	return 0, fmt.Errorf("unknown feature family %q (want gradient or binary)", name)
}

// Keypoint is a salient image location.
type Keypoint struct {
	// X and Y are sub-pixel coordinates in the input image; pixel centres
	// sit on integer coordinates.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Size is the diameter of the meaningful neighbourhood in pixels.
	Size float64 `json:"size"`

	// Angle is the dominant orientation in degrees, [0, 360), measured
	// clockwise from the +X axis in image coordinates.
	Angle float64 `json:"angle"`

	// Response is the detector strength; larger is more distinctive.
	Response float64 `json:"response"`

	// Octave is the pyramid level the keypoint was detected on.
	Octave int `json:"octave"`
}

// Descriptor is the appearance fingerprint of one keypoint. Exactly one of
// the fields is populated, depending on the family that produced it.
type Descriptor struct {
	Vec  []float32 `json:"vec,omitempty"`
	Bits []uint64  `json:"bits,omitempty"`
}

// Set is the result of running an extractor over one image. Keypoints and
// Descriptors correspond index for index.
type Set struct {
	Family      Family
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

// Len returns the number of features in the set. A nil set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Keypoints)
}

// Metric measures the distance between two descriptors of the same family.
type Metric interface {
	Distance(a, b Descriptor) float64
}

// Extractor detects keypoints and computes their descriptors.
//
// Implementations are deterministic and safe for concurrent use; Extract
// never fails, returning an empty set for images it cannot use.
type Extractor interface {
	Metric
	Family() Family
	Extract(img image.Image) *Set
}

// Options bounds the extractor output.
type Options struct {
	// MaxFeatures caps the number of keypoints; the strongest are kept.
	// Zero or negative means unlimited.
	MaxFeatures int `json:"max_features"`

	// MinResponse suppresses keypoints whose response is below it.
	MinResponse float64 `json:"min_response"`
}

// Default response thresholds per family. Plane intensities are in [0, 1].
const (
	DefaultGradientMinResponse = 0.04 / 3
	DefaultBinaryMinResponse   = 20.0 / 255
	DefaultMaxFeatures         = 2000
)

// DefaultOptions returns the options used when the caller supplies none.
func DefaultOptions(f Family) Options {
	opts := Options{MaxFeatures: DefaultMaxFeatures}
	switch f {
	case FamilyBinary:
		opts.MinResponse = DefaultBinaryMinResponse
	default:
		opts.MinResponse = DefaultGradientMinResponse
	}
	return opts
}

// New returns the extractor for the given family.
func New(f Family, opts Options) (Extractor, error) {
	if opts.MinResponse < 0 || math.IsNaN(opts.MinResponse) {
		return nil, fmt.Errorf("min response must be non-negative, got %v", opts.MinResponse)
	}
	switch f {
	case FamilyGradient:
		return &gradientExtractor{opts: opts}, nil
	case FamilyBinary:
		return &binaryExtractor{opts: opts}, nil
	}
	return nil, fmt.Errorf("unsupported feature family %v", f)
}

// EuclideanDistance is the L2 distance between two float descriptors.
// Descriptors of different lengths are infinitely far apart.
func EuclideanDistance(a, b Descriptor) float64 {
	if len(a.Vec) != len(b.Vec) || len(a.Vec) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a.Vec {
		d := float64(a.Vec[i]) - float64(b.Vec[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// HammingDistance counts differing bits between two binary descriptors.
// Descriptors of different lengths are infinitely far apart.
func HammingDistance(a, b Descriptor) float64 {
	if len(a.Bits) != len(b.Bits) || len(a.Bits) == 0 {
		return math.Inf(1)
	}
	return float64(hamming.Uint64s(a.Bits, b.Bits))
}

// stronger orders keypoints by descending response, then by position so
// that the order is total and the cap is deterministic.
func stronger(a, b Keypoint) bool {
	if a.Response != b.Response {
		return a.Response > b.Response
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	return a.Angle < b.Angle
}

// selectStrongest drops keypoints under the response floor, sorts the rest
// strongest first and truncates to the cap. The slice is reordered in place.
func selectStrongest[T any](items []T, kp func(T) Keypoint, opts Options) []T {
	kept := items[:0]
	for _, it := range items {
		if kp(it).Response >= opts.MinResponse {
			kept = append(kept, it)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return stronger(kp(kept[i]), kp(kept[j]))
	})
	if opts.MaxFeatures > 0 && len(kept) > opts.MaxFeatures {
		kept = kept[:opts.MaxFeatures]
	}
	return kept
}

// minImageSide is the smallest width or height the detectors work with.
const minImageSide = 16

// flatVariance is the luminance variance below which an image is treated as
// uniform and yields no features.
const flatVariance = 1e-10
