package stitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown family", func(c *Config) { c.Family = features.Family(7) }},
		{"zero threshold", func(c *Config) { c.ReprojThreshold = 0 }},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"too few inliers", func(c *Config) { c.MinInliers = 3 }},
		{"confidence one", func(c *Config) { c.Confidence = 1 }},
		{"negative feather", func(c *Config) { c.FeatherWidth = -1 }},
		{"negative max features", func(c *Config) { c.MaxFeatures = -1 }},
		{"negative min response", func(c *Config) { c.MinResponse = -0.1 }},
		{"negative min keypoints", func(c *Config) { c.MinKeypoints = -1 }},
		{"zero window", func(c *Config) { c.NeighborWindow = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
		{"negative canvas", func(c *Config) { c.MaxCanvasPixels = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
			if _, err := New(cfg); err == nil {
				t.Error("New should reject an invalid config")
			}
		})
	}
}

func TestConfig_FeatureOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Family = features.FamilyBinary
	opts := cfg.FeatureOptions()
	if opts.MinResponse != features.DefaultBinaryMinResponse {
		t.Errorf("zero MinResponse should select the family default, got %v", opts.MinResponse)
	}

	cfg.MinResponse = 0.3
	cfg.MaxFeatures = 77
	opts = cfg.FeatureOptions()
	if opts.MinResponse != 0.3 || opts.MaxFeatures != 77 {
		t.Errorf("explicit values not carried over: %+v", opts)
	}
}

func TestConfig_CandidatePairs(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		n    int
		want []Pair
	}{
		{2, []Pair{{0, 1}}},
		{3, []Pair{{0, 1}, {0, 2}, {1, 2}}},
		{1, nil},
	}
	for _, tt := range tests {
		if got := cfg.CandidatePairs(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("CandidatePairs(%d): got %v, want %v", tt.n, got, tt.want)
		}
	}

	if got := len(cfg.CandidatePairs(8)); got != 28 {
		t.Errorf("8 images should match all 28 pairs, got %d", got)
	}

	// Past the limit only neighbours within the window are matched.
	pairs := cfg.CandidatePairs(10)
	if len(pairs) != 17 {
		t.Errorf("10 images with window 2: got %d pairs, want 17", len(pairs))
	}
	for _, p := range pairs {
		if p.B-p.A > cfg.NeighborWindow || p.B <= p.A {
			t.Errorf("pair %v outside the neighbour window", p)
		}
	}
}

func TestFailure(t *testing.T) {
	inner := fmt.Errorf("pair: %w", geometry.ErrInsufficientInliers)
	f := newFailure(HomographyEstimationFailed, inner)
	f.PairA, f.PairB = 2, 3

	var err error = f
	if !errors.Is(err, geometry.ErrInsufficientInliers) {
		t.Error("Failure should unwrap to the component error")
	}
	if kind, ok := KindOf(fmt.Errorf("outer: %w", err)); !ok || kind != HomographyEstimationFailed {
		t.Errorf("KindOf through wrapping: got %v, %v", kind, ok)
	}
	want := "HomographyEstimationFailed (pair 2-3): pair: " + geometry.ErrInsufficientInliers.Error()
	if err.Error() != want {
		t.Errorf("Error():\n got %q\nwant %q", err.Error(), want)
	}

	img := newFailure(InsufficientFeatures, nil)
	img.Image = 4
	if img.Error() != "InsufficientFeatures (image 4)" {
		t.Errorf("Error(): got %q", img.Error())
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain errors carry no failure kind")
	}
}

func TestFailureKind_Text(t *testing.T) {
	b, err := json.Marshal(map[string]FailureKind{"status": DegenerateTransform})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"status":"DegenerateTransform"}` {
		t.Errorf("got %s", b)
	}
	if FailureKind(42).String() != "FailureKind(42)" {
		t.Errorf("unknown kind: %s", FailureKind(42))
	}
}

func TestState_String(t *testing.T) {
	names := map[State]string{
		StateCollecting: "collecting",
		StateExtracting: "extracting",
		StateMatching:   "matching",
		StateComposing:  "composing",
		StateDone:       "done",
	}
	for s, want := range names {
		if s.String() != want {
			t.Errorf("%d: got %q, want %q", int(s), s.String(), want)
		}
	}
}
