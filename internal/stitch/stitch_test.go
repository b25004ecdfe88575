package stitch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"reflect"
	"testing"

	"github.com/ironsheep/panorama-tools-mcp/internal/compose"
	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/logging"
	"github.com/ironsheep/panorama-tools-mcp/internal/testutil"
)

// splitCrops cuts one scene into two crops overlapping by overlap pixels.
func splitCrops(width, height, overlap int, seed int64) (image.Image, image.Image) {
	scene := testutil.Scene(width, height, seed)
	left := (width + overlap) / 2
	a := scene.SubImage(image.Rect(0, 0, left, height))
	b := scene.SubImage(image.Rect(left-overlap, 0, width, height))
	return a, b
}

func mustStitcher(t *testing.T, cfg Config, opts ...Option) *Stitcher {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func wantKind(t *testing.T, err error, want ...FailureKind) {
	t.Helper()
	kind, ok := KindOf(err)
	if !ok {
		t.Fatalf("expected a stitch failure, got %v", err)
	}
	for _, k := range want {
		if kind == k {
			return
		}
	}
	t.Fatalf("failure kind %v, want one of %v (%v)", kind, want, err)
}

func TestStitch_SplitCrops(t *testing.T) {
	// 352 = 224 + 224 - 96; the crop offset is a multiple of 16 so that
	// both crops share the scale-space sampling grid.
	a, b := splitCrops(352, 200, 96, 31)

	for _, f := range []features.Family{features.FamilyGradient, features.FamilyBinary} {
		t.Run(f.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Family = f
			res, err := mustStitcher(t, cfg).Stitch(context.Background(), []image.Image{a, b})
			if err != nil {
				t.Fatalf("Stitch failed: %v", err)
			}

			bounds := res.Panorama.Bounds()
			if d := bounds.Dx() - 352; d < -3 || d > 3 {
				t.Errorf("panorama width %d, want 352 +/- 3", bounds.Dx())
			}
			if d := bounds.Dy() - 200; d < -3 || d > 3 {
				t.Errorf("panorama height %d, want 200 +/- 3", bounds.Dy())
			}

			if len(res.Pairs) != 1 {
				t.Fatalf("expected one accepted pair, got %d", len(res.Pairs))
			}
			p := res.Pairs[0]
			if p.Inliers < cfg.MinInliers || p.Inliers > p.Matches {
				t.Errorf("pair report inconsistent: %+v", p)
			}
			x, y, ok := p.H.Apply(0, 0)
			if !ok || x < 125 || x > 131 || y < -3 || y > 3 {
				t.Errorf("B's origin should land near (128, 0) in A, got (%.2f, %.2f)", x, y)
			}
			if len(res.Transforms) != 2 || len(res.Keypoints) != 2 {
				t.Errorf("per-image outputs: %d transforms, %d keypoint counts", len(res.Transforms), len(res.Keypoints))
			}
		})
	}
}

func TestStitch_Idempotent(t *testing.T) {
	a, b := splitCrops(352, 200, 96, 32)
	s := mustStitcher(t, DefaultConfig())

	first, err1 := s.Stitch(context.Background(), []image.Image{a, b})
	second, err2 := s.Stitch(context.Background(), []image.Image{a, b})
	if err1 != nil || err2 != nil {
		t.Fatalf("Stitch failed: %v, %v", err1, err2)
	}
	if first.Panorama.Bounds() != second.Panorama.Bounds() {
		t.Errorf("canvas differs: %v vs %v", first.Panorama.Bounds(), second.Panorama.Bounds())
	}
	if !reflect.DeepEqual(first.Transforms, second.Transforms) {
		t.Error("placements differ between runs")
	}
	if !reflect.DeepEqual(first.Panorama.Pix, second.Panorama.Pix) {
		t.Error("panorama pixels differ between runs")
	}

	// Failures are just as repeatable.
	solid := []image.Image{
		testutil.Uniform(120, 90, color.NRGBA{R: 255, A: 255}),
		testutil.Uniform(120, 90, color.NRGBA{B: 255, A: 255}),
	}
	_, e1 := s.Stitch(context.Background(), solid)
	_, e2 := s.Stitch(context.Background(), solid)
	k1, _ := KindOf(e1)
	k2, _ := KindOf(e2)
	if k1 != k2 || k1 == 0 {
		t.Errorf("failure kinds differ or missing: %v vs %v", e1, e2)
	}
}

func TestStitch_NonOverlappingSolidImages(t *testing.T) {
	images := []image.Image{
		testutil.Uniform(160, 120, color.NRGBA{R: 200, G: 30, B: 30, A: 255}),
		testutil.Uniform(160, 120, color.NRGBA{R: 20, G: 40, B: 220, A: 255}),
	}
	res, err := mustStitcher(t, DefaultConfig()).Stitch(context.Background(), images)
	if res != nil {
		t.Fatal("a failed stitch must not return a result")
	}
	wantKind(t, err, HomographyEstimationFailed, DisconnectedImageSet)

	var f *Failure
	if !errors.As(err, &f) || f.PairA != 0 || f.PairB != 1 {
		t.Errorf("failure should name pair 0-1: %+v", f)
	}
}

func TestStitch_InsufficientImages(t *testing.T) {
	s := mustStitcher(t, DefaultConfig())
	scene := testutil.Scene(100, 80, 33)

	tests := []struct {
		name   string
		images []image.Image
	}{
		{"none", nil},
		{"one", []image.Image{scene}},
		{"nil image", []image.Image{scene, nil}},
		{"empty image", []image.Image{scene, image.NewNRGBA(image.Rect(0, 0, 0, 0))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Stitch(context.Background(), tt.images)
			wantKind(t, err, InsufficientImages)
		})
	}
}

func TestStitch_MinKeypoints(t *testing.T) {
	images := []image.Image{
		testutil.Scene(160, 120, 34),
		testutil.Uniform(160, 120, color.Gray{Y: 128}),
	}
	cfg := DefaultConfig()
	cfg.MinKeypoints = 5

	_, err := mustStitcher(t, cfg).Stitch(context.Background(), images)
	wantKind(t, err, InsufficientFeatures)

	var f *Failure
	if errors.As(err, &f) && f.Image != 1 {
		t.Errorf("failure should name image 1, got %d", f.Image)
	}
}

func TestStitch_Disconnected(t *testing.T) {
	a, b := splitCrops(352, 200, 96, 35)
	other := testutil.Scene(224, 200, 99)

	_, err := mustStitcher(t, DefaultConfig()).Stitch(context.Background(), []image.Image{a, b, other})
	wantKind(t, err, DisconnectedImageSet)
	if !errors.Is(err, compose.ErrDisconnected) {
		t.Errorf("failure should wrap compose.ErrDisconnected: %v", err)
	}
}

func TestStitch_Cancelled(t *testing.T) {
	a, b := splitCrops(352, 200, 96, 36)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := mustStitcher(t, DefaultConfig()).Stitch(ctx, []image.Image{a, b})
	if res != nil || !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled and no result, got %v, %v", res, err)
	}
	if _, ok := KindOf(err); ok {
		t.Error("cancellation is not a stitch failure")
	}
}

func TestStitch_Transitions(t *testing.T) {
	a, b := splitCrops(352, 200, 96, 37)

	var got []State
	hook := func(from, to State) { got = append(got, to) }
	if _, err := mustStitcher(t, DefaultConfig(), WithTransitionHook(hook)).Stitch(context.Background(), []image.Image{a, b}); err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	want := []State{StateExtracting, StateMatching, StateComposing, StateDone}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("transitions: got %v, want %v", got, want)
	}

	got = nil
	_, _ = mustStitcher(t, DefaultConfig(), WithTransitionHook(hook)).Stitch(context.Background(), []image.Image{a})
	if !reflect.DeepEqual(got, []State{StateDone}) {
		t.Errorf("failure from collecting should go straight to done, got %v", got)
	}
}

func TestStitch_DoesNotModifyInput(t *testing.T) {
	scene := testutil.Scene(352, 200, 38)
	before := append([]uint8(nil), scene.Pix...)
	a := scene.SubImage(image.Rect(0, 0, 224, 200))
	b := scene.SubImage(image.Rect(128, 0, 352, 200))

	if _, err := mustStitcher(t, DefaultConfig()).Stitch(context.Background(), []image.Image{a, b}); err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if !reflect.DeepEqual(before, scene.Pix) {
		t.Error("Stitch modified the caller's image")
	}
}

func TestStitch_PackageFunc(t *testing.T) {
	if _, err := Stitch(context.Background(), nil, Config{}); err == nil {
		t.Error("zero Config should be rejected")
	}
	_, err := Stitch(context.Background(), nil, DefaultConfig())
	wantKind(t, err, InsufficientImages)
}
