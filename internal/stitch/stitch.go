package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/panorama-tools-mcp/internal/compose"
	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
	"github.com/ironsheep/panorama-tools-mcp/internal/logging"
	"github.com/ironsheep/panorama-tools-mcp/internal/matching"
)

// State is a step of the stitch state machine.
type State int

const (
	StateCollecting State = iota
	StateExtracting
	StateMatching
	StateComposing
	StateDone
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateExtracting:
		return "extracting"
	case StateMatching:
		return "matching"
	case StateComposing:
		return "composing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PairReport describes an accepted pairwise alignment.
type PairReport struct {
	Pair
	// Matches is the number of cross-checked descriptor matches.
	Matches int `json:"matches"`
	// Inliers is the RANSAC inlier count.
	Inliers int `json:"inliers"`
	// RMSE is the inlier reprojection error in pixels.
	RMSE float64 `json:"rmse"`
	// H maps image B into the frame of image A.
	H geometry.Homography `json:"h"`
}

// Result is a successful stitch.
type Result struct {
	// Panorama is the blended canvas.
	Panorama *image.NRGBA

	// Anchor is the index of the reference image.
	Anchor int

	// Transforms maps each input image into panorama pixel coordinates.
	Transforms []geometry.Homography

	// Origin is the panorama's top-left pixel in the anchor's frame.
	Origin image.Point

	// Keypoints is the keypoint count per input image.
	Keypoints []int

	// Pairs lists the accepted pairwise alignments, ordered by pair.
	Pairs []PairReport
}

// Option customizes a Stitcher.
type Option func(*Stitcher)

// WithLogger sets the logger used for stage reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stitcher) {
		s.logger = logger
	}
}

// WithTransitionHook registers a function called on every state change.
// It runs on the goroutine calling Stitch.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(s *Stitcher) {
		s.onTransition = fn
	}
}

// Stitcher runs stitch requests with a fixed configuration. It holds no
// per-request state and is safe for concurrent use.
type Stitcher struct {
	cfg          Config
	ext          features.Extractor
	logger       *slog.Logger
	onTransition func(from, to State)
}

// New validates cfg and returns a Stitcher for it.
func New(cfg Config, opts ...Option) (*Stitcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stitch config: %w", err)
	}
	ext, err := features.New(cfg.Family, cfg.FeatureOptions())
	if err != nil {
		return nil, err
	}
	s := &Stitcher{cfg: cfg, ext: ext, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the stitcher's configuration.
func (s *Stitcher) Config() Config {
	return s.cfg
}

// Stitch composes images into one panorama.
//
// This is a convenience wrapper around New and Stitcher.Stitch using the
// default logger.
func Stitch(ctx context.Context, images []image.Image, cfg Config) (*Result, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return s.Stitch(ctx, images)
}

// request is the private state of one Stitch call.
type request struct {
	s       *Stitcher
	id      string
	state   State
	entered time.Time
}

func (r *request) enter(next State, details map[string]any) {
	prev := r.state
	logging.StageDone(r.s.logger, r.id, prev.String(), time.Since(r.entered), details)
	r.state = next
	r.entered = time.Now()
	if r.s.onTransition != nil {
		r.s.onTransition(prev, next)
	}
	if next != StateDone {
		logging.StageStart(r.s.logger, r.id, next.String(), nil)
	}
}

func (r *request) fail(err error) error {
	logging.StageFailed(r.s.logger, r.id, r.state.String(), time.Since(r.entered), err)
	prev := r.state
	r.state = StateDone
	if r.s.onTransition != nil {
		r.s.onTransition(prev, StateDone)
	}
	return err
}

// Stitch composes images into one panorama.
//
// Parameters:
//   - ctx: Checked at every state boundary; cancellation abandons the
//     request and returns ctx.Err().
//   - images: At least two overlapping images. They are only read.
//
// Returns:
//   - *Result: The panorama and placements, only on success.
//   - error: A *Failure for every unsuccessful outcome, or the context's
//     error when cancelled.
func (s *Stitcher) Stitch(ctx context.Context, images []image.Image) (*Result, error) {
	r := &request{s: s, id: uuid.NewString(), state: StateCollecting, entered: time.Now()}
	logging.StageStart(s.logger, r.id, StateCollecting.String(), map[string]any{"images": len(images)})

	if len(images) < 2 {
		return nil, r.fail(newFailure(InsufficientImages,
			fmt.Errorf("need at least 2 images, have %d", len(images))))
	}
	for i, img := range images {
		if img == nil || img.Bounds().Empty() {
			f := newFailure(InsufficientImages, errors.New("image is empty"))
			f.Image = i
			return nil, r.fail(f)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}

	r.enter(StateExtracting, map[string]any{"images": len(images)})
	sets, err := features.ExtractAll(ctx, s.ext, images, s.cfg.Workers)
	if err != nil {
		return nil, r.fail(err)
	}
	counts := make([]int, len(sets))
	for i, set := range sets {
		counts[i] = set.Len()
	}
	if s.cfg.MinKeypoints > 0 {
		for i, n := range counts {
			if n < s.cfg.MinKeypoints {
				f := newFailure(InsufficientFeatures,
					fmt.Errorf("found %d keypoints, need %d", n, s.cfg.MinKeypoints))
				f.Image = i
				return nil, r.fail(f)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}

	pairs := s.cfg.CandidatePairs(len(images))
	r.enter(StateMatching, map[string]any{"keypoints": counts, "pairs": len(pairs)})
	outcomes, err := s.alignPairs(ctx, sets, pairs)
	if err != nil {
		return nil, r.fail(err)
	}

	graph := compose.NewGraph(len(images))
	var accepted []PairReport
	var first *Failure
	for _, o := range outcomes {
		if o.err != nil {
			if first == nil {
				first = o.err
			}
			s.logger.Debug("pair rejected", "request", r.id, "a", o.report.A, "b", o.report.B, "error", o.err.Error())
			continue
		}
		if err := graph.AddEdge(o.report.A, o.report.B, o.report.H, o.report.Inliers); err != nil {
			f := newFailure(DegenerateTransform, err)
			f.PairA, f.PairB = o.report.A, o.report.B
			return nil, r.fail(f)
		}
		accepted = append(accepted, o.report)
	}
	if graph.EdgeCount() == 0 && first != nil {
		return nil, r.fail(first)
	}
	if !graph.Connected() {
		return nil, r.fail(newFailure(DisconnectedImageSet,
			fmt.Errorf("%w: components %v", compose.ErrDisconnected, graph.Components())))
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}

	r.enter(StateComposing, map[string]any{"accepted_pairs": len(accepted)})
	pano, err := compose.Compose(images, graph, s.cfg.composeOptions())
	if err != nil {
		return nil, r.fail(classifyCompose(err))
	}

	b := pano.Image.Bounds()
	r.enter(StateDone, map[string]any{"width": b.Dx(), "height": b.Dy(), "anchor": pano.Anchor})

	return &Result{
		Panorama:   pano.Image,
		Anchor:     pano.Anchor,
		Transforms: pano.Transforms,
		Origin:     pano.Origin,
		Keypoints:  counts,
		Pairs:      accepted,
	}, nil
}

type pairOutcome struct {
	report PairReport
	err    *Failure
}

// alignPairs matches and aligns every candidate pair on a bounded worker
// pool. Outcome k belongs to pairs[k]; Wait is the barrier before
// composition.
func (s *Stitcher) alignPairs(ctx context.Context, sets []*features.Set, pairs []Pair) ([]pairOutcome, error) {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	outcomes := make([]pairOutcome, len(pairs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, p := range pairs {
		k, p := k, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[k] = s.alignPair(sets[p.A], sets[p.B], p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// alignPair estimates the homography mapping image B onto image A.
func (s *Stitcher) alignPair(a, b *features.Set, p Pair) pairOutcome {
	report := PairReport{Pair: p}
	fail := func(kind FailureKind, err error) pairOutcome {
		f := newFailure(kind, err)
		f.PairA, f.PairB = p.A, p.B
		return pairOutcome{report: report, err: f}
	}

	matches, err := matching.MatchSets(s.ext, a, b, matching.DefaultOptions())
	if err != nil {
		return fail(HomographyEstimationFailed, err)
	}
	report.Matches = len(matches)

	src := make([]geometry.Point, len(matches))
	dst := make([]geometry.Point, len(matches))
	for i, m := range matches {
		kb := b.Keypoints[m.TrainIdx]
		ka := a.Keypoints[m.QueryIdx]
		src[i] = geometry.Point{X: kb.X, Y: kb.Y}
		dst[i] = geometry.Point{X: ka.X, Y: ka.Y}
	}

	est, err := geometry.Estimate(src, dst, s.cfg.ransacOptions())
	if err != nil {
		if errors.Is(err, geometry.ErrDegenerate) {
			return fail(DegenerateTransform, err)
		}
		return fail(HomographyEstimationFailed, err)
	}
	report.H = est.H
	report.Inliers = est.InlierCount
	report.RMSE = est.RMSE
	return pairOutcome{report: report}
}

func classifyCompose(err error) error {
	switch {
	case errors.Is(err, compose.ErrDisconnected):
		return newFailure(DisconnectedImageSet, err)
	default:
		return newFailure(DegenerateTransform, err)
	}
}
