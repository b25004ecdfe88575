package visualize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/panorama-tools-mcp/internal/features"
	"github.com/ironsheep/panorama-tools-mcp/internal/matching"
)

// DefaultTopK is the number of best matches drawn on the composite.
const DefaultTopK = 10

// ErrInsufficientFeatures is returned when neither image yields a keypoint.
var ErrInsufficientFeatures = errors.New("insufficient features: no keypoints in either image")

// Config controls extraction and drawing.
type Config struct {
	// Family selects the feature extractor.
	Family features.Family `json:"family"`

	// MaxFeatures caps keypoints per image. Zero is unlimited.
	MaxFeatures int `json:"max_features"`

	// MinResponse is the keypoint response floor. Zero selects the
	// family's default.
	MinResponse float64 `json:"min_response"`

	// LineWidth is the stroke width of circles and match lines.
	LineWidth float64 `json:"line_width"`

	// MatchColor, when set, draws every match line in this hex colour
	// instead of one colour per match.
	MatchColor string `json:"match_color,omitempty"`
}

// DefaultConfig returns the drawing defaults.
func DefaultConfig() Config {
	return Config{
		Family:      features.FamilyGradient,
		MaxFeatures: features.DefaultMaxFeatures,
		LineWidth:   1.5,
	}
}

// featureOptions returns the extractor options implied by c.
func (c Config) featureOptions() features.Options {
	opts := features.DefaultOptions(c.Family)
	opts.MaxFeatures = c.MaxFeatures
	if c.MinResponse > 0 {
		opts.MinResponse = c.MinResponse
	}
	return opts
}

// Visualization holds the three diagnostic images and the data drawn on
// them.
type Visualization struct {
	// KeypointsA and KeypointsB are the inputs with every keypoint drawn.
	KeypointsA *image.NRGBA
	KeypointsB *image.NRGBA

	// Matches is A and B side by side with the drawn matches as lines.
	Matches *image.NRGBA

	// SetA and SetB are the extracted features.
	SetA *features.Set
	SetB *features.Set

	// MatchCount is the number of cross-checked matches found.
	MatchCount int

	// Drawn lists the matches drawn on the composite, best first.
	Drawn []matching.Match
}

// VisualizeAndMatch extracts features from both images, matches them and
// renders the diagnostic images.
//
// Parameters:
//   - ctx: Checked before extraction and before drawing.
//   - a, b: The images to compare. They are only read.
//   - cfg: Extractor and drawing settings.
//   - topK: Number of best matches drawn on the composite.
//
// Returns:
//   - *Visualization: The annotated images. When only one image has
//     keypoints the composite simply has no lines.
//   - error: ErrInsufficientFeatures when neither image has a keypoint,
//     or a configuration or context error.
func VisualizeAndMatch(ctx context.Context, a, b image.Image, cfg Config, topK int) (*Visualization, error) {
	if a == nil || b == nil {
		return nil, errors.New("both images are required")
	}
	if topK < 0 {
		return nil, fmt.Errorf("top-k must not be negative, got %d", topK)
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = 1
	}
	lineColor, perMatch, err := parseMatchColor(cfg.MatchColor)
	if err != nil {
		return nil, err
	}
	ext, err := features.New(cfg.Family, cfg.featureOptions())
	if err != nil {
		return nil, err
	}

	sets, err := features.ExtractAll(ctx, ext, []image.Image{a, b}, 2)
	if err != nil {
		return nil, err
	}
	setA, setB := sets[0], sets[1]
	if setA.Len() == 0 && setB.Len() == 0 {
		return nil, ErrInsufficientFeatures
	}

	matches, err := matching.MatchSets(ext, setA, setB, matching.DefaultOptions())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	top := matching.Top(matches, topK)

	srcA := imaging.Clone(a)
	srcB := imaging.Clone(b)

	return &Visualization{
		KeypointsA: DrawKeypoints(srcA, setA.Keypoints, cfg.LineWidth),
		KeypointsB: DrawKeypoints(srcB, setB.Keypoints, cfg.LineWidth),
		Matches:    drawMatches(srcA, srcB, setA.Keypoints, setB.Keypoints, top, cfg.LineWidth, lineColor, perMatch),
		SetA:       setA,
		SetB:       setB,
		MatchCount: len(matches),
		Drawn:      append([]matching.Match(nil), top...),
	}, nil
}

// DrawKeypoints returns a copy of img with each keypoint drawn as a circle
// of its size and a tick along its orientation.
func DrawKeypoints(img image.Image, kps []features.Keypoint, lineWidth float64) *image.NRGBA {
	src := imaging.Clone(img)
	if len(kps) == 0 {
		return src
	}
	dc := gg.NewContextForRGBA(clone.AsRGBA(src))
	dc.SetLineWidth(lineWidth)
	for i, kp := range kps {
		c := paletteColor(i)
		dc.SetRGB(c.R, c.G, c.B)

		// Pixel centres sit on half coordinates in the drawing context.
		x, y := kp.X+0.5, kp.Y+0.5
		r := math.Max(kp.Size/2, 2)
		dc.DrawCircle(x, y, r)
		dc.Stroke()

		rad := gg.Radians(kp.Angle)
		dc.DrawLine(x, y, x+r*math.Cos(rad), y+r*math.Sin(rad))
		dc.Stroke()
	}
	return imaging.Clone(dc.Image())
}

// Composite places a and b side by side on a black canvas tall enough for
// both.
func Composite(a, b image.Image) *image.NRGBA {
	ba, bb := a.Bounds(), b.Bounds()
	h := ba.Dy()
	if bb.Dy() > h {
		h = bb.Dy()
	}
	canvas := imaging.New(ba.Dx()+bb.Dx(), h, color.Black)
	canvas = imaging.Paste(canvas, a, image.Pt(0, 0))
	return imaging.Paste(canvas, b, image.Pt(ba.Dx(), 0))
}

// drawMatches renders the composite with a line per match between its
// endpoints. Unmatched keypoints are not drawn.
func drawMatches(a, b *image.NRGBA, kpa, kpb []features.Keypoint, top []matching.Match, lineWidth float64, fixed colorful.Color, perMatch bool) *image.NRGBA {
	canvas := Composite(a, b)
	if len(top) == 0 {
		return canvas
	}
	offset := float64(a.Bounds().Dx())

	dc := gg.NewContextForRGBA(clone.AsRGBA(canvas))
	dc.SetLineWidth(lineWidth)
	for i, m := range top {
		c := fixed
		if perMatch {
			c = paletteColor(i)
		}
		dc.SetRGB(c.R, c.G, c.B)

		pa, pb := kpa[m.QueryIdx], kpb[m.TrainIdx]
		x1, y1 := pa.X+0.5, pa.Y+0.5
		x2, y2 := pb.X+0.5+offset, pb.Y+0.5
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
		dc.DrawCircle(x1, y1, 3)
		dc.DrawCircle(x2, y2, 3)
		dc.Stroke()
	}
	return imaging.Clone(dc.Image())
}

// paletteColor walks the hue circle by the golden angle so that
// neighbouring indices get clearly different colours.
func paletteColor(i int) colorful.Color {
	return colorful.Hsv(math.Mod(float64(i)*137.508, 360), 0.85, 0.95).Clamped()
}

func parseMatchColor(hex string) (colorful.Color, bool, error) {
	if hex == "" {
		return colorful.Color{}, true, nil
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return colorful.Color{}, false, fmt.Errorf("invalid match color %q: %w", hex, err)
	}
	return c, false, nil
}
