package compose

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"

	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
)

// ErrDegenerateFootprint is returned when an image warps onto a zero-area,
// infinite or unreasonably large region of the canvas.
var ErrDegenerateFootprint = errors.New("degenerate warped footprint")

// Default composition settings.
const (
	DefaultFeatherWidth    = 30.0
	DefaultMaxCanvasPixels = 100_000_000
)

// boundTolerance absorbs floating point noise when rounding the warped
// footprint outward to whole pixels.
const boundTolerance = 1e-6

// Options controls canvas construction and blending.
type Options struct {
	// FeatherWidth is the distance in source pixels over which an image's
	// blend weight ramps from its edge up to full weight. Zero or negative
	// gives every covering image equal weight.
	FeatherWidth float64 `json:"feather_width"`

	// MaxCanvasPixels bounds the output size. Zero disables the check.
	MaxCanvasPixels int `json:"max_canvas_pixels"`
}

// DefaultOptions returns the composition defaults.
func DefaultOptions() Options {
	return Options{
		FeatherWidth:    DefaultFeatherWidth,
		MaxCanvasPixels: DefaultMaxCanvasPixels,
	}
}

// Panorama is a composed canvas and the placement of each input on it.
type Panorama struct {
	// Image is the blended canvas. Uncovered pixels are opaque black.
	Image *image.NRGBA

	// Anchor is the index of the reference image.
	Anchor int

	// Transforms maps each input image into canvas pixel coordinates.
	Transforms []geometry.Homography

	// Origin is the position of the canvas's top-left pixel in the
	// anchor's frame.
	Origin image.Point
}

// Compose warps every image into the anchor's frame and blends them onto a
// canvas sized to the union of their footprints.
//
// Parameters:
//   - images: The input images, indexed like the graph's nodes.
//   - g: Connectivity graph of accepted pairwise transforms.
//   - opts: Blend and canvas settings.
//
// Returns:
//   - *Panorama: The canvas and per-image placements.
//   - error: Wraps ErrDisconnected when the graph does not span all images,
//     or ErrDegenerateFootprint when a warped image has no usable area.
func Compose(images []image.Image, g *Graph, opts Options) (*Panorama, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to compose")
	}
	if g == nil || g.Len() != len(images) {
		return nil, fmt.Errorf("graph does not describe %d images", len(images))
	}
	if !g.Connected() {
		return nil, fmt.Errorf("%w: %d components", ErrDisconnected, len(g.Components()))
	}

	anchor := g.Anchor()
	ts, err := g.Transforms(anchor)
	if err != nil {
		return nil, err
	}

	srcs := make([]*image.NRGBA, len(images))
	for i, img := range images {
		srcs[i] = imaging.Clone(img)
	}

	bounds, err := CanvasBounds(srcs, ts, opts.MaxCanvasPixels)
	if err != nil {
		return nil, err
	}

	shift := geometry.Translation(float64(-bounds.Min.X), float64(-bounds.Min.Y))
	placed := make([]geometry.Homography, len(ts))
	inverse := make([]geometry.Homography, len(ts))
	for i, t := range ts {
		p, ok := shift.Mul(t).Normalize()
		if !ok {
			return nil, fmt.Errorf("%w: image %d", ErrDegenerateFootprint, i)
		}
		inv, ok := p.Inverse()
		if !ok {
			return nil, fmt.Errorf("%w: image %d transform is not invertible", ErrDegenerateFootprint, i)
		}
		placed[i] = p
		inverse[i] = inv
	}

	canvas := blend(srcs, inverse, bounds.Dx(), bounds.Dy(), opts.FeatherWidth)

	return &Panorama{
		Image:      canvas,
		Anchor:     anchor,
		Transforms: placed,
		Origin:     bounds.Min,
	}, nil
}

// Footprint returns the four corners of a width x height image mapped
// through h, clockwise from the top-left.
func Footprint(h geometry.Homography, width, height int) ([4]geometry.Point, error) {
	w, ht := float64(width), float64(height)
	src := [4]geometry.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: ht}, {X: 0, Y: ht}}
	var out [4]geometry.Point
	for k, p := range src {
		if h.W(p.X, p.Y) <= geometry.ProjectiveEpsilon {
			return out, fmt.Errorf("%w: corner (%.0f, %.0f) maps to or behind infinity", ErrDegenerateFootprint, p.X, p.Y)
		}
		x, y, ok := h.Apply(p.X, p.Y)
		if !ok || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return out, fmt.Errorf("%w: corner (%.0f, %.0f) is not finite", ErrDegenerateFootprint, p.X, p.Y)
		}
		out[k] = geometry.Point{X: x, Y: y}
	}
	return out, nil
}

// quadArea is the shoelace area of a quadrilateral.
func quadArea(q [4]geometry.Point) float64 {
	var s float64
	for k := 0; k < 4; k++ {
		a, b := q[k], q[(k+1)%4]
		s += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(s) / 2
}

// CanvasBounds returns the integer rectangle, in the anchor's frame, that
// exactly contains every warped footprint.
func CanvasBounds(srcs []*image.NRGBA, ts []geometry.Homography, maxPixels int) (image.Rectangle, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, src := range srcs {
		b := src.Bounds()
		q, err := Footprint(ts[i], b.Dx(), b.Dy())
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("image %d: %w", i, err)
		}
		if quadArea(q) < 1 {
			return image.Rectangle{}, fmt.Errorf("%w: image %d covers less than one pixel", ErrDegenerateFootprint, i)
		}
		for _, p := range q {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}

	x0 := math.Floor(minX + boundTolerance)
	y0 := math.Floor(minY + boundTolerance)
	x1 := math.Ceil(maxX - boundTolerance)
	y1 := math.Ceil(maxY - boundTolerance)
	w, h := x1-x0, y1-y0
	if w < 1 || h < 1 {
		return image.Rectangle{}, fmt.Errorf("%w: canvas %vx%v", ErrDegenerateFootprint, w, h)
	}
	if maxPixels > 0 && w*h > float64(maxPixels) {
		return image.Rectangle{}, fmt.Errorf("%w: canvas %.0fx%.0f exceeds %d pixels", ErrDegenerateFootprint, w, h, maxPixels)
	}
	return image.Rect(int(x0), int(y0), int(x1), int(y1)), nil
}

// blend renders the canvas by inverse mapping each canvas pixel into every
// image. A pixel covered once takes that image's sample; a pixel covered by
// several takes their feather-weighted mean.
func blend(srcs []*image.NRGBA, inverse []geometry.Homography, width, height int, feather float64) *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < width; x++ {
				var acc [4]float64
				var only [4]float64
				var wsum float64
				covered := 0

				for i, src := range srcs {
					sx, sy, ok := inverse[i].Apply(float64(x), float64(y))
					if !ok {
						continue
					}
					b := src.Bounds()
					sw, sh := float64(b.Dx()), float64(b.Dy())
					if sx < -0.5 || sy < -0.5 || sx >= sw-0.5 || sy >= sh-0.5 {
						continue
					}
					px := sampleBilinear(src, sx, sy)
					w := featherWeight(sx, sy, sw, sh, feather)
					for c := 0; c < 4; c++ {
						acc[c] += px[c] * w
					}
					wsum += w
					only = px
					covered++
				}

				off := y*canvas.Stride + x*4
				switch {
				case covered == 0:
					canvas.Pix[off+3] = 255
				case covered == 1:
					for c := 0; c < 4; c++ {
						canvas.Pix[off+c] = toByte(only[c])
					}
				default:
					for c := 0; c < 4; c++ {
						canvas.Pix[off+c] = toByte(acc[c] / wsum)
					}
				}
			}
		}
	})
	return canvas
}

// featherWeight ramps linearly from the image edge to full weight at the
// feather distance.
func featherWeight(sx, sy, w, h, feather float64) float64 {
	if feather <= 0 {
		return 1
	}
	d := math.Min(math.Min(sx+1, sy+1), math.Min(w-sx, h-sy))
	return math.Min(1, d/feather)
}

// sampleBilinear interpolates the four channels of src at (x, y), with
// pixel centres on integer coordinates and edges clamped.
func sampleBilinear(src *image.NRGBA, x, y float64) [4]float64 {
	b := src.Bounds()
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0
	ix0 := clamp(int(x0), 0, b.Dx()-1)
	iy0 := clamp(int(y0), 0, b.Dy()-1)
	ix1 := clamp(int(x0)+1, 0, b.Dx()-1)
	iy1 := clamp(int(y0)+1, 0, b.Dy()-1)

	p00 := src.Pix[iy0*src.Stride+ix0*4:]
	p10 := src.Pix[iy0*src.Stride+ix1*4:]
	p01 := src.Pix[iy1*src.Stride+ix0*4:]
	p11 := src.Pix[iy1*src.Stride+ix1*4:]

	var out [4]float64
	for c := 0; c < 4; c++ {
		top := float64(p00[c]) + (float64(p10[c])-float64(p00[c]))*fx
		bottom := float64(p01[c]) + (float64(p11[c])-float64(p01[c]))*fx
		out[c] = top + (bottom-top)*fy
	}
	return out
}

func toByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
