package imaging

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/parallel"
)

// Plane is a single-channel floating point image stored row-major.
//
// Feature detection works on planes rather than image.Image so that scale
// space construction, gradients and sub-pixel sampling operate on exact
// float values instead of re-quantized 8-bit pixels. Values produced by
// GrayPlane are in [0, 1].
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

// NewPlane allocates a zeroed plane of the given size.
func NewPlane(width, height int) *Plane {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Plane{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// Empty reports whether the plane has no pixels.
func (p *Plane) Empty() bool {
	return p == nil || p.Width == 0 || p.Height == 0
}

// At returns the value at (x, y), clamping coordinates to the plane edges.
func (p *Plane) At(x, y int) float64 {
	x = clamp(x, 0, p.Width-1)
	y = clamp(y, 0, p.Height-1)
	return p.Pix[y*p.Width+x]
}

// Set stores v at (x, y). Out of range coordinates are ignored.
func (p *Plane) Set(x, y int, v float64) {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return
	}
	p.Pix[y*p.Width+x] = v
}

// Sample returns the bilinearly interpolated value at the sub-pixel
// location (x, y). Pixel centres sit on integer coordinates, so sampling an
// integer location returns the stored value exactly.
func (p *Plane) Sample(x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0
	ix := int(x0)
	iy := int(y0)

	v00 := p.At(ix, iy)
	v10 := p.At(ix+1, iy)
	v01 := p.At(ix, iy+1)
	v11 := p.At(ix+1, iy+1)

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}

// Variance returns the population variance of the plane's values.
func (p *Plane) Variance() float64 {
	if p.Empty() {
		return 0
	}
	var sum, sumSq float64
	for _, v := range p.Pix {
		sum += v
		sumSq += v * v
	}
	n := float64(len(p.Pix))
	mean := sum / n
	return sumSq/n - mean*mean
}

// GrayPlane converts an image to a luminance plane.
//
// Parameters:
//   - img: Any image. Its bounds need not start at the origin; the plane is
//     indexed from (0, 0) at img.Bounds().Min.
//
// Returns:
//   - *Plane: Luminance in [0, 1] using the standard weights
//     (0.299*R + 0.587*G + 0.114*B). A zero-size image yields an empty plane.
func GrayPlane(img image.Image) *Plane {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return NewPlane(0, 0)
	}

	gray := effect.GrayscaleWithWeights(img, 0.299, 0.587, 0.114)
	p := NewPlane(w, h)
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := y * gray.Stride
			for x := 0; x < w; x++ {
				p.Pix[y*w+x] = float64(gray.Pix[row+x*4]) / 255.0
			}
		}
	})
	return p
}

// GaussianKernel returns a normalized 1-D Gaussian kernel with radius
// ceil(3*sigma).
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur smooths a plane with a separable Gaussian of the given sigma.
//
// Borders are handled by clamping to the nearest edge pixel. Rows are
// processed in parallel; the result is independent of the split.
func GaussianBlur(src *Plane, sigma float64) *Plane {
	if src.Empty() || sigma <= 0 {
		return src.Clone()
	}
	kernel := GaussianKernel(sigma)
	radius := len(kernel) / 2
	w, h := src.Width, src.Height

	tmp := NewPlane(w, h)
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			row := src.Pix[y*w : (y+1)*w]
			for x := 0; x < w; x++ {
				var sum float64
				for k := -radius; k <= radius; k++ {
					sum += row[clamp(x+k, 0, w-1)] * kernel[k+radius]
				}
				tmp.Pix[y*w+x] = sum
			}
		}
	})

	dst := NewPlane(w, h)
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				var sum float64
				for k := -radius; k <= radius; k++ {
					sum += tmp.Pix[clamp(y+k, 0, h-1)*w+x] * kernel[k+radius]
				}
				dst.Pix[y*w+x] = sum
			}
		}
	})
	return dst
}

// Clone returns a deep copy of the plane.
func (p *Plane) Clone() *Plane {
	if p == nil {
		return NewPlane(0, 0)
	}
	c := NewPlane(p.Width, p.Height)
	copy(c.Pix, p.Pix)
	return c
}

// Subtract returns a - b. Both planes must share dimensions.
func Subtract(a, b *Plane) *Plane {
	d := NewPlane(a.Width, a.Height)
	for i := range d.Pix {
		d.Pix[i] = a.Pix[i] - b.Pix[i]
	}
	return d
}

// Downsample halves a plane by taking every second pixel.
func Downsample(src *Plane) *Plane {
	w := src.Width / 2
	h := src.Height / 2
	dst := NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*w+x] = src.Pix[(2*y)*src.Width+2*x]
		}
	}
	return dst
}

// ResizePlane resamples a plane to the given size with bilinear
// interpolation, mapping pixel centres onto pixel centres.
func ResizePlane(src *Plane, width, height int) *Plane {
	dst := NewPlane(width, height)
	if src.Empty() || width == 0 || height == 0 {
		return dst
	}
	sx := float64(src.Width) / float64(width)
	sy := float64(src.Height) / float64(height)
	parallel.Line(height, func(start, end int) {
		for y := start; y < end; y++ {
			fy := (float64(y)+0.5)*sy - 0.5
			for x := 0; x < width; x++ {
				fx := (float64(x)+0.5)*sx - 0.5
				dst.Pix[y*width+x] = src.Sample(fx, fy)
			}
		}
	})
	return dst
}

func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
