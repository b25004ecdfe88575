package features

import (
	"image"
	"math"
	"math/rand"

	"github.com/ironsheep/panorama-tools-mcp/internal/imaging"
)

const (
	binLevels      = 5
	binScaleFactor = 1.3
	binPatchSize   = 31
	binHalfPatch   = binPatchSize / 2
	binBorder      = 22 // rotated patch radius, ceil(15*sqrt(2))
	binArcLength   = 9
	binBlurSigma   = 2.0
	binPairs       = 256
	binWords       = binPairs / 64
	binPatternSeed = 0x0b51ef
)

// fastCircle is the 16-pixel Bresenham circle of radius 3 used by the
// segment test, in clockwise order starting at the top.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// briefPattern holds the point pairs compared by the binary descriptor,
// sampled once from an isotropic Gaussian and restricted to the patch disc.
var briefPattern = func() [binPairs][4]int {
	rng := rand.New(rand.NewSource(binPatternSeed))
	sigma := float64(binPatchSize) / 5
	point := func() (int, int) {
		for {
			x := int(math.Round(rng.NormFloat64() * sigma))
			y := int(math.Round(rng.NormFloat64() * sigma))
			if x*x+y*y <= binHalfPatch*binHalfPatch {
				return x, y
			}
		}
	}
	var pattern [binPairs][4]int
	for i := range pattern {
		for {
			x1, y1 := point()
			x2, y2 := point()
			if x1 != x2 || y1 != y2 {
				pattern[i] = [4]int{x1, y1, x2, y2}
				break
			}
		}
	}
	return pattern
}()

type binaryExtractor struct {
	opts Options
}

func (b *binaryExtractor) Family() Family { return FamilyBinary }

func (b *binaryExtractor) Distance(x, y Descriptor) float64 {
	return HammingDistance(x, y)
}

type binPoint struct {
	kp    Keypoint
	level int
	lx    int
	ly    int
	angle float64 // radians
}

// fastThreshold is the intensity difference the segment test requires.
func (b *binaryExtractor) fastThreshold() float64 {
	if b.opts.MinResponse > 0 {
		return b.opts.MinResponse
	}
	return DefaultBinaryMinResponse
}

func (b *binaryExtractor) Extract(img image.Image) *Set {
	set := &Set{Family: FamilyBinary}
	gray := imaging.GrayPlane(img)
	if gray.Width < minImageSide || gray.Height < minImageSide || gray.Variance() < flatVariance {
		return set
	}

	levels := buildScalePyramid(gray)
	var points []binPoint
	for l, plane := range levels {
		sx := float64(gray.Width) / float64(plane.Width)
		sy := float64(gray.Height) / float64(plane.Height)
		for _, c := range detectFAST(plane, b.fastThreshold()) {
			angle := intensityCentroidAngle(plane, c.x, c.y)
			deg := angle * 180 / math.Pi
			if deg < 0 {
				deg += 360
			}
			if deg >= 360 {
				deg -= 360
			}
			points = append(points, binPoint{
				kp: Keypoint{
					X:        (float64(c.x)+0.5)*sx - 0.5,
					Y:        (float64(c.y)+0.5)*sy - 0.5,
					Size:     binPatchSize * sx,
					Angle:    deg,
					Response: c.score,
					Octave:   l,
				},
				level: l,
				lx:    c.x,
				ly:    c.y,
				angle: angle,
			})
		}
	}

	points = selectStrongest(points, func(p binPoint) Keypoint { return p.kp }, b.opts)

	smoothed := make([]*imaging.Plane, len(levels))
	set.Keypoints = make([]Keypoint, len(points))
	set.Descriptors = make([]Descriptor, len(points))
	for i, p := range points {
		if smoothed[p.level] == nil {
			smoothed[p.level] = imaging.GaussianBlur(levels[p.level], binBlurSigma)
		}
		set.Keypoints[i] = p.kp
		set.Descriptors[i] = Descriptor{Bits: briefDescriptor(smoothed[p.level], p)}
	}
	return set
}

// buildScalePyramid resamples the image by binScaleFactor per level until
// the patch no longer fits.
func buildScalePyramid(gray *imaging.Plane) []*imaging.Plane {
	levels := []*imaging.Plane{gray}
	minSide := 2*binBorder + 1
	for l := 1; l < binLevels; l++ {
		s := math.Pow(binScaleFactor, float64(l))
		w := int(math.Round(float64(gray.Width) / s))
		h := int(math.Round(float64(gray.Height) / s))
		if w < minSide || h < minSide {
			break
		}
		levels = append(levels, imaging.ResizePlane(gray, w, h))
	}
	return levels
}

type corner struct {
	x, y  int
	score float64
}

// detectFAST runs the 9-of-16 segment test and keeps corners that survive
// 3x3 non-maximum suppression on the segment score.
func detectFAST(p *imaging.Plane, threshold float64) []corner {
	w, h := p.Width, p.Height
	if w <= 2*binBorder || h <= 2*binBorder {
		return nil
	}
	scores := make([]float64, w*h)

	// Scan the band 1px wider than the border so suppression can see the
	// neighbours of every candidate.
	lo := binBorder - 1
	for y := lo; y < h-lo; y++ {
		for x := lo; x < w-lo; x++ {
			scores[y*w+x] = segmentScore(p, x, y, threshold)
		}
	}

	var out []corner
	for y := binBorder; y < h-binBorder; y++ {
		for x := binBorder; x < w-binBorder; x++ {
			s := scores[y*w+x]
			if s == 0 || !isLocalMax(scores, w, x, y, s) {
				continue
			}
			out = append(out, corner{x: x, y: y, score: s})
		}
	}
	return out
}

// isLocalMax keeps the first pixel of a plateau in raster order.
func isLocalMax(scores []float64, w, x, y int, s float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores[(y+dy)*w+x+dx]
			before := dy < 0 || (dy == 0 && dx < 0)
			if n > s || (before && n == s) {
				return false
			}
		}
	}
	return true
}

// segmentScore returns the mean absolute contrast of the circle pixels
// forming a contiguous arc of at least binArcLength pixels all brighter or
// all darker than the centre by more than threshold, or 0 when there is no
// such arc.
func segmentScore(p *imaging.Plane, x, y int, threshold float64) float64 {
	c := p.Pix[y*p.Width+x]
	var state [16]int8
	var diff [16]float64
	for i, off := range fastCircle {
		v := p.Pix[(y+off[1])*p.Width+x+off[0]]
		diff[i] = v - c
		switch {
		case v > c+threshold:
			state[i] = 1
		case v < c-threshold:
			state[i] = -1
		}
	}

	for _, want := range [2]int8{1, -1} {
		run, best := 0, 0
		for i := 0; i < 32; i++ {
			if state[i%16] == want {
				run++
				if run > best {
					best = run
				}
			} else {
				run = 0
			}
		}
		if best < binArcLength {
			continue
		}
		var sum float64
		var count int
		for i := range state {
			if state[i] == want {
				sum += math.Abs(diff[i])
				count++
			}
		}
		return sum / float64(count)
	}
	return 0
}

// intensityCentroidAngle returns the direction from the keypoint to the
// intensity centroid of the circular patch around it.
func intensityCentroidAngle(p *imaging.Plane, cx, cy int) float64 {
	var m01, m10 float64
	r2 := binHalfPatch * binHalfPatch
	for dy := -binHalfPatch; dy <= binHalfPatch; dy++ {
		for dx := -binHalfPatch; dx <= binHalfPatch; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			v := p.At(cx+dx, cy+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

// briefDescriptor compares the pattern's point pairs, rotated by the
// keypoint angle, on the smoothed pyramid level.
func briefDescriptor(smoothed *imaging.Plane, p binPoint) []uint64 {
	cosA := math.Cos(p.angle)
	sinA := math.Sin(p.angle)
	rotate := func(x, y int) (int, int) {
		fx, fy := float64(x), float64(y)
		return int(math.Round(fx*cosA - fy*sinA)), int(math.Round(fx*sinA + fy*cosA))
	}

	bits := make([]uint64, binWords)
	for i, pair := range briefPattern {
		x1, y1 := rotate(pair[0], pair[1])
		x2, y2 := rotate(pair[2], pair[3])
		if smoothed.At(p.lx+x1, p.ly+y1) < smoothed.At(p.lx+x2, p.ly+y2) {
			bits[i/64] |= 1 << uint(i%64)
		}
	}
	return bits
}
