package features

import (
	"image"
	"math"

	"github.com/ironsheep/panorama-tools-mcp/internal/imaging"
)

const (
	gradIntervals      = 3   // DoG layers searched per octave
	gradSigma          = 1.6 // blur of the first layer of each octave
	gradInitSigma      = 0.5 // assumed blur of the input
	gradBorder         = 5
	gradMaxOctaves     = 8
	gradMaxInterpSteps = 5
	gradEdgeRatio      = 10.0

	gradOriBins         = 36
	gradOriSigmaFactor  = 1.5
	gradOriRadiusFactor = 3 * gradOriSigmaFactor
	gradOriPeakRatio    = 0.8

	gradDescWidth    = 4
	gradDescBins     = 8
	gradDescScale    = 3.0
	gradDescMagClip  = 0.2
	gradDescriptorSz = gradDescWidth * gradDescWidth * gradDescBins
)

type gradientExtractor struct {
	opts Options
}

func (g *gradientExtractor) Family() Family { return FamilyGradient }

func (g *gradientExtractor) Distance(a, b Descriptor) float64 {
	return EuclideanDistance(a, b)
}

// gradPoint is a keypoint together with the octave-local geometry needed to
// compute its descriptor.
type gradPoint struct {
	kp       Keypoint
	octave   int
	layer    int
	octX     float64
	octY     float64
	octSigma float64
	angle    float64 // radians
}

func (g *gradientExtractor) Extract(img image.Image) *Set {
	set := &Set{Family: FamilyGradient}
	gray := imaging.GrayPlane(img)
	if gray.Width < minImageSide || gray.Height < minImageSide || gray.Variance() < flatVariance {
		return set
	}

	gauss := buildGaussianPyramid(gray)
	dog := buildDoGPyramid(gauss)

	var points []gradPoint
	for o := range dog {
		points = append(points, g.findExtrema(gauss[o], dog[o], o)...)
	}

	points = selectStrongest(points, func(p gradPoint) Keypoint { return p.kp }, g.opts)

	set.Keypoints = make([]Keypoint, len(points))
	set.Descriptors = make([]Descriptor, len(points))
	for i, p := range points {
		set.Keypoints[i] = p.kp
		set.Descriptors[i] = Descriptor{Vec: gradientDescriptor(gauss[p.octave][p.layer], p)}
	}
	return set
}

// buildGaussianPyramid returns gradIntervals+3 progressively blurred layers
// per octave. Each octave starts from the layer of the previous octave that
// carries twice the base blur, downsampled by two.
func buildGaussianPyramid(gray *imaging.Plane) [][]*imaging.Plane {
	layers := gradIntervals + 3
	k := math.Pow(2, 1.0/gradIntervals)

	// Incremental blur between consecutive layers.
	steps := make([]float64, layers)
	for i := 1; i < layers; i++ {
		prev := gradSigma * math.Pow(k, float64(i-1))
		total := prev * k
		steps[i] = math.Sqrt(total*total - prev*prev)
	}

	base := imaging.GaussianBlur(gray, math.Sqrt(gradSigma*gradSigma-gradInitSigma*gradInitSigma))

	var pyr [][]*imaging.Plane
	for o := 0; o < gradMaxOctaves; o++ {
		var first *imaging.Plane
		if o == 0 {
			first = base
		} else {
			first = imaging.Downsample(pyr[o-1][gradIntervals])
		}
		if first.Width < minImageSide || first.Height < minImageSide {
			break
		}
		octave := make([]*imaging.Plane, layers)
		octave[0] = first
		for i := 1; i < layers; i++ {
			octave[i] = imaging.GaussianBlur(octave[i-1], steps[i])
		}
		pyr = append(pyr, octave)
	}
	return pyr
}

func buildDoGPyramid(gauss [][]*imaging.Plane) [][]*imaging.Plane {
	dog := make([][]*imaging.Plane, len(gauss))
	for o, octave := range gauss {
		dog[o] = make([]*imaging.Plane, len(octave)-1)
		for i := 0; i+1 < len(octave); i++ {
			dog[o][i] = imaging.Subtract(octave[i+1], octave[i])
		}
	}
	return dog
}

// findExtrema scans the inner DoG layers of one octave for local extrema
// over their 26 scale-space neighbours and refines each one.
func (g *gradientExtractor) findExtrema(gauss, dog []*imaging.Plane, octave int) []gradPoint {
	prefilter := 0.5 * g.opts.MinResponse
	if prefilter < 1e-6 {
		prefilter = 1e-6
	}

	var out []gradPoint
	w, h := dog[0].Width, dog[0].Height
	for layer := 1; layer <= gradIntervals; layer++ {
		cur := dog[layer]
		for y := gradBorder; y < h-gradBorder; y++ {
			for x := gradBorder; x < w-gradBorder; x++ {
				v := cur.Pix[y*w+x]
				if math.Abs(v) <= prefilter || !isExtremum(dog, layer, x, y, v) {
					continue
				}
				p, ok := g.refine(dog, octave, layer, x, y)
				if !ok {
					continue
				}
				out = append(out, orientations(gauss[p.layer], p)...)
			}
		}
	}
	return out
}

func isExtremum(dog []*imaging.Plane, layer, x, y int, v float64) bool {
	w := dog[layer].Width
	for dl := -1; dl <= 1; dl++ {
		pix := dog[layer+dl].Pix
		for dy := -1; dy <= 1; dy++ {
			row := (y + dy) * w
			for dx := -1; dx <= 1; dx++ {
				if dl == 0 && dy == 0 && dx == 0 {
					continue
				}
				n := pix[row+x+dx]
				if v > 0 && n > v {
					return false
				}
				if v < 0 && n < v {
					return false
				}
			}
		}
	}
	return true
}

// refine fits a quadratic to the DoG around a discrete extremum, moving the
// sample up to gradMaxInterpSteps times, and rejects low-contrast and
// edge-like responses.
func (g *gradientExtractor) refine(dog []*imaging.Plane, octave, layer, x, y int) (gradPoint, bool) {
	w, h := dog[0].Width, dog[0].Height
	var offset [3]float64
	var grad [3]float64

	step := 0
	for ; step < gradMaxInterpSteps; step++ {
		prev, cur, next := dog[layer-1], dog[layer], dog[layer+1]
		c := cur.At(x, y)

		grad = [3]float64{
			(cur.At(x+1, y) - cur.At(x-1, y)) * 0.5,
			(cur.At(x, y+1) - cur.At(x, y-1)) * 0.5,
			(next.At(x, y) - prev.At(x, y)) * 0.5,
		}
		dxx := cur.At(x+1, y) + cur.At(x-1, y) - 2*c
		dyy := cur.At(x, y+1) + cur.At(x, y-1) - 2*c
		dss := next.At(x, y) + prev.At(x, y) - 2*c
		dxy := (cur.At(x+1, y+1) - cur.At(x-1, y+1) - cur.At(x+1, y-1) + cur.At(x-1, y-1)) * 0.25
		dxs := (next.At(x+1, y) - next.At(x-1, y) - prev.At(x+1, y) + prev.At(x-1, y)) * 0.25
		dys := (next.At(x, y+1) - next.At(x, y-1) - prev.At(x, y+1) + prev.At(x, y-1)) * 0.25

		hess := [3][3]float64{
			{dxx, dxy, dxs},
			{dxy, dyy, dys},
			{dxs, dys, dss},
		}
		sol, ok := solve3(hess, grad)
		if !ok {
			return gradPoint{}, false
		}
		offset = [3]float64{-sol[0], -sol[1], -sol[2]}

		if math.Abs(offset[0]) < 0.5 && math.Abs(offset[1]) < 0.5 && math.Abs(offset[2]) < 0.5 {
			break
		}
		if math.Abs(offset[0]) > float64(w) || math.Abs(offset[1]) > float64(h) || math.Abs(offset[2]) > gradIntervals {
			return gradPoint{}, false
		}

		x += int(math.Round(offset[0]))
		y += int(math.Round(offset[1]))
		layer += int(math.Round(offset[2]))
		if layer < 1 || layer > gradIntervals ||
			x < gradBorder || x >= w-gradBorder || y < gradBorder || y >= h-gradBorder {
			return gradPoint{}, false
		}
	}
	if step >= gradMaxInterpSteps {
		return gradPoint{}, false
	}

	cur := dog[layer]
	contrast := cur.At(x, y) + 0.5*(grad[0]*offset[0]+grad[1]*offset[1]+grad[2]*offset[2])
	response := math.Abs(contrast)
	if response < g.opts.MinResponse {
		return gradPoint{}, false
	}

	// Principal curvature ratio on the 2x2 spatial Hessian.
	c := cur.At(x, y)
	dxx := cur.At(x+1, y) + cur.At(x-1, y) - 2*c
	dyy := cur.At(x, y+1) + cur.At(x, y-1) - 2*c
	dxy := (cur.At(x+1, y+1) - cur.At(x-1, y+1) - cur.At(x+1, y-1) + cur.At(x-1, y-1)) * 0.25
	tr := dxx + dyy
	det := dxx*dyy - dxy*dxy
	if det <= 0 || tr*tr*gradEdgeRatio >= (gradEdgeRatio+1)*(gradEdgeRatio+1)*det {
		return gradPoint{}, false
	}

	scale := math.Pow(2, float64(octave))
	octSigma := gradSigma * math.Pow(2, (float64(layer)+offset[2])/gradIntervals)
	octX := float64(x) + offset[0]
	octY := float64(y) + offset[1]

	return gradPoint{
		kp: Keypoint{
			X:        octX * scale,
			Y:        octY * scale,
			Size:     2 * octSigma * scale,
			Response: response,
			Octave:   octave,
		},
		octave:   octave,
		layer:    layer,
		octX:     octX,
		octY:     octY,
		octSigma: octSigma,
	}, true
}

// orientations builds a gradient orientation histogram around the keypoint
// and returns one copy of the keypoint per dominant direction.
func orientations(img *imaging.Plane, p gradPoint) []gradPoint {
	var hist [gradOriBins]float64

	cx := int(math.Round(p.octX))
	cy := int(math.Round(p.octY))
	sigma := gradOriSigmaFactor * p.octSigma
	radius := int(math.Round(gradOriRadiusFactor * p.octSigma))
	expScale := -1 / (2 * sigma * sigma)

	for i := -radius; i <= radius; i++ {
		y := cy + i
		if y <= 0 || y >= img.Height-1 {
			continue
		}
		for j := -radius; j <= radius; j++ {
			x := cx + j
			if x <= 0 || x >= img.Width-1 {
				continue
			}
			dx := img.At(x+1, y) - img.At(x-1, y)
			dy := img.At(x, y+1) - img.At(x, y-1)
			weight := math.Exp(float64(i*i+j*j) * expScale)
			ori := math.Atan2(dy, dx)
			bin := int(math.Round(ori*gradOriBins/(2*math.Pi))) % gradOriBins
			if bin < 0 {
				bin += gradOriBins
			}
			hist[bin] += weight * math.Hypot(dx, dy)
		}
	}

	// Circular [1 4 6 4 1] smoothing.
	var smooth [gradOriBins]float64
	for i := 0; i < gradOriBins; i++ {
		at := func(k int) float64 { return hist[((i+k)%gradOriBins+gradOriBins)%gradOriBins] }
		smooth[i] = (at(-2)+at(2))*(1.0/16) + (at(-1)+at(1))*(4.0/16) + at(0)*(6.0/16)
	}

	maxVal := 0.0
	for _, v := range smooth {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal == 0 {
		return nil
	}

	var out []gradPoint
	for i := 0; i < gradOriBins; i++ {
		l := smooth[(i+gradOriBins-1)%gradOriBins]
		r := smooth[(i+1)%gradOriBins]
		c := smooth[i]
		if c <= l || c <= r || c < gradOriPeakRatio*maxVal {
			continue
		}
		bin := float64(i) + 0.5*(l-r)/(l-2*c+r)
		if bin < 0 {
			bin += gradOriBins
		} else if bin >= gradOriBins {
			bin -= gradOriBins
		}
		angle := bin * 2 * math.Pi / gradOriBins

		q := p
		q.angle = angle
		q.kp.Angle = angle * 180 / math.Pi
		if q.kp.Angle >= 360 {
			q.kp.Angle -= 360
		}
		out = append(out, q)
	}
	return out
}

// gradientDescriptor accumulates a 4x4 grid of 8-bin orientation
// histograms in the keypoint's rotated frame with trilinear interpolation.
func gradientDescriptor(img *imaging.Plane, p gradPoint) []float32 {
	const d = gradDescWidth
	const n = gradDescBins

	cosT := math.Cos(p.angle)
	sinT := math.Sin(p.angle)
	binsPerRad := n / (2 * math.Pi)
	expScale := -1.0 / (d * d * 0.5)
	histWidth := gradDescScale * p.octSigma
	radius := int(math.Round(histWidth * math.Sqrt2 * (d + 1) * 0.5))
	if maxR := int(math.Hypot(float64(img.Width), float64(img.Height))); radius > maxR {
		radius = maxR
	}
	cosT /= histWidth
	sinT /= histWidth

	// Padded by one cell on each side so interpolation never branches.
	hist := make([]float64, (d+2)*(d+2)*n)
	cx := int(math.Round(p.octX))
	cy := int(math.Round(p.octY))

	for i := -radius; i <= radius; i++ {
		for j := -radius; j <= radius; j++ {
			cRot := float64(j)*cosT + float64(i)*sinT
			rRot := -float64(j)*sinT + float64(i)*cosT
			rbin := rRot + d/2 - 0.5
			cbin := cRot + d/2 - 0.5
			if rbin <= -1 || rbin >= d || cbin <= -1 || cbin >= d {
				continue
			}
			x := cx + j
			y := cy + i
			if x <= 0 || x >= img.Width-1 || y <= 0 || y >= img.Height-1 {
				continue
			}

			dx := img.At(x+1, y) - img.At(x-1, y)
			dy := img.At(x, y+1) - img.At(x, y-1)
			ori := math.Atan2(dy, dx) - p.angle
			for ori < 0 {
				ori += 2 * math.Pi
			}
			for ori >= 2*math.Pi {
				ori -= 2 * math.Pi
			}
			obin := ori * binsPerRad
			mag := math.Hypot(dx, dy) * math.Exp((cRot*cRot+rRot*rRot)*expScale)

			r0 := int(math.Floor(rbin))
			c0 := int(math.Floor(cbin))
			o0 := int(math.Floor(obin))
			fr := rbin - float64(r0)
			fc := cbin - float64(c0)
			fo := obin - float64(o0)

			for dr := 0; dr <= 1; dr++ {
				wr := 1 - fr
				if dr == 1 {
					wr = fr
				}
				for dc := 0; dc <= 1; dc++ {
					wc := 1 - fc
					if dc == 1 {
						wc = fc
					}
					for do := 0; do <= 1; do++ {
						wo := 1 - fo
						if do == 1 {
							wo = fo
						}
						ob := (o0 + do) % n
						idx := ((r0+1+dr)*(d+2)+(c0+1+dc))*n + ob
						hist[idx] += mag * wr * wc * wo
					}
				}
			}
		}
	}

	desc := make([]float64, 0, gradDescriptorSz)
	for r := 0; r < d; r++ {
		for c := 0; c < d; c++ {
			base := ((r+1)*(d+2) + (c + 1)) * n
			desc = append(desc, hist[base:base+n]...)
		}
	}

	var norm float64
	for _, v := range desc {
		norm += v * v
	}
	clip := math.Sqrt(norm) * gradDescMagClip
	norm = 0
	for i, v := range desc {
		if v > clip {
			v = clip
		}
		desc[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, gradDescriptorSz)
	if norm > 0 {
		for i, v := range desc {
			out[i] = float32(v / norm)
		}
	}
	return out
}

// solve3 solves a*x = b by Cramer's rule.
func solve3(a [3][3]float64, b [3]float64) ([3]float64, bool) {
	det := a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
	if math.Abs(det) < 1e-15 {
		return [3]float64{}, false
	}
	var x [3]float64
	for col := 0; col < 3; col++ {
		m := a
		for row := 0; row < 3; row++ {
			m[row][col] = b[row]
		}
		x[col] = (m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
			m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
			m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])) / det
	}
	return x, true
}
