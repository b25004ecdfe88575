// Package testutil builds deterministic synthetic images for package
// tests.
package testutil

import (
	"image"
	"image/color"
	"math/rand"
)

// Scene paints a deterministic clutter of discs and rectangles
// over a smooth background so that both detector families find plenty of
// distinctive structure.
func Scene(width, height int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(60 + 100*x/width),
				G: uint8(80 + 90*y/height),
				B: 120,
				A: 255,
			})
		}
	}

	shapes := width * height / 300
	for n := 0; n < shapes; n++ {
		c := color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
		cx := rng.Intn(width)
		cy := rng.Intn(height)
		size := 3 + rng.Intn(14)
		if rng.Intn(2) == 0 {
			for y := cy - size; y <= cy+size; y++ {
				for x := cx - size; x <= cx+size; x++ {
					if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= size*size && image.Pt(x, y).In(img.Rect) {
						img.SetNRGBA(x, y, c)
					}
				}
			}
		} else {
			w := size + rng.Intn(10)
			for y := cy; y < cy+size; y++ {
				for x := cx; x < cx+w; x++ {
					if image.Pt(x, y).In(img.Rect) {
						img.SetNRGBA(x, y, c)
					}
				}
			}
		}
	}
	return img
}

// Uniform returns an image filled with c.
func Uniform(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
