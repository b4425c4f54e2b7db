// Package pixel implements the primitive image operations composed by the
// transform pipeline. Every function is pure: it returns a new image and
// never mutates its input.
package pixel

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
)

// Filters toggles the colour filters. Grayscale runs before sepia.
type Filters struct {
	Grayscale bool `json:"grayscale"`
	Sepia     bool `json:"sepia"`
}

func (f Filters) Empty() bool {
	return !f.Grayscale && !f.Sepia
}

// Resize scales img to exactly width x height. Aspect ratio is the
// caller's concern.
func Resize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, apperr.Validation("resize", fmt.Sprintf("width and height must be positive, got %dx%d", width, height))
	}
	return imaging.Resize(img, width, height, imaging.NearestNeighbor), nil
}

// Crop cuts the box (left, upper)-(right, lower), measured from the image's
// top-left corner. The box is clamped to the image; a box that falls
// entirely outside it is rejected.
func Crop(img image.Image, left, upper, right, lower int) (image.Image, error) {
	if left < 0 || upper < 0 {
		return nil, apperr.Validation("crop", fmt.Sprintf("origin (%d,%d) must not be negative", left, upper))
	}
	if right <= left || lower <= upper {
		return nil, apperr.Validation("crop", "width and height must be positive")
	}

	bounds := img.Bounds()
	rect := image.Rect(left, upper, right, lower).Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if rect.Empty() {
		return nil, apperr.Validation("crop", fmt.Sprintf("box %v lies outside the %dx%d image", image.Rect(left, upper, right, lower), bounds.Dx(), bounds.Dy()))
	}
	return imaging.Crop(img, rect), nil
}

// Rotate turns img counter-clockwise by degree. The canvas grows to hold
// the whole rotated image; uncovered corners are transparent.
func Rotate(img image.Image, degree float64) image.Image {
	return imaging.Rotate(img, degree, color.Transparent)
}

// RotatedSize is an upper bound of the canvas Rotate produces for a
// width x height image.
func RotatedSize(width, height int, degree float64) (int, int) {
	sin, cos := math.Sincos(math.Pi * degree / 180)
	sin, cos = math.Abs(sin), math.Abs(cos)
	w, h := float64(width), float64(height)
	return int(math.Ceil(w*cos+h*sin)) + 1, int(math.Ceil(w*sin+h*cos)) + 1
}

// Grayscale converts img to a single luminance channel. Alpha is dropped
// rather than composited, so transparent pixels keep their colour's
// luminance.
func Grayscale(img image.Image) *image.Gray {
	src := imaging.Clone(img)
	dst := image.NewGray(src.Rect)
	for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
		for x := src.Rect.Min.X; x < src.Rect.Max.X; x++ {
			i := src.PixOffset(x, y)
			r, g, b := uint32(src.Pix[i]), uint32(src.Pix[i+1]), uint32(src.Pix[i+2])
			dst.Pix[dst.PixOffset(x, y)] = uint8((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
		}
	}
	return dst
}

// Sepia applies the classic sepia matrix to every pixel. Channels are
// truncated and clamped to 255; alpha is kept.
func Sepia(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, sepiaTone)
}

func sepiaTone(c color.NRGBA) color.NRGBA {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)
	return color.NRGBA{
		R: clampChannel(0.393*r + 0.769*g + 0.189*b),
		G: clampChannel(0.349*r + 0.686*g + 0.168*b),
		B: clampChannel(0.272*r + 0.534*g + 0.131*b),
		A: c.A,
	}
}

func clampChannel(v float64) uint8 {
	n := int(v)
	if n > 255 {
		return 255
	}
	if n < 0 {
		return 0
	}
	return uint8(n)
}

func Filter(img image.Image, filters Filters) image.Image {
	out := img
	if filters.Grayscale {
		out = Grayscale(out)
	}
	if filters.Sepia {
		out = Sepia(out)
	}
	return out
}

// Mirror reflects img horizontally.
func Mirror(img image.Image) image.Image {
	return imaging.FlipH(img)
}

// Flip reflects img vertically.
func Flip(img image.Image) image.Image {
	return imaging.FlipV(img)
}
