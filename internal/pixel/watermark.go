package pixel

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultFontSize = 100

	watermarkX = 100
	watermarkY = 100
)

var watermarkInk = color.Gray{Y: 100}

// Font is a parsed typeface at a fixed point size. It is safe for
// concurrent use; each render builds its own face.
type Font struct {
	face *opentype.Font
	size float64
}

func NewFont(ttf []byte, size float64) (*Font, error) {
	if size <= 0 {
		size = DefaultFontSize
	}
	parsed, err := opentype.Parse(ttf)
	if err != nil {
		return nil, apperr.FontResource("parse watermark font", err)
	}
	return &Font{face: parsed, size: size}, nil
}

func LoadFontFile(path string, size float64) (*Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.FontResource("read watermark font "+path, err)
	}
	return NewFont(data, size)
}

// DefaultFont is Go Regular, compiled into the binary.
func DefaultFont() (*Font, error) {
	return NewFont(goregular.TTF, DefaultFontSize)
}

func (f *Font) Size() float64 {
	if f == nil {
		return 0
	}
	return f.size
}

func (f *Font) newFace() (font.Face, error) {
	if f == nil || f.face == nil {
		return nil, apperr.FontResource("watermark font is not configured", nil)
	}
	face, err := opentype.NewFace(f.face, &opentype.FaceOptions{
		Size:    f.size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, apperr.FontResource("build watermark face", err)
	}
	return face, nil
}

// Watermark draws text with its top-left corner at (100,100). Gray images
// stay single channel.
func Watermark(img image.Image, text string, typeface *Font) (image.Image, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("watermark", "text must not be empty")
	}
	face, err := typeface.newFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	bounds := img.Bounds()
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	}
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(watermarkInk),
		Face: face,
		Dot:  fixed.P(watermarkX, watermarkY+face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)

	return dst, nil
}
