package pixel

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
)

func TestWatermarkDrawsNearAnchor(t *testing.T) {
	typeface, err := DefaultFont()
	if err != nil {
		t.Fatalf("default font: %v", err)
	}
	src := solid(600, 300, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	out, err := Watermark(src, "Hi", typeface)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if out.Bounds() != src.Bounds() {
		t.Fatalf("watermark changed bounds to %v", out.Bounds())
	}

	touched := false
	for y := 0; y < 300 && !touched; y++ {
		for x := 0; x < 600; x++ {
			r, _, _, _ := out.At(x, y).RGBA()
			if r>>8 < 255 {
				if x < watermarkX || y < watermarkY {
					t.Fatalf("ink at (%d,%d) is above or left of the anchor", x, y)
				}
				touched = true
				break
			}
		}
	}
	if !touched {
		t.Fatalf("watermark text was not drawn")
	}
	if c := src.NRGBAAt(150, 150); c.R != 255 {
		t.Fatalf("source image was mutated")
	}
}

func TestWatermarkKeepsGrayImagesGray(t *testing.T) {
	typeface, err := DefaultFont()
	if err != nil {
		t.Fatalf("default font: %v", err)
	}
	out, err := Watermark(image.NewGray(image.Rect(0, 0, 300, 300)), "x", typeface)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if _, ok := out.(*image.Gray); !ok {
		t.Fatalf("expected *image.Gray, got %T", out)
	}
}

func TestWatermarkWithoutFont(t *testing.T) {
	_, err := Watermark(solid(10, 10, color.NRGBA{A: 255}), "text", nil)
	if !errors.Is(err, apperr.ErrFontResource) {
		t.Fatalf("expected font resource error, got %v", err)
	}
}

func TestWatermarkRejectsEmptyText(t *testing.T) {
	typeface, err := DefaultFont()
	if err != nil {
		t.Fatalf("default font: %v", err)
	}
	_, err = Watermark(solid(10, 10, color.NRGBA{A: 255}), "  ", typeface)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadFontFileMissing(t *testing.T) {
	_, err := LoadFontFile(filepath.Join(t.TempDir(), "missing.ttf"), 0)
	if !errors.Is(err, apperr.ErrFontResource) {
		t.Fatalf("expected font resource error, got %v", err)
	}
}

func TestNewFontRejectsGarbage(t *testing.T) {
	_, err := NewFont([]byte("not a font"), 12)
	if !errors.Is(err, apperr.ErrFontResource) {
		t.Fatalf("expected font resource error, got %v", err)
	}
}
