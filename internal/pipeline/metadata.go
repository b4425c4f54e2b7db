package pipeline

import (
	"math"
	"path"
	"strings"

	"github.com/patrickamowe/image-processing-service/internal/domain"
)

const defaultStem = "image"

// BuildMetadata derives the record for a freshly written rendering. Only
// the name stem survives from prev; everything else is replaced. The
// compress flag reaches the record through sizeBytes.
func BuildMetadata(prev domain.ImageMetadata, rendered RenderedImage, sizeBytes int64) domain.ImageMetadata {
	return domain.ImageMetadata{
		ImageName:   Stem(prev.ImageName) + "." + rendered.Format.Extension(),
		ImageFormat: rendered.Format.MIME(),
		Extension:   rendered.Format.String(),
		ImageSizeKB: SizeKB(sizeBytes),
		Width:       rendered.Width,
		Height:      rendered.Height,
	}
}

// Stem strips the directory and extension from name.
func Stem(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		return defaultStem
	}
	return stem
}

// SizeKB converts bytes to kilobytes rounded to two decimals.
func SizeKB(sizeBytes int64) float64 {
	return math.Round(float64(sizeBytes)/1024*100) / 100
}
