package codec

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is a lowercase encoding name such as "jpeg" or "png".
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	WEBP Format = "webp"
)

// Canvas limits for decoded and rendered images.
const (
	MaxDimension = 16384
	MaxPixels    = 40_000_000
)

const (
	defaultJPEGQuality  = 95
	compressJPEGQuality = 50
)

type encodeFunc func(w io.Writer, img image.Image, compress bool) error

var encoders = map[Format]encodeFunc{
	JPEG: func(w io.Writer, img image.Image, compress bool) error {
		quality := defaultJPEGQuality
		if compress {
			quality = compressJPEGQuality
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	},
	PNG: func(w io.Writer, img image.Image, compress bool) error {
		level := png.DefaultCompression
		if compress {
			level = png.BestCompression
		}
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(level))
	},
	GIF: func(w io.Writer, img image.Image, _ bool) error {
		return imaging.Encode(w, img, imaging.GIF)
	},
	BMP: func(w io.Writer, img image.Image, _ bool) error {
		return imaging.Encode(w, img, imaging.BMP)
	},
	TIFF: func(w io.Writer, img image.Image, _ bool) error {
		return imaging.Encode(w, img, imaging.TIFF)
	},
}

var aliases = map[string]Format{
	"jpg": JPEG,
	"tif": TIFF,
}

// Parse normalises a user supplied format or extension and checks it
// against the encoders available in this build.
func Parse(name string) (Format, error) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	format := Format(normalized)
	if alias, ok := aliases[normalized]; ok {
		format = alias
	}
	if _, ok := encoders[format]; !ok {
		return "", apperr.UnsupportedFormat(name)
	}
	return format, nil
}

// FromExtension maps a file suffix to a known format without checking that
// the format can be encoded.
func FromExtension(ext string) (Format, bool) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if alias, ok := aliases[normalized]; ok {
		return alias, true
	}
	switch Format(normalized) {
	case JPEG, PNG, GIF, BMP, TIFF, WEBP:
		return Format(normalized), true
	default:
		return "", false
	}
}

func (f Format) String() string {
	return string(f)
}

// Extension is the file suffix, without the dot, written for f.
func (f Format) Extension() string {
	if f == JPEG {
		return "jpg"
	}
	return string(f)
}

func (f Format) MIME() string {
	return "image/" + string(f)
}

// Dispatch is the uppercase key used for encoder dispatch and logging.
func (f Format) Dispatch() string {
	return strings.ToUpper(string(f))
}

func (f Format) Encodable() bool {
	_, ok := encoders[f]
	return ok
}

// Supported lists the output formats of this build in lexical order.
func Supported() []Format {
	out := make([]Format, 0, len(encoders))
	for format := range encoders {
		out = append(out, format)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WithinLimits reports whether a width x height canvas may be allocated.
func WithinLimits(width, height int) bool {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return false
	}
	return width*height <= MaxPixels
}

// LimitMessage describes a rejected width x height canvas.
func LimitMessage(width, height int) string {
	return fmt.Sprintf("%dx%d exceeds the limit of %d pixels per side and %d pixels in total", width, height, MaxDimension, MaxPixels)
}

// Decode parses raw bytes into an image and reports the source encoding.
// The header is checked against the canvas limits before any pixel data is
// decoded.
func Decode(data []byte) (image.Image, Format, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperr.Decode(err)
	}
	if !WithinLimits(cfg.Width, cfg.Height) {
		return nil, "", apperr.Validation("file", "image "+LimitMessage(cfg.Width, cfg.Height))
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperr.Decode(err)
	}
	return img, Format(strings.ToLower(name)), nil
}

// Encode writes img in the given format. compress selects the lossy,
// size-reduced parameters where the format has them.
func Encode(w io.Writer, img image.Image, format Format, compress bool) error {
	encode, ok := encoders[format]
	if !ok {
		return apperr.UnsupportedFormat(string(format))
	}
	if err := encode(w, img, compress); err != nil {
		return fmt.Errorf("encode %s: %w", format.Dispatch(), err)
	}
	return nil
}

func EncodeBytes(img image.Image, format Format, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, compress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
