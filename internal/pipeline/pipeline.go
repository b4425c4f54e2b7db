// Package pipeline turns a transform request into a rendered image. Stages
// always run in the order given by Order, whatever the key order of the
// request.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/codec"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/pixel"
)

type Stage string

const (
	StageResize    Stage = "resize"
	StageCrop      Stage = "crop"
	StageRotate    Stage = "rotate"
	StageFilters   Stage = "filters"
	StageWatermark Stage = "watermark"
	StageMirror    Stage = "mirror"
	StageCompress  Stage = "compress"
	StageFlip      Stage = "flip"
	StageFormat    Stage = "format"
)

// Order is the stable execution order of the stages. Operations do not
// commute, so changing it changes results.
var Order = [...]Stage{
	StageResize,
	StageCrop,
	StageRotate,
	StageFilters,
	StageWatermark,
	StageMirror,
	StageCompress,
	StageFlip,
	StageFormat,
}

func (s Stage) Known() bool {
	for _, stage := range Order {
		if stage == s {
			return true
		}
	}
	return false
}

// RenderedImage is the in-memory output of one Apply call.
type RenderedImage struct {
	Image  image.Image
	Format codec.Format
	Width  int
	Height int
}

// StageObserver is told how long each executed stage took.
type StageObserver func(stage Stage, elapsed time.Duration)

type Option func(*Pipeline)

func WithStageObserver(observer StageObserver) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

type Pipeline struct {
	font     *pixel.Font
	observer StageObserver
}

// New builds a pipeline that draws watermarks with font. A nil font makes
// watermark requests fail with a font resource error.
func New(font *pixel.Font, opts ...Option) *Pipeline {
	p := &Pipeline{font: font}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply validates req and renders img through it. source is the encoding
// img was decoded from; it is kept when req has no format. The returned
// flag asks the encoder for lossy, size-reduced output.
func (p *Pipeline) Apply(ctx context.Context, img image.Image, source codec.Format, req domain.TransformRequest) (RenderedImage, bool, error) {
	plan, err := Parse(req)
	if err != nil {
		return RenderedImage{}, false, err
	}
	return p.Render(ctx, img, source, plan)
}

func (p *Pipeline) Render(ctx context.Context, img image.Image, source codec.Format, plan Plan) (RenderedImage, bool, error) {
	format := source
	if plan.Format != "" {
		format = plan.Format
	}
	if !format.Encodable() {
		return RenderedImage{}, false, apperr.UnsupportedFormat(string(format))
	}
	if plan.Has(StageWatermark) && p.font == nil {
		return RenderedImage{}, false, apperr.FontResource("watermark font is not configured", nil)
	}

	out := img
	for _, stage := range Order {
		if err := ctx.Err(); err != nil {
			return RenderedImage{}, false, err
		}
		if !plan.Has(stage) {
			continue
		}

		started := time.Now()
		next, err := p.runStage(stage, out, plan)
		if err != nil {
			return RenderedImage{}, false, fmt.Errorf("%s stage: %w", stage, err)
		}
		out = next
		if p.observer != nil {
			p.observer(stage, time.Since(started))
		}
	}

	bounds := out.Bounds()
	return RenderedImage{
		Image:  out,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, plan.Compress, nil
}

func (p *Pipeline) runStage(stage Stage, img image.Image, plan Plan) (image.Image, error) {
	switch stage {
	case StageResize:
		return pixel.Resize(img, plan.Resize.Width, plan.Resize.Height)
	case StageCrop:
		c := plan.Crop
		return pixel.Crop(img, c.X, c.Y, c.X+c.Width, c.Y+c.Height)
	case StageRotate:
		b := img.Bounds()
		if w, h := pixel.RotatedSize(b.Dx(), b.Dy(), *plan.Rotate); !codec.WithinLimits(w, h) {
			return nil, apperr.Validation("rotate", "rotated canvas "+codec.LimitMessage(w, h))
		}
		return pixel.Rotate(img, *plan.Rotate), nil
	case StageFilters:
		return pixel.Filter(img, *plan.Filters), nil
	case StageWatermark:
		return pixel.Watermark(img, *plan.Watermark, p.font)
	case StageMirror:
		return pixel.Mirror(img), nil
	case StageFlip:
		return pixel.Flip(img), nil
	case StageCompress, StageFormat:
		// Encoder settings only.
		return img, nil
	default:
		return nil, apperr.Validation(string(stage), "unknown transformation")
	}
}
