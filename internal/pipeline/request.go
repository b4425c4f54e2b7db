package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
	"github.com/patrickamowe/image-processing-service/internal/codec"
	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/patrickamowe/image-processing-service/internal/pixel"
)

type ResizeParams struct {
	Width  int
	Height int
}

// CropParams is a box anchored at its top-left corner.
type CropParams struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Plan is a validated transform request. Nil or zero fields are stages
// that will not run.
type Plan struct {
	Resize    *ResizeParams
	Crop      *CropParams
	Rotate    *float64
	Filters   *pixel.Filters
	Watermark *string
	Mirror    bool
	Compress  bool
	Flip      bool
	Format    codec.Format
}

// Has reports whether stage does any work under this plan.
func (p Plan) Has(stage Stage) bool {
	switch stage {
	case StageResize:
		return p.Resize != nil
	case StageCrop:
		return p.Crop != nil
	case StageRotate:
		return p.Rotate != nil
	case StageFilters:
		return p.Filters != nil && !p.Filters.Empty()
	case StageWatermark:
		return p.Watermark != nil
	case StageMirror:
		return p.Mirror
	case StageCompress:
		return p.Compress
	case StageFlip:
		return p.Flip
	case StageFormat:
		return p.Format != ""
	default:
		return false
	}
}

// Stages lists the stages of the plan in execution order.
func (p Plan) Stages() []Stage {
	out := make([]Stage, 0, len(Order))
	for _, stage := range Order {
		if p.Has(stage) {
			out = append(out, stage)
		}
	}
	return out
}

// Parse validates every key of req before any pixel is touched. Unknown
// keys are rejected; a key whose value is JSON null is treated as absent.
func Parse(req domain.TransformRequest) (Plan, error) {
	keys := make([]string, 0, len(req))
	for key := range req {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var plan Plan
	for _, key := range keys {
		raw := bytes.TrimSpace(req[key])
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			if !Stage(key).Known() {
				return Plan{}, apperr.Validation(key, "unknown transformation")
			}
			continue
		}

		var err error
		switch Stage(key) {
		case StageResize:
			plan.Resize, err = parseResize(raw)
		case StageCrop:
			plan.Crop, err = parseCrop(raw)
		case StageRotate:
			plan.Rotate, err = parseRotate(raw)
		case StageFilters:
			plan.Filters, err = parseFilters(raw)
		case StageWatermark:
			plan.Watermark, err = parseWatermark(raw)
		case StageMirror:
			plan.Mirror, err = parseBool(key, raw)
		case StageCompress:
			plan.Compress, err = parseBool(key, raw)
		case StageFlip:
			plan.Flip, err = parseBool(key, raw)
		case StageFormat:
			plan.Format, err = parseFormat(raw)
		default:
			err = apperr.Validation(key, "unknown transformation")
		}
		if err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

func decodeStrict(key string, raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation(key, fmt.Sprintf("malformed parameters: %v", err))
	}
	if dec.More() {
		return apperr.Validation(key, "malformed parameters: trailing data")
	}
	return nil
}

func parseResize(raw []byte) (*ResizeParams, error) {
	var in struct {
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
	}
	if err := decodeStrict("resize", raw, &in); err != nil {
		return nil, err
	}
	width, err := wholeNumber("resize", "width", in.Width)
	if err != nil {
		return nil, err
	}
	height, err := wholeNumber("resize", "height", in.Height)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, apperr.Validation("resize", "width and height must be positive")
	}
	if !codec.WithinLimits(width, height) {
		return nil, apperr.Validation("resize", "target "+codec.LimitMessage(width, height))
	}
	return &ResizeParams{Width: width, Height: height}, nil
}

func parseCrop(raw []byte) (*CropParams, error) {
	var in struct {
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
	}
	if err := decodeStrict("crop", raw, &in); err != nil {
		return nil, err
	}

	values := make([]float64, 0, 4)
	for _, field := range []struct {
		name  string
		value *float64
	}{{"x", in.X}, {"y", in.Y}, {"width", in.Width}, {"height", in.Height}} {
		n, err := finiteNumber("crop", field.name, field.value)
		if err != nil {
			return nil, err
		}
		values = append(values, n)
	}
	x, y, width, height := values[0], values[1], values[2], values[3]
	if width <= 0 || height <= 0 {
		return nil, apperr.Validation("crop", "width and height must be positive")
	}

	// Each edge is rounded on its own.
	left, upper := roundEdge(x), roundEdge(y)
	right, lower := roundEdge(x+width), roundEdge(y+height)
	if left < 0 || upper < 0 {
		return nil, apperr.Validation("crop", "x and y must not be negative")
	}
	if right <= left || lower <= upper {
		return nil, apperr.Validation("crop", "width and height must cover at least one pixel")
	}
	return &CropParams{X: left, Y: upper, Width: right - left, Height: lower - upper}, nil
}

// parseRotate accepts a bare number or {"degree": n}.
func parseRotate(raw []byte) (*float64, error) {
	var degree *float64
	if raw[0] == '{' {
		var in struct {
			Degree *float64 `json:"degree"`
		}
		if err := decodeStrict("rotate", raw, &in); err != nil {
			return nil, err
		}
		degree = in.Degree
	} else {
		var n float64
		if err := decodeStrict("rotate", raw, &n); err != nil {
			return nil, err
		}
		degree = &n
	}
	if degree == nil {
		return nil, apperr.Validation("rotate", "degree is required")
	}
	if math.IsNaN(*degree) || math.IsInf(*degree, 0) {
		return nil, apperr.Validation("rotate", "degree must be finite")
	}
	return degree, nil
}

func parseFilters(raw []byte) (*pixel.Filters, error) {
	var filters pixel.Filters
	if err := decodeStrict("filters", raw, &filters); err != nil {
		return nil, err
	}
	return &filters, nil
}

// parseWatermark accepts a bare string or {"text": s}.
func parseWatermark(raw []byte) (*string, error) {
	var text string
	if raw[0] == '{' {
		var in struct {
			Text *string `json:"text"`
		}
		if err := decodeStrict("watermark", raw, &in); err != nil {
			return nil, err
		}
		if in.Text == nil {
			return nil, apperr.Validation("watermark", "text is required")
		}
		text = *in.Text
	} else if err := decodeStrict("watermark", raw, &text); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, apperr.Validation("watermark", "text must not be empty")
	}
	return &text, nil
}

func parseBool(key string, raw []byte) (bool, error) {
	var v bool
	if err := decodeStrict(key, raw, &v); err != nil {
		return false, err
	}
	return v, nil
}

func parseFormat(raw []byte) (codec.Format, error) {
	var name string
	if err := decodeStrict("format", raw, &name); err != nil {
		return "", err
	}
	return codec.Parse(name)
}

func wholeNumber(key, field string, v *float64) (int, error) {
	if v == nil {
		return 0, apperr.Validation(key, field+" is required")
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v != math.Trunc(*v) {
		return 0, apperr.Validation(key, field+" must be an integer")
	}
	if math.Abs(*v) > math.MaxInt32 {
		return 0, apperr.Validation(key, field+" is out of range")
	}
	return int(*v), nil
}

func finiteNumber(key, field string, v *float64) (float64, error) {
	if v == nil {
		return 0, apperr.Validation(key, field+" is required")
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, apperr.Validation(key, field+" must be a finite number")
	}
	if math.Abs(*v) > math.MaxInt32 {
		return 0, apperr.Validation(key, field+" is out of range")
	}
	return *v, nil
}

// roundEdge rounds half to even.
func roundEdge(v float64) int {
	return int(math.RoundToEven(v))
}
