package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/patrickamowe/image-processing-service/internal/apperr"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	// MaxPageNo keeps the row offset of the last page inside an int.
	MaxPageNo = math.MaxInt/MaxPageLimit + 1
)

// ImageMetadata describes the file currently stored for an image record.
type ImageMetadata struct {
	ImageName   string  `json:"image_name"`
	ImageFormat string  `json:"image_format"`
	Extension   string  `json:"extension"`
	ImageSizeKB float64 `json:"image_size_kb"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

// Image is a stored image record. URL is the storage key of its single
// live file.
type Image struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	URL       string        `json:"url"`
	Metadata  ImageMetadata `json:"meta_data"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TransformRequest maps an operation name to its raw JSON parameters.
// Execution order is fixed by the pipeline, never by key order.
type TransformRequest map[string]json.RawMessage

type ListQuery struct {
	PageNo    int
	PageLimit int
}

func (q ListQuery) Validate() error {
	if q.PageNo < 1 {
		return apperr.Validation("page_no", fmt.Sprintf("must be at least 1, got %d", q.PageNo))
	}
	if q.PageNo > MaxPageNo {
		return apperr.Validation("page_no", fmt.Sprintf("must be at most %d, got %d", MaxPageNo, q.PageNo))
	}
	if q.PageLimit < 1 || q.PageLimit > MaxPageLimit {
		return apperr.Validation("page_limit", fmt.Sprintf("must be between 1 and %d, got %d", MaxPageLimit, q.PageLimit))
	}
	return nil
}

func (q ListQuery) Offset() int {
	return (q.PageNo - 1) * q.PageLimit
}
