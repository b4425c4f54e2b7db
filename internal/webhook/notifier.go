package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/patrickamowe/image-processing-service/internal/domain"
	"github.com/rs/zerolog"
)

const (
	EventImageUploaded    = "image.uploaded"
	EventImageTransformed = "image.transformed"
)

type ImageEvent struct {
	ImageID    int64                `json:"image_id"`
	UserID     int64                `json:"user_id"`
	URL        string               `json:"url"`
	Metadata   domain.ImageMetadata `json:"meta_data"`
	OccurredAt time.Time            `json:"occurred_at"`
}

func NewImageEvent(img domain.Image) ImageEvent {
	return ImageEvent{
		ImageID:    img.ID,
		UserID:     img.UserID,
		URL:        img.URL,
		Metadata:   img.Metadata,
		OccurredAt: time.Now().UTC(),
	}
}

type sender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Notifier delivers image events in the background. A nil Notifier or one
// without an endpoint drops events.
type Notifier struct {
	client   sender
	endpoint string
	timeout  time.Duration
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewNotifier(client sender, endpoint string, timeout time.Duration, logger zerolog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Notifier{
		client:   client,
		endpoint: endpoint,
		timeout:  timeout,
		logger:   logger,
	}
}

// Notify returns immediately. Delivery outlives the request context and
// failures are only logged.
func (n *Notifier) Notify(ctx context.Context, event string, payload ImageEvent) {
	if n == nil || n.client == nil || n.endpoint == "" {
		return
	}

	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := n.client.Send(sendCtx, n.endpoint, event, payload); err != nil {
			n.logger.Warn().Err(err).Str("event", event).Int64("image_id", payload.ImageID).Msg("webhook delivery failed")
			return
		}
		n.logger.Debug().Str("event", event).Int64("image_id", payload.ImageID).Msg("webhook delivered")
	}()
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
