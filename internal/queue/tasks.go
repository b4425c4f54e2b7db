package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// TypeRemoveStale deletes a file left behind when a transform moved an
// image to a new key but could not remove the old one.
const TypeRemoveStale = "image:remove_stale"

type RemoveStalePayload struct {
	ImageID     int64     `json:"image_id"`
	Key         string    `json:"key"`
	RequestedAt time.Time `json:"requested_at"`
}

func (p RemoveStalePayload) Validate() error {
	if p.ImageID <= 0 {
		return errors.New("image_id is required")
	}
	if strings.TrimSpace(p.Key) == "" {
		return errors.New("key is required")
	}
	return nil
}

// RemoveStaleTaskID is the task id used to deduplicate cleanup of key.
func RemoveStaleTaskID(key string) string {
	return TypeRemoveStale + ":" + key
}

func NewRemoveStaleTask(payload RemoveStalePayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remove_stale payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal remove_stale payload: %w", err)
	}
	return asynq.NewTask(TypeRemoveStale, body), nil
}

func ParseRemoveStalePayload(task *asynq.Task) (RemoveStalePayload, error) {
	var payload RemoveStalePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RemoveStalePayload{}, fmt.Errorf("unmarshal remove_stale payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return RemoveStalePayload{}, err
	}
	return payload, nil
}
