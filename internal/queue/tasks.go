package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

const TypeProcessImage = "image:process"

// ProcessImagePayload carries everything the worker needs to run one
// request. The source bytes live in blob storage under SourceKey.
type ProcessImagePayload struct {
	RecordID     string         `json:"record_id"`
	OwnerID      string         `json:"owner_id"`
	OriginalName string         `json:"original_name"`
	SourceKey    string         `json:"source_key"`
	Options      domain.Options `json:"options"`
	WebhookURL   string         `json:"webhook_url,omitempty"`
	RequestedAt  time.Time      `json:"requested_at"`
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	if payload.RecordID == "" || payload.SourceKey == "" {
		return nil, fmt.Errorf("%w: record id and source key are required", domain.ErrInvalidRequest)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
