package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/gesture"
	"github.com/hibiken/asynq"
)

const TypeRenderComposite = "render:composite"

type RenderPayload struct {
	JobID        string              `json:"job_id"`
	SourceType   string              `json:"source_type"`
	WebhookURL   string              `json:"webhook_url,omitempty"`
	ObjectKey    string              `json:"object_key"`
	Location     string              `json:"location"`
	Format       string              `json:"format"`
	Transform    *geometry.Transform `json:"transform,omitempty"`
	Gestures     []gesture.Event     `json:"gestures,omitempty"`
	OutputFormat string              `json:"output_format,omitempty"`
	Quality      int                 `json:"quality,omitempty"`
	RequestedAt  time.Time           `json:"requested_at"`
}

func NewRenderTask(payload RenderPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderComposite, body), nil
}

func ParseRenderPayload(task *asynq.Task) (RenderPayload, error) {
	var payload RenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	return payload, nil
}
