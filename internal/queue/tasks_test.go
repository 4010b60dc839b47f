package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/gesture"
)

func TestRenderTaskRoundTrip(t *testing.T) {
	payload := RenderPayload{
		JobID:      "job-123",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job-123/source",
		Location:   "west-end",
		Format:     "story",
		Gestures: []gesture.Event{
			{Kind: gesture.EventDown, Pointer: 1, X: 500, Y: 600},
			{Kind: gesture.EventMove, Pointer: 1, X: 540, Y: 600},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewRenderTask(payload)
	if err != nil {
		t.Fatalf("NewRenderTask returned error: %v", err)
	}
	if task.Type() != TypeRenderComposite {
		t.Fatalf("expected task type %q, got %q", TypeRenderComposite, task.Type())
	}

	parsed, err := ParseRenderPayload(task)
	if err != nil {
		t.Fatalf("ParseRenderPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if len(parsed.Gestures) != 2 || parsed.Gestures[1].X != 540 {
		t.Fatalf("unexpected gestures %+v", parsed.Gestures)
	}
	if parsed.Transform != nil {
		t.Fatalf("expected no transform, got %+v", parsed.Transform)
	}

	payload.Gestures = nil
	payload.Transform = &geometry.Transform{OffsetX: -10, OffsetY: 5, Scale: 0.5}
	task, err = NewRenderTask(payload)
	if err != nil {
		t.Fatalf("NewRenderTask returned error: %v", err)
	}
	parsed, err = ParseRenderPayload(task)
	if err != nil {
		t.Fatalf("ParseRenderPayload returned error: %v", err)
	}
	if parsed.Transform == nil || *parsed.Transform != *payload.Transform {
		t.Fatalf("unexpected transform %+v", parsed.Transform)
	}
}
