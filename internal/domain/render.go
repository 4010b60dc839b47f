package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/flagbooth/internal/compose"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/geometry"
	"github.com/dunamismax/flagbooth/internal/gesture"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	OutputFull      = "full"
	OutputThumbnail = "thumbnail"

	maxGestureEvents = 10000
)

// CreateRenderRequest asks the service to frame one photo. Framing comes from
// an explicit transform, a recorded gesture log, or the default cover fit.
type CreateRenderRequest struct {
	SourceType   string              `json:"source_type"`
	ObjectKey    string              `json:"object_key,omitempty"`
	Location     string              `json:"location"`
	Format       string              `json:"format"`
	Transform    *geometry.Transform `json:"transform,omitempty"`
	Gestures     []gesture.Event     `json:"gestures,omitempty"`
	OutputFormat string              `json:"output_format,omitempty"`
	Quality      int                 `json:"quality,omitempty"`
	WebhookURL   string              `json:"webhook_url,omitempty"`
}

type RenderOutput struct {
	Kind   string `json:"kind"`
	Format string `json:"format"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type RenderJob struct {
	ID           string
	Status       string
	SourceType   string
	WebhookURL   string
	ObjectKey    string
	Location     string
	Format       string
	Transform    *geometry.Transform
	Gestures     []gesture.Event
	OutputFormat string
	Quality      int
	Outputs      []RenderOutput
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RenderStat is the accounting record written for every successful render.
type RenderStat struct {
	JobID          string
	Location       string
	Format         string
	PixelsRendered int64
	OutputBytes    int64
	ComputeTimeMS  int64
	CreatedAt      time.Time
}

func (r CreateRenderRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if strings.TrimSpace(r.Location) == "" {
		return errors.New("location is required")
	}
	if _, err := frame.ParseFormat(r.Format); err != nil {
		return err
	}
	if strings.TrimSpace(r.OutputFormat) != "" && compose.NormalizeFormat(r.OutputFormat) == "" {
		return fmt.Errorf("unsupported output_format: %s", r.OutputFormat)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return errors.New("quality must be between 0 and 100")
	}
	if r.Transform != nil && len(r.Gestures) > 0 {
		return errors.New("transform and gestures are mutually exclusive")
	}
	if r.Transform != nil && r.Transform.Scale <= 0 {
		return errors.New("transform.scale must be positive")
	}
	if len(r.Gestures) > maxGestureEvents {
		return fmt.Errorf("gestures may contain at most %d events", maxGestureEvents)
	}
	for i, e := range r.Gestures {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("gestures[%d]: %w", i, err)
		}
	}
	return nil
}
