package store

import (
	"context"

	"github.com/dunamismax/flagbooth/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.RenderJob) error
	Get(ctx context.Context, id string) (domain.RenderJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.RenderJob, error)
	// Finish records the terminal status together with outputs or a failure message.
	Finish(ctx context.Context, id, status string, outputs []domain.RenderOutput, failure string) (domain.RenderJob, error)
}

type StatsStore interface {
	CreateRenderStat(ctx context.Context, stat domain.RenderStat) error
}
