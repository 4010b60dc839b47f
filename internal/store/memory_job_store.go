package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/flagbooth/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.RenderJob
	stats []domain.RenderStat
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.RenderJob),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.RenderJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status string, outputs []domain.RenderOutput, failure string) (domain.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.RenderJob{}, ErrJobNotFound
	}

	job.Status = status
	job.Outputs = slices.Clone(outputs)
	job.Error = failure
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) CreateRenderStat(_ context.Context, stat domain.RenderStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stat)
	return nil
}

// Stats returns a copy of the recorded render stats.
func (s *MemoryJobStore) Stats() []domain.RenderStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.stats)
}
