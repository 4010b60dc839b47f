package checkin

import (
	"context"
	"slices"
	"sync"
)

type Entry struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LocationID string `json:"locationId"`
	Format     string `json:"format"`
	Phase      string `json:"phase,omitempty"`
}

// Queued is an Entry waiting in the retry queue.
type Queued struct {
	ID    int64
	Entry Entry
}

type Visitor struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

type Progress struct {
	Visited []string `json:"visited"`
	Total   int      `json:"total"`
}

// Store persists the visitor, local progress and the retry queue between runs.
type Store interface {
	Visitor(ctx context.Context) (Visitor, bool, error)
	SaveVisitor(ctx context.Context, v Visitor) error
	Visited(ctx context.Context) ([]string, error)
	MarkVisited(ctx context.Context, slugs ...string) error
	Enqueue(ctx context.Context, e Entry) error
	Pending(ctx context.Context) ([]Queued, error)
	Remove(ctx context.Context, ids ...int64) error
}

type MemoryStore struct {
	mu      sync.Mutex
	visitor *Visitor
	visited []string
	queue   []Queued
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Visitor(context.Context) (Visitor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visitor == nil {
		return Visitor{}, false, nil
	}
	return *s.visitor, true, nil
}

func (s *MemoryStore) SaveVisitor(_ context.Context, v Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitor = &v
	return nil
}

func (s *MemoryStore) Visited(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.visited), nil
}

func (s *MemoryStore) MarkVisited(_ context.Context, slugs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slug := range slugs {
		if !slices.Contains(s.visited, slug) {
			s.visited = append(s.visited, slug)
		}
	}
	return nil
}

func (s *MemoryStore) Enqueue(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.queue = append(s.queue, Queued{ID: s.nextID, Entry: e})
	return nil
}

func (s *MemoryStore) Pending(context.Context) ([]Queued, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue), nil
}

func (s *MemoryStore) Remove(_ context.Context, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = slices.DeleteFunc(s.queue, func(q Queued) bool {
		return slices.Contains(ids, q.ID)
	})
	return nil
}
