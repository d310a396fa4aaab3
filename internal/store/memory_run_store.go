package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/webpmill/webpmill/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.Run),
	}
}

func (s *MemoryRunStore) Create(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (domain.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryRunStore) Finish(_ context.Context, id, status, skipReason string, targets []domain.TargetResult) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}

	run.Status = status
	run.SkipReason = skipReason
	run.Targets = targets
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return run, nil
}
