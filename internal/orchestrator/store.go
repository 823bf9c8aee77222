package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Actionrun/internal/domain"
	"github.com/shaiso/Actionrun/internal/repo"
)

// Store — хранилище статусов runs.
//
// Реализации: MemoryStore (один процесс) и repo.PlanRunRepo (PostgreSQL,
// нужен, когда планы выполняют отдельные воркеры).
// Get и List возвращают копии: изменения не видны хранилищу до Update.
type Store interface {
	Create(ctx context.Context, run *domain.PlanRun) error
	Get(ctx context.Context, id uuid.UUID) (*domain.PlanRun, error)
	Update(ctx context.Context, run *domain.PlanRun) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlanRun, error)
}

var _ Store = (*repo.PlanRunRepo)(nil)

// MemoryStore — хранилище статусов в памяти процесса.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.PlanRun
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]*domain.PlanRun)}
}

// Create сохраняет копию run.
func (s *MemoryStore) Create(_ context.Context, run *domain.PlanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: run %s", repo.ErrAlreadyExists, run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get возвращает копию run.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.PlanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, repo.ErrNotFound
	}
	return run.Clone(), nil
}

// Update заменяет сохранённый run копией.
func (s *MemoryStore) Update(_ context.Context, run *domain.PlanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return repo.ErrNotFound
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Delete удаляет run.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return repo.ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

// List возвращает копии runs по фильтру, новые первыми.
func (s *MemoryStore) List(_ context.Context, filter domain.RunFilter) ([]*domain.PlanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*domain.PlanRun, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Match(run) {
			runs = append(runs, run.Clone())
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// Len возвращает количество сохранённых runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// translateStoreErr приводит ошибку хранилища к ошибке оркестратора.
func translateStoreErr(id uuid.UUID, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return err
}
