package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// MemStore is the in-memory job store used when no database is configured
// and throughout the test suite. Same contract as JobStore, no durability.
type MemStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*models.Job)}
}

func (s *MemStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	created := now
	if existing, ok := s.jobs[job.ID]; ok {
		created = existing.CreatedAt
	}
	s.jobs[job.ID] = &models.Job{
		ID:        job.ID,
		ImageRef:  job.ImageRef,
		State:     models.StatePending,
		Progress:  models.StatePending.Progress(),
		CreatedAt: created,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemStore) SetState(_ context.Context, jobID string, state models.JobState, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.State = state
	job.Progress = state.Progress()
	job.Error = cause
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) SaveReceipt(_ context.Context, jobID string, receipt *models.ReconciledReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Receipt = receipt
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *MemStore) ListJobs(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, jobID)
	return nil
}
