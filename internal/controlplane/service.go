// Package controlplane provides the HTTP API and service layer for Regent.
package controlplane

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/regent/internal/models"
	"github.com/fentz26/regent/internal/orchestrator"
	"github.com/fentz26/regent/internal/store"
)

// Iteration and pagination bounds exposed by the API.
const (
	DefaultMaxIterations = 3
	MaxIterationsCap     = 10
	DefaultListLimit     = 10
	MaxListLimit         = 100
)

// Limits overrides the API bounds. Zero fields keep the defaults.
type Limits struct {
	DefaultMaxIterations int
	MaxIterationsCap     int
}

// Service provides the control plane business logic: it owns job
// submission, lookup, and cancellation, and hands execution to the
// orchestrator. Every running job has a cancel func registered here so
// DELETE can reach it.
type Service struct {
	store  *store.Store
	orch   *orchestrator.Orchestrator
	limits Limits

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// wg tracks async job goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// NewService creates a new control plane service.
func NewService(st *store.Store, orch *orchestrator.Orchestrator, limits Limits) *Service {
	if limits.DefaultMaxIterations < 1 {
		limits.DefaultMaxIterations = DefaultMaxIterations
	}
	if limits.MaxIterationsCap < limits.DefaultMaxIterations {
		limits.MaxIterationsCap = MaxIterationsCap
	}
	return &Service{
		store:   st,
		orch:    orch,
		limits:  limits,
		cancels: make(map[string]context.CancelFunc),
	}
}

// SubmitQuery creates a job for query and executes it. Sync submissions
// block until the job is terminal and return the final record plus the
// elapsed run time; async submissions return the pending record
// immediately. Job contexts are detached from the HTTP request so a
// dropped client connection never kills a run; DELETE is the cancel path.
func (s *Service) SubmitQuery(query string, async bool, maxIterations int) (*models.Job, time.Duration, error) {
	if strings.TrimSpace(query) == "" {
		return nil, 0, ErrEmptyQuery
	}
	maxIterations = s.clampIterations(maxIterations)

	job, err := s.store.CreateJob(query)
	if err != nil {
		return nil, 0, err
	}

	ctx := s.register(job.ID)

	if async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.unregister(job.ID)
			if err := s.orch.Run(ctx, job, maxIterations); err != nil {
				log.Printf("[controlplane] job %s: %v", job.ID, err)
			}
		}()
		return job, 0, nil
	}

	start := time.Now()
	defer s.unregister(job.ID)
	if err := s.orch.Run(ctx, job, maxIterations); err != nil {
		return nil, 0, err
	}

	final, err := s.store.GetJob(job.ID)
	if err != nil {
		return nil, 0, err
	}
	if final == nil {
		return nil, 0, ErrNotFound
	}
	return final, time.Since(start), nil
}

// GetJob returns one job record.
func (s *Service) GetJob(id string) (*models.Job, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs most-recent-first. An empty status means no
// filter; limit and offset are clamped to the API bounds.
func (s *Service) ListJobs(status string, limit, offset int) ([]models.Job, error) {
	if status != "" && !models.JobStatus(status).Valid() {
		return nil, ErrBadStatus
	}
	if limit < 1 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListJobs(status, limit, offset)
}

// DeleteJob cancels a running job or removes a finished one. It returns
// "cancelling" when the job was running (the record stays and settles at
// the next loop boundary) and "deleted" when the record was removed.
func (s *Service) DeleteJob(id string) (string, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrNotFound
	}

	s.mu.Lock()
	cancel, active := s.cancels[id]
	s.mu.Unlock()
	if active {
		cancel()
		log.Printf("[controlplane] job %s: cancellation requested", id)
		return "cancelling", nil
	}

	if err := s.store.DeleteJob(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return "deleted", nil
}

// ActiveJobs returns the number of pending or running jobs.
func (s *Service) ActiveJobs() (int, error) {
	return s.store.CountActive()
}

// Ping reports database health.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shutdown cancels every in-flight job and waits for async runs to settle
// or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) clampIterations(n int) int {
	if n < 1 {
		return s.limits.DefaultMaxIterations
	}
	if n > s.limits.MaxIterationsCap {
		return s.limits.MaxIterationsCap
	}
	return n
}

func (s *Service) register(id string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
	return ctx
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		delete(s.cancels, id)
		cancel()
	}
	s.mu.Unlock()
}
