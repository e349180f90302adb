// Package orchestrator runs one job end to end: plan the query into
// subtasks, execute them concurrently, reflect on the results, and
// re-plan until the verdict is complete or the iteration budget is spent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fentz26/regent/internal/executor"
	"github.com/fentz26/regent/internal/models"
	"github.com/fentz26/regent/internal/oracle"
	"github.com/fentz26/regent/internal/queue"
	"github.com/fentz26/regent/internal/store"
)

// Config bounds a single job run.
type Config struct {
	// MaxWorkers caps concurrent subtask attempts within one job.
	MaxWorkers int
	// JobTimeout is the wall clock ceiling for one run.
	JobTimeout time.Duration
	// PollInterval is the drain loop wakeup when nothing is dispatchable.
	PollInterval time.Duration
}

// DefaultConfig returns the default orchestration limits.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:   4,
		JobTimeout:   10 * time.Minute,
		PollInterval: 100 * time.Millisecond,
	}
}

// Orchestrator coordinates the oracle, the executor, and the per-job
// subtask queue, writing job outcomes through the registry.
type Orchestrator struct {
	store  *store.Store
	oracle oracle.Oracle
	exec   *executor.Executor
	cfg    Config
}

// New creates an orchestrator. Zero config fields fall back to defaults.
func New(st *store.Store, o oracle.Oracle, exec *executor.Executor, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Orchestrator{store: st, oracle: o, exec: exec, cfg: cfg}
}

// Run executes job until it completes, fails, is cancelled, or exhausts
// maxIterations reflection rounds. The outcome is written to the registry;
// the returned error reports registry failures only.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job, maxIterations int) error {
	if maxIterations < 1 {
		maxIterations = 1
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	if err := o.store.MarkJobRunning(job.ID); err != nil {
		return fmt.Errorf("mark job %s running: %w", job.ID, err)
	}
	log.Printf("[orchestrator] job %s started: %q", job.ID, truncate(job.Query, 80))

	// Whatever happens below, the job must not stay running.
	iteration := 0
	settled := false
	defer func() {
		if settled {
			return
		}
		if err := o.store.FailJob(job.ID, "internal error", iteration); err != nil {
			log.Printf("[orchestrator] job %s: failsafe: %v", job.ID, err)
		}
	}()

	specs, err := o.oracle.Plan(ctx, job.Query)
	if err == nil && len(specs) == 0 {
		err = &oracle.PlanError{Err: oracle.ErrEmptyPlan}
	}
	if err != nil {
		// A cancel racing the planning call is a cancellation, not a bad plan.
		if ctxErr := ctx.Err(); ctxErr != nil {
			settled = true
			return o.store.FailJob(job.ID, haltReason(ctxErr), 0)
		}
		log.Printf("[orchestrator] job %s: planning failed: %v", job.ID, err)
		settled = true
		return o.store.FailJob(job.ID, "planning failed: "+planCause(err), 0)
	}

	q := queue.New(o.exec.MaxAttempts(), func() {
		if err := o.store.TouchJob(job.ID); err != nil {
			log.Printf("[orchestrator] job %s: touch: %v", job.ID, err)
		}
	})
	q.Enqueue(specs)
	log.Printf("[orchestrator] job %s: planned %d subtask(s)", job.ID, len(specs))

	for iteration = 1; ; iteration++ {
		if err := o.store.SetJobIterations(job.ID, iteration); err != nil {
			log.Printf("[orchestrator] job %s: set iterations: %v", job.ID, err)
		}

		if err := o.drain(ctx, q); err != nil {
			reason := haltReason(err)
			n := q.AbandonNonTerminal(reason)
			log.Printf("[orchestrator] job %s: %s, %d subtask(s) abandoned", job.ID, reason, n)
			settled = true
			return o.store.FailJob(job.ID, reason, iteration)
		}

		snap := q.Snapshot()
		verdict, err := o.oracle.Reflect(ctx, job.Query, subtaskPtrs(snap))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				reason := haltReason(ctxErr)
				q.AbandonNonTerminal(reason)
				settled = true
				return o.store.FailJob(job.ID, reason, iteration)
			}
			log.Printf("[orchestrator] job %s: reflection failed: %v", job.ID, err)
			settled = true
			return o.store.FailJob(job.ID, "reflection failed: "+err.Error(), iteration)
		}

		if verdict.Complete {
			result := verdict.Answer
			if result == "" {
				result = buildResponse(snap, verdict.Feedback)
			}
			log.Printf("[orchestrator] job %s completed after %d iteration(s)", job.ID, iteration)
			settled = true
			return o.store.CompleteJob(job.ID, result, iteration)
		}

		if len(verdict.Revised) == 0 {
			// The reflector sees nothing further to try. Close out with
			// whatever the finished subtasks gathered.
			log.Printf("[orchestrator] job %s: incomplete with no revisions, completing best effort", job.ID)
			settled = true
			return o.store.CompleteJob(job.ID, buildResponse(snap, verdict.Feedback), iteration)
		}

		if iteration >= maxIterations {
			log.Printf("[orchestrator] job %s: iteration budget (%d) spent", job.ID, maxIterations)
			settled = true
			return o.store.FailJob(job.ID, "max iterations exceeded", iteration)
		}

		ids := q.Replan(verdict.Revised)
		log.Printf("[orchestrator] job %s: replanned %d subtask(s) for round %d", job.ID, len(ids), iteration+1)
	}
}

// drain dispatches ready subtasks through the executor on a bounded worker
// pool until every subtask is terminal or ctx is done. In-flight attempts
// always run to completion; cancellation is honored at dispatch boundaries.
func (o *Orchestrator) drain(ctx context.Context, q *queue.Queue) error {
	sem := make(chan struct{}, o.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		if q.AllTerminal() {
			wg.Wait()
			return nil
		}

		sub, wait := q.NextReady()
		if sub == nil {
			// Attempts in flight or retries scheduled; wake for whichever
			// comes first.
			d := o.cfg.PollInterval
			if wait > 0 && wait < d {
				d = wait
			}
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		if err := q.MarkInProgress(sub.ID); err != nil {
			log.Printf("[orchestrator] claim subtask %d: %v", sub.ID, err)
			<-sem
			continue
		}

		wg.Add(1)
		go func(st models.Subtask) {
			defer wg.Done()
			defer func() { <-sem }()

			st.Status = models.SubtaskStatusInProgress
			out := o.exec.Execute(ctx, &st)
			o.record(q, st.ID, out)
		}(*sub)
	}
}

// record writes one attempt outcome into the queue.
func (o *Orchestrator) record(q *queue.Queue, id int, out executor.Outcome) {
	if out.Skipped {
		return
	}
	if out.Success() {
		if err := q.MarkSucceeded(id, out.Result); err != nil {
			log.Printf("[orchestrator] record subtask %d success: %v", id, err)
		}
		return
	}
	if err := q.MarkFailed(id, out.Err.Error(), out.Retryable, out.RetryAfter); err != nil {
		log.Printf("[orchestrator] record subtask %d failure: %v", id, err)
	}
}

// haltReason maps a context error to the job's final error message.
func haltReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "job timeout exceeded"
	}
	return "job cancelled"
}

// planCause strips the PlanError wrapper so the job error reads cleanly.
func planCause(err error) string {
	var pe *oracle.PlanError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

func subtaskPtrs(snap []models.Subtask) []*models.Subtask {
	out := make([]*models.Subtask, len(snap))
	for i := range snap {
		out[i] = &snap[i]
	}
	return out
}
