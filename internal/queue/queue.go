// Package queue owns the canonical subtask list for one job and its state
// machine. It is the single source of truth for a running job's progress;
// the executor and orchestrator never record state anywhere else.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/regent/internal/models"
)

// ErrNotFound indicates an unknown subtask id.
var ErrNotFound = errors.New("subtask not found")

// ErrTerminal indicates an attempted transition on a subtask that already
// reached a terminal status. Callers treat this as a logic error.
var ErrTerminal = errors.New("subtask already terminal")

// Stats summarizes subtask states. Total counts every subtask ever enqueued;
// the queue never deletes entries, so the per-state counts always sum to it.
type Stats struct {
	Queued     int
	InProgress int
	Succeeded  int
	Failed     int
	Abandoned  int
	Total      int
}

// Queue holds the subtasks of a single job. All mutation is serialized by
// one mutex, which is the per-job locking the concurrency model requires.
type Queue struct {
	mu          sync.Mutex
	subtasks    map[int]*models.Subtask
	order       []int
	nextID      int
	maxAttempts int
	now         func() time.Time

	// onTransition, when non-nil, runs after every recorded state change.
	// The orchestrator wires it to bump the parent job's updated_at. It must
	// not call back into the queue.
	onTransition func()
}

// New creates an empty queue. maxAttempts bounds execution attempts per
// subtask; reaching it on a retryable failure forces the failed state.
func New(maxAttempts int, onTransition func()) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		subtasks:     make(map[int]*models.Subtask),
		nextID:       1,
		maxAttempts:  maxAttempts,
		now:          time.Now,
		onTransition: onTransition,
	}
}

// SetClock overrides the queue's time source for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Enqueue adds one queued subtask per spec and returns the assigned ids.
// Ids carried on the specs are advisory planner output; the queue always
// assigns its own to keep ids unique within the job.
func (q *Queue) Enqueue(specs []models.SubtaskSpec) []int {
	q.mu.Lock()
	ids := make([]int, 0, len(specs))
	for _, spec := range specs {
		id := q.nextID
		q.nextID++
		q.subtasks[id] = &models.Subtask{
			ID:          id,
			Description: spec.Description,
			Tool:        spec.Tool,
			Status:      models.SubtaskStatusQueued,
			Supersedes:  spec.Supersedes,
		}
		q.order = append(q.order, id)
		ids = append(ids, id)
	}
	q.mu.Unlock()

	if len(ids) > 0 {
		q.notify()
	}
	return ids
}

// NextReady returns a copy of the lowest-id queued subtask whose retry
// timestamp has passed. When nothing is dispatchable it returns nil plus
// the wait until the earliest scheduled retry (zero when no queued subtask
// remains at all).
func (q *Queue) NextReady() (*models.Subtask, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var wait time.Duration
	for _, id := range q.order {
		st := q.subtasks[id]
		if st.Status != models.SubtaskStatusQueued {
			continue
		}
		if st.NextAttemptAt.IsZero() || !st.NextAttemptAt.After(now) {
			cp := *st
			return &cp, 0
		}
		if d := st.NextAttemptAt.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return nil, wait
}

// MarkInProgress transitions a queued subtask to in_progress. The state
// machine guarantees at most one attempt is in flight per subtask: only a
// queued subtask can be dispatched.
func (q *Queue) MarkInProgress(id int) error {
	q.mu.Lock()
	err := q.transitionLocked(id, models.SubtaskStatusInProgress, func(st *models.Subtask) {
		st.NextAttemptAt = time.Time{}
	})
	q.mu.Unlock()

	if err == nil {
		q.notify()
	}
	return err
}

// MarkSucceeded records a successful attempt and its normalized result.
func (q *Queue) MarkSucceeded(id int, result *models.ToolResult) error {
	q.mu.Lock()
	err := q.transitionLocked(id, models.SubtaskStatusSucceeded, func(st *models.Subtask) {
		st.Attempts++
		st.Result = result
		st.LastError = ""
	})
	q.mu.Unlock()

	if err == nil {
		q.notify()
	}
	return err
}

// MarkFailed records a failed attempt. Retryable failures requeue the
// subtask with a scheduled retry timestamp until the attempt budget is
// spent; everything else is terminal.
func (q *Queue) MarkFailed(id int, reason string, retryable bool, retryAfter time.Duration) error {
	q.mu.Lock()

	st, ok := q.subtasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	target := models.SubtaskStatusFailed
	if retryable && st.Attempts+1 < q.maxAttempts {
		target = models.SubtaskStatusQueued
	}

	err := q.transitionLocked(id, target, func(st *models.Subtask) {
		st.Attempts++
		st.LastError = reason
		if target == models.SubtaskStatusQueued {
			st.NextAttemptAt = q.now().Add(retryAfter)
		} else if retryable {
			st.LastError = reason + " (retries exhausted)"
		}
	})
	q.mu.Unlock()

	if err == nil {
		q.notify()
	}
	return err
}

// Replan applies a revised subtask list from a reflection round. Specs that
// supersede a live subtask mark it abandoned first; the replacement link is
// recorded on both sides. Returns the ids of the newly enqueued subtasks.
func (q *Queue) Replan(specs []models.SubtaskSpec) []int {
	q.mu.Lock()

	changed := false
	ids := make([]int, 0, len(specs))
	for _, spec := range specs {
		id := q.nextID
		q.nextID++

		if old, ok := q.subtasks[spec.Supersedes]; ok {
			if !old.Status.Terminal() {
				old.Status = models.SubtaskStatusAbandoned
			}
			old.SupersededBy = id
			changed = true
		}

		q.subtasks[id] = &models.Subtask{
			ID:          id,
			Description: spec.Description,
			Tool:        spec.Tool,
			Status:      models.SubtaskStatusQueued,
			Supersedes:  spec.Supersedes,
		}
		q.order = append(q.order, id)
		ids = append(ids, id)
		changed = true
	}
	q.mu.Unlock()

	if changed {
		q.notify()
	}
	return ids
}

// AbandonNonTerminal abandons every queued or in_progress subtask, recording
// the reason. Used at cancellation loop boundaries. Returns how many
// subtasks were abandoned.
func (q *Queue) AbandonNonTerminal(reason string) int {
	q.mu.Lock()

	n := 0
	for _, id := range q.order {
		st := q.subtasks[id]
		if st.Status.Terminal() {
			continue
		}
		st.Status = models.SubtaskStatusAbandoned
		st.LastError = reason
		n++
	}
	q.mu.Unlock()

	if n > 0 {
		q.notify()
	}
	return n
}

// AllTerminal reports whether every subtask has reached a terminal status.
func (q *Queue) AllTerminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, st := range q.subtasks {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// PendingCount returns the number of subtasks not yet terminal.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, st := range q.subtasks {
		if !st.Status.Terminal() {
			n++
		}
	}
	return n
}

// Get returns a copy of one subtask.
func (q *Queue) Get(id int) (models.Subtask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.subtasks[id]
	if !ok {
		return models.Subtask{}, false
	}
	return *st, true
}

// Snapshot returns copies of all subtasks in enqueue order.
func (q *Queue) Snapshot() []models.Subtask {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.Subtask, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.subtasks[id])
	}
	return out
}

// Stats returns per-state counts plus the total ever enqueued.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: len(q.subtasks)}
	for _, st := range q.subtasks {
		switch st.Status {
		case models.SubtaskStatusQueued:
			s.Queued++
		case models.SubtaskStatusInProgress:
			s.InProgress++
		case models.SubtaskStatusSucceeded:
			s.Succeeded++
		case models.SubtaskStatusFailed:
			s.Failed++
		case models.SubtaskStatusAbandoned:
			s.Abandoned++
		}
	}
	return s
}

// transitionLocked validates and applies one state change. Callers hold the
// mutex. mutate runs after the status is set.
func (q *Queue) transitionLocked(id int, to models.SubtaskStatus, mutate func(*models.Subtask)) error {
	st, ok := q.subtasks[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if st.Status.Terminal() {
		return fmt.Errorf("%w: subtask %d is %s", ErrTerminal, id, st.Status)
	}
	if err := ValidateTransition(st.Status, to); err != nil {
		return err
	}

	st.Status = to
	if mutate != nil {
		mutate(st)
	}
	return nil
}

func (q *Queue) notify() {
	if q.onTransition != nil {
		q.onTransition()
	}
}
