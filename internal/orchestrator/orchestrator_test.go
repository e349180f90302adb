package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/regent/internal/executor"
	"github.com/fentz26/regent/internal/models"
	"github.com/fentz26/regent/internal/oracle"
	"github.com/fentz26/regent/internal/store"
	"github.com/fentz26/regent/internal/tools"
)

// fakeOracle feeds scripted plans and verdicts to the orchestrator.
type fakeOracle struct {
	mu           sync.Mutex
	plan         []models.SubtaskSpec
	planErr      error
	verdicts     []*oracle.Verdict
	reflectErr   error
	planCalls    int
	reflectCalls int
}

func (f *fakeOracle) Plan(ctx context.Context, query string) ([]models.SubtaskSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	if f.planErr != nil {
		return nil, f.planErr
	}
	return f.plan, nil
}

func (f *fakeOracle) Reflect(ctx context.Context, query string, subtasks []*models.Subtask) (*oracle.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reflectCalls++
	if f.reflectErr != nil {
		return nil, f.reflectErr
	}
	v := f.verdicts[0]
	if len(f.verdicts) > 1 {
		f.verdicts = f.verdicts[1:]
	}
	return v, nil
}

// scriptedDispatcher fails a description a fixed number of times before
// answering, recording every attempt it observes.
type scriptedDispatcher struct {
	mu           sync.Mutex
	failuresLeft map[string]int
	failWith     error
	results      map[string]string
	delay        time.Duration
	calls        int
	completed    int
	attemptsSeen []int
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, sub *models.Subtask) (*models.ToolResult, error) {
	d.mu.Lock()
	d.calls++
	d.attemptsSeen = append(d.attemptsSeen, sub.Attempts)
	if n := d.failuresLeft[sub.Description]; n > 0 {
		d.failuresLeft[sub.Description] = n - 1
		err := d.failWith
		d.mu.Unlock()
		return nil, err
	}
	content := d.results[sub.Description]
	delay := d.delay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	d.mu.Lock()
	d.completed++
	d.mu.Unlock()

	if content == "" {
		content = "ok"
	}
	return &models.ToolResult{Content: content, Metadata: map[string]string{"tool": "fake"}}, nil
}

func newTestOrchestrator(t *testing.T, fo oracle.Oracle, d executor.Dispatcher) (*Orchestrator, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exec := executor.New(d, executor.Config{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		AttemptTimeout: time.Second,
	})
	o := New(st, fo, exec, Config{
		MaxWorkers:   2,
		JobTimeout:   5 * time.Second,
		PollInterval: 2 * time.Millisecond,
	})
	return o, st
}

func mustCreateJob(t *testing.T, st *store.Store, query string) *models.Job {
	t.Helper()
	job, err := st.CreateJob(query)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	return job
}

func mustGetJob(t *testing.T, st *store.Store, id string) *models.Job {
	t.Helper()
	job, err := st.GetJob(id)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job == nil {
		t.Fatalf("Job %s vanished", id)
	}
	return job
}

func TestRunSimpleQueryCompletes(t *testing.T) {
	fo := &fakeOracle{
		plan:     []models.SubtaskSpec{{ID: 1, Description: "2+2", Tool: "calculator"}},
		verdicts: []*oracle.Verdict{{Complete: true}},
	}
	d := &scriptedDispatcher{results: map[string]string{"2+2": "4"}}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "calculate 2+2")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (error %q)", got.Status, got.Error)
	}
	if !strings.Contains(got.Result, "4") {
		t.Errorf("Result should contain the computed value, got %q", got.Result)
	}
	if got.Error != "" {
		t.Errorf("Completed job must not carry an error, got %q", got.Error)
	}
	if got.Iterations != 1 {
		t.Errorf("Expected 1 iteration, got %d", got.Iterations)
	}
	if d.calls != 1 {
		t.Errorf("Expected 1 dispatch, got %d", d.calls)
	}
}

func TestRunVerdictAnswerWins(t *testing.T) {
	fo := &fakeOracle{
		plan:     []models.SubtaskSpec{{ID: 1, Description: "find it", Tool: "search"}},
		verdicts: []*oracle.Verdict{{Complete: true, Answer: "The answer is 42."}},
	}
	d := &scriptedDispatcher{}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "find it")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Result != "The answer is 42." {
		t.Errorf("Expected the reflector's answer verbatim, got %q", got.Result)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	fo := &fakeOracle{
		plan:     []models.SubtaskSpec{{ID: 1, Description: "flaky search", Tool: "search"}},
		verdicts: []*oracle.Verdict{{Complete: true, Answer: "found"}},
	}
	d := &scriptedDispatcher{
		failuresLeft: map[string]int{"flaky search": 2},
		failWith:     tools.NewTransientError("search", errors.New("timeout")),
		results:      map[string]string{"flaky search": "result"},
	}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "flaky")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (error %q)", got.Status, got.Error)
	}
	if d.calls != 3 {
		t.Errorf("Expected 3 attempts (2 failures + success), got %d", d.calls)
	}
	// Attempt counter visible to the dispatcher grows with each retry.
	want := []int{0, 1, 2}
	for i, a := range d.attemptsSeen {
		if a != want[i] {
			t.Errorf("Attempt %d saw counter %d, want %d", i, a, want[i])
		}
	}
}

func TestRunPermanentFailureSingleAttempt(t *testing.T) {
	fo := &fakeOracle{
		plan:     []models.SubtaskSpec{{ID: 1, Description: "bad expr", Tool: "calculator"}},
		verdicts: []*oracle.Verdict{{Complete: false, Feedback: "expression invalid", Revised: nil}},
	}
	d := &scriptedDispatcher{
		failuresLeft: map[string]int{"bad expr": 99},
		failWith:     tools.NewPermanentError("calculator", errors.New("invalid expression")),
	}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "bad expr")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if d.calls != 1 {
		t.Errorf("Permanent failure must not retry: expected 1 attempt, got %d", d.calls)
	}

	// Incomplete verdict with no revisions closes the job best effort.
	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("Expected best-effort completion, got %s (error %q)", got.Status, got.Error)
	}
	if !strings.Contains(got.Result, "Task 1 failed") {
		t.Errorf("Result should report the failed subtask, got %q", got.Result)
	}
}

func TestRunReplanRound(t *testing.T) {
	fo := &fakeOracle{
		plan: []models.SubtaskSpec{{ID: 1, Description: "first", Tool: "search"}},
		verdicts: []*oracle.Verdict{
			{
				Complete: false,
				Feedback: "need more detail",
				Revised: []models.SubtaskSpec{
					{ID: 2, Description: "second", Tool: "search", Supersedes: 1},
					{ID: 3, Description: "third", Tool: "search"},
				},
			},
			{Complete: true, Answer: "full answer"},
		},
	}
	d := &scriptedDispatcher{results: map[string]string{
		"first":  "partial",
		"second": "better",
		"third":  "extra",
	}}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "layered query")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (error %q)", got.Status, got.Error)
	}
	if got.Result != "full answer" {
		t.Errorf("Unexpected result %q", got.Result)
	}
	if got.Iterations != 2 {
		t.Errorf("Expected 2 iterations, got %d", got.Iterations)
	}
	if d.calls != 3 {
		t.Errorf("Expected 3 dispatches across both rounds, got %d", d.calls)
	}
	if fo.reflectCalls != 2 {
		t.Errorf("Expected 2 reflections, got %d", fo.reflectCalls)
	}
}

func TestRunIterationBudgetExhausted(t *testing.T) {
	fo := &fakeOracle{
		plan: []models.SubtaskSpec{{ID: 1, Description: "chase", Tool: "search"}},
		verdicts: []*oracle.Verdict{{
			Complete: false,
			Feedback: "keep digging",
			Revised:  []models.SubtaskSpec{{ID: 2, Description: "chase again", Tool: "search"}},
		}},
	}
	d := &scriptedDispatcher{}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "endless")

	if err := o.Run(context.Background(), job, 1); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.Error != "max iterations exceeded" {
		t.Errorf("Unexpected error %q", got.Error)
	}
	if got.Result != "" {
		t.Errorf("Failed job must not carry a result, got %q", got.Result)
	}
	if got.Iterations != 1 {
		t.Errorf("Expected exactly 1 iteration, got %d", got.Iterations)
	}
	if fo.reflectCalls != 1 {
		t.Errorf("Expected 1 reflection, got %d", fo.reflectCalls)
	}
}

func TestRunCancellationAbandonsAndDrains(t *testing.T) {
	fo := &fakeOracle{
		plan: []models.SubtaskSpec{
			{ID: 1, Description: "slow", Tool: "search"},
			{ID: 2, Description: "waiting", Tool: "search"},
		},
		verdicts: []*oracle.Verdict{{Complete: true}},
	}
	d := &scriptedDispatcher{delay: 60 * time.Millisecond}
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exec := executor.New(d, executor.Config{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		AttemptTimeout: time.Second,
	})
	// One worker: the first subtask is in flight when cancel hits, the
	// second never dispatches.
	o := New(st, fo, exec, Config{MaxWorkers: 1, JobTimeout: 5 * time.Second, PollInterval: 2 * time.Millisecond})
	job := mustCreateJob(t, st, "cancel me")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := o.Run(ctx, job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.Error != "job cancelled" {
		t.Errorf("Unexpected error %q", got.Error)
	}

	// The in-flight attempt ran to completion despite the cancel.
	d.mu.Lock()
	completed := d.completed
	calls := d.calls
	d.mu.Unlock()
	if completed != 1 {
		t.Errorf("Expected the in-flight attempt to drain, completed=%d", completed)
	}
	if calls != 1 {
		t.Errorf("Expected no dispatch after cancel, calls=%d", calls)
	}
}

func TestRunJobTimeout(t *testing.T) {
	fo := &fakeOracle{
		plan:     []models.SubtaskSpec{{ID: 1, Description: "slow", Tool: "search"}},
		verdicts: []*oracle.Verdict{{Complete: true}},
	}
	d := &scriptedDispatcher{delay: 80 * time.Millisecond}
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exec := executor.New(d, executor.Config{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		AttemptTimeout: time.Second,
	})
	o := New(st, fo, exec, Config{MaxWorkers: 2, JobTimeout: 25 * time.Millisecond, PollInterval: 2 * time.Millisecond})
	job := mustCreateJob(t, st, "too slow")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.Error != "job timeout exceeded" {
		t.Errorf("Unexpected error %q", got.Error)
	}
}

func TestRunPlanningFailureIsFatal(t *testing.T) {
	fo := &fakeOracle{planErr: &oracle.PlanError{Err: errors.New("model unreachable")}}
	d := &scriptedDispatcher{}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "unplannable")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.Error != "planning failed: model unreachable" {
		t.Errorf("Unexpected error %q", got.Error)
	}
	if got.Iterations != 0 {
		t.Errorf("No iterations should run after a planning failure, got %d", got.Iterations)
	}
	if d.calls != 0 {
		t.Errorf("No subtask may execute after a planning failure, got %d dispatches", d.calls)
	}
}

func TestRunEmptyPlanIsFatal(t *testing.T) {
	fo := &fakeOracle{plan: nil}
	d := &scriptedDispatcher{}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "nothing to do")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "planning failed") {
		t.Errorf("Unexpected error %q", got.Error)
	}
}

func TestRunReflectionFailureFailsJob(t *testing.T) {
	fo := &fakeOracle{
		plan:       []models.SubtaskSpec{{ID: 1, Description: "q", Tool: "search"}},
		reflectErr: errors.New("malformed verdict"),
	}
	d := &scriptedDispatcher{}
	o, st := newTestOrchestrator(t, fo, d)
	job := mustCreateJob(t, st, "q")

	if err := o.Run(context.Background(), job, 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := mustGetJob(t, st, job.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.Error != "reflection failed: malformed verdict" {
		t.Errorf("Unexpected error %q", got.Error)
	}
}

func TestRunNeverLeavesJobRunning(t *testing.T) {
	cases := []struct {
		name string
		fo   *fakeOracle
	}{
		{"complete", &fakeOracle{
			plan:     []models.SubtaskSpec{{ID: 1, Description: "a"}},
			verdicts: []*oracle.Verdict{{Complete: true}},
		}},
		{"plan error", &fakeOracle{planErr: &oracle.PlanError{Err: oracle.ErrEmptyPlan}}},
		{"reflect error", &fakeOracle{
			plan:       []models.SubtaskSpec{{ID: 1, Description: "a"}},
			reflectErr: errors.New("x"),
		}},
	}
	for _, tc := range cases {
		d := &scriptedDispatcher{}
		o, st := newTestOrchestrator(t, tc.fo, d)
		job := mustCreateJob(t, st, tc.name)

		if err := o.Run(context.Background(), job, 2); err != nil {
			t.Fatalf("%s: Run failed: %v", tc.name, err)
		}
		got := mustGetJob(t, st, job.ID)
		if !got.Status.Terminal() {
			t.Errorf("%s: job left in %s", tc.name, got.Status)
		}
	}
}

func TestBuildResponse(t *testing.T) {
	long := strings.Repeat("x", 600)
	subtasks := []models.Subtask{
		{ID: 1, Status: models.SubtaskStatusSucceeded, Result: &models.ToolResult{Content: "first result"}},
		{ID: 2, Status: models.SubtaskStatusSucceeded, Result: &models.ToolResult{Content: long}},
		{ID: 3, Status: models.SubtaskStatusFailed, LastError: "timeout (retries exhausted)"},
		{ID: 4, Status: models.SubtaskStatusAbandoned, LastError: "superseded"},
	}

	out := buildResponse(subtasks, "")
	if !strings.HasPrefix(out, "Successfully completed tasks yielded:") {
		t.Errorf("Missing success header: %q", out)
	}
	if !strings.Contains(out, "1. first result") {
		t.Errorf("Missing first result: %q", out)
	}
	if strings.Contains(out, long) {
		t.Error("Long results must be truncated")
	}
	if !strings.Contains(out, "Some tasks encountered issues:") {
		t.Errorf("Missing issues header: %q", out)
	}
	if !strings.Contains(out, "Task 3 failed: timeout (retries exhausted)") {
		t.Errorf("Missing failure line: %q", out)
	}
	if strings.Contains(out, "Task 4") {
		t.Error("Abandoned subtasks must not be reported")
	}
}

func TestBuildResponseFallsBackToFeedback(t *testing.T) {
	out := buildResponse(nil, "nothing worked")
	if out != "nothing worked" {
		t.Errorf("Expected feedback fallback, got %q", out)
	}
	out = buildResponse(nil, "")
	if out == "" {
		t.Error("Expected a non-empty fallback")
	}
}
