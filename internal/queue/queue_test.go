package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/fentz26/regent/internal/models"
)

func specs(descriptions ...string) []models.SubtaskSpec {
	out := make([]models.SubtaskSpec, 0, len(descriptions))
	for _, d := range descriptions {
		out = append(out, models.SubtaskSpec{Description: d})
	}
	return out
}

func TestEnqueueAssignsSequentialIDs(t *testing.T) {
	q := New(3, nil)

	ids := q.Enqueue(specs("first", "second"))
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("Expected ids [1 2], got %v", ids)
	}

	st, ok := q.Get(1)
	if !ok {
		t.Fatal("Subtask 1 not found")
	}
	if st.Status != models.SubtaskStatusQueued {
		t.Errorf("Expected queued, got %s", st.Status)
	}
	if st.Description != "first" {
		t.Errorf("Unexpected description %q", st.Description)
	}
}

func TestNextReadyOrdering(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("a", "b"))

	st, wait := q.NextReady()
	if st == nil || st.ID != 1 {
		t.Fatalf("Expected subtask 1 ready, got %+v (wait %v)", st, wait)
	}

	if err := q.MarkInProgress(1); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}

	st, _ = q.NextReady()
	if st == nil || st.ID != 2 {
		t.Fatalf("Expected subtask 2 ready next, got %+v", st)
	}
}

func TestSuccessPath(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("compute 2+2"))

	if err := q.MarkInProgress(1); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	if err := q.MarkSucceeded(1, &models.ToolResult{Content: "4"}); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}

	st, _ := q.Get(1)
	if st.Status != models.SubtaskStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", st.Status)
	}
	if st.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", st.Attempts)
	}
	if st.Result == nil || st.Result.Content != "4" {
		t.Errorf("Result not recorded: %+v", st.Result)
	}
	if !q.AllTerminal() {
		t.Error("Expected all terminal")
	}
}

func TestRetryableFailureRequeues(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("flaky"))

	q.MarkInProgress(1)
	if err := q.MarkFailed(1, "timeout", true, 10*time.Second); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	st, _ := q.Get(1)
	if st.Status != models.SubtaskStatusQueued {
		t.Errorf("Expected requeue, got %s", st.Status)
	}
	if st.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", st.Attempts)
	}
	if st.LastError != "timeout" {
		t.Errorf("Unexpected last_error %q", st.LastError)
	}
	if st.NextAttemptAt.IsZero() {
		t.Error("Expected a scheduled retry timestamp")
	}
}

func TestNextReadyHonorsRetryTimestamp(t *testing.T) {
	q := New(3, nil)
	cur := time.Now()
	q.SetClock(func() time.Time { return cur })

	q.Enqueue(specs("flaky"))
	q.MarkInProgress(1)
	q.MarkFailed(1, "timeout", true, 10*time.Second)

	st, wait := q.NextReady()
	if st != nil {
		t.Fatalf("Subtask should not be ready during backoff, got %+v", st)
	}
	if wait <= 0 || wait > 10*time.Second {
		t.Errorf("Unexpected wait %v", wait)
	}

	cur = cur.Add(11 * time.Second)
	st, _ = q.NextReady()
	if st == nil || st.ID != 1 {
		t.Fatalf("Expected subtask 1 ready after backoff, got %+v", st)
	}
}

func TestAttemptBudgetForcesFailed(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("always times out"))

	for i := 0; i < 2; i++ {
		if err := q.MarkInProgress(1); err != nil {
			t.Fatalf("MarkInProgress attempt %d failed: %v", i+1, err)
		}
		if err := q.MarkFailed(1, "timeout", true, 0); err != nil {
			t.Fatalf("MarkFailed attempt %d failed: %v", i+1, err)
		}
	}

	q.MarkInProgress(1)
	if err := q.MarkFailed(1, "timeout", true, 0); err != nil {
		t.Fatalf("Final MarkFailed failed: %v", err)
	}

	st, _ := q.Get(1)
	if st.Status != models.SubtaskStatusFailed {
		t.Errorf("Expected failed after budget spent, got %s", st.Status)
	}
	if st.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", st.Attempts)
	}
	if st.LastError != "timeout (retries exhausted)" {
		t.Errorf("Unexpected last_error %q", st.LastError)
	}
}

func TestPermanentFailureShortCircuits(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("bad input"))

	q.MarkInProgress(1)
	if err := q.MarkFailed(1, "unroutable", false, 0); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	st, _ := q.Get(1)
	if st.Status != models.SubtaskStatusFailed {
		t.Errorf("Expected failed, got %s", st.Status)
	}
	if st.Attempts != 1 {
		t.Errorf("Expected 1 attempt regardless of budget, got %d", st.Attempts)
	}
}

func TestTerminalTransitionIsReported(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("done"))
	q.MarkInProgress(1)
	q.MarkSucceeded(1, &models.ToolResult{Content: "ok"})

	if err := q.MarkSucceeded(1, &models.ToolResult{Content: "again"}); !errors.Is(err, ErrTerminal) {
		t.Errorf("Expected ErrTerminal, got %v", err)
	}
	if err := q.MarkInProgress(1); !errors.Is(err, ErrTerminal) {
		t.Errorf("Expected ErrTerminal for re-dispatch, got %v", err)
	}

	st, _ := q.Get(1)
	if st.Attempts != 1 || st.Result.Content != "ok" {
		t.Error("Terminal subtask state must not change")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("still queued"))

	// Success without dispatch is not a legal edge.
	if err := q.MarkSucceeded(1, &models.ToolResult{Content: "x"}); err == nil {
		t.Error("Expected error for queued -> succeeded")
	}
	if err := q.MarkFailed(1, "x", false, 0); err == nil {
		t.Error("Expected error for queued -> failed")
	}
}

func TestUnknownSubtask(t *testing.T) {
	q := New(3, nil)

	if err := q.MarkInProgress(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReplanSupersedesLiveSubtask(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("original"))

	ids := q.Replan([]models.SubtaskSpec{{Description: "replacement", Supersedes: 1}})
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("Expected replacement id 2, got %v", ids)
	}

	old, _ := q.Get(1)
	if old.Status != models.SubtaskStatusAbandoned {
		t.Errorf("Expected superseded subtask abandoned, got %s", old.Status)
	}
	if old.SupersededBy != 2 {
		t.Errorf("Expected superseded_by=2, got %d", old.SupersededBy)
	}

	repl, _ := q.Get(2)
	if repl.Status != models.SubtaskStatusQueued || repl.Supersedes != 1 {
		t.Errorf("Replacement not linked: %+v", repl)
	}
}

func TestReplanKeepsTerminalStatus(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("failed one"))
	q.MarkInProgress(1)
	q.MarkFailed(1, "bad", false, 0)

	q.Replan([]models.SubtaskSpec{{Description: "retry differently", Supersedes: 1}})

	old, _ := q.Get(1)
	if old.Status != models.SubtaskStatusFailed {
		t.Errorf("Terminal status must not change on replan, got %s", old.Status)
	}
	if old.SupersededBy != 2 {
		t.Errorf("Replacement link still recorded, got %d", old.SupersededBy)
	}
}

func TestReplanAdditionWithoutSupersede(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("keep me"))

	q.Replan([]models.SubtaskSpec{{Description: "extra work"}})

	kept, _ := q.Get(1)
	if kept.Status != models.SubtaskStatusQueued {
		t.Errorf("Unreferenced subtask must stay queued, got %s", kept.Status)
	}
	if q.PendingCount() != 2 {
		t.Errorf("Expected 2 pending, got %d", q.PendingCount())
	}
}

func TestAbandonNonTerminal(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("a", "b", "c"))
	q.MarkInProgress(1)
	q.MarkSucceeded(1, &models.ToolResult{Content: "done"})

	n := q.AbandonNonTerminal("job cancelled")
	if n != 2 {
		t.Fatalf("Expected 2 abandoned, got %d", n)
	}
	if !q.AllTerminal() {
		t.Error("Expected all terminal after abandon")
	}

	st, _ := q.Get(2)
	if st.Status != models.SubtaskStatusAbandoned || st.LastError != "job cancelled" {
		t.Errorf("Unexpected abandoned state: %+v", st)
	}
	done, _ := q.Get(1)
	if done.Status != models.SubtaskStatusSucceeded {
		t.Error("Succeeded subtask must keep its status and result")
	}
}

func TestStatsAccountForEverySubtask(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(specs("a", "b", "c", "d"))

	q.MarkInProgress(1)
	q.MarkSucceeded(1, &models.ToolResult{Content: "ok"})
	q.MarkInProgress(2)
	q.MarkFailed(2, "bad", false, 0)
	q.Replan([]models.SubtaskSpec{{Description: "b2", Supersedes: 3}})
	q.MarkInProgress(4)

	s := q.Stats()
	if s.Total != 5 {
		t.Fatalf("Expected 5 total, got %d", s.Total)
	}
	sum := s.Queued + s.InProgress + s.Succeeded + s.Failed + s.Abandoned
	if sum != s.Total {
		t.Errorf("State counts %d do not sum to total %d", sum, s.Total)
	}
	if s.Abandoned != 1 || s.Succeeded != 1 || s.Failed != 1 || s.InProgress != 1 || s.Queued != 1 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestTransitionHookFires(t *testing.T) {
	var fired int
	q := New(3, func() { fired++ })

	q.Enqueue(specs("a"))
	if fired != 1 {
		t.Errorf("Expected hook after enqueue, got %d", fired)
	}

	q.MarkInProgress(1)
	q.MarkSucceeded(1, &models.ToolResult{Content: "ok"})
	if fired != 3 {
		t.Errorf("Expected a hook call per transition, got %d", fired)
	}

	// Rejected transitions must not fire the hook.
	q.MarkInProgress(1)
	if fired != 3 {
		t.Errorf("Hook fired on rejected transition, got %d", fired)
	}
}

func TestValidateTransitionTable(t *testing.T) {
	legal := []struct{ from, to models.SubtaskStatus }{
		{models.SubtaskStatusQueued, models.SubtaskStatusInProgress},
		{models.SubtaskStatusQueued, models.SubtaskStatusAbandoned},
		{models.SubtaskStatusInProgress, models.SubtaskStatusSucceeded},
		{models.SubtaskStatusInProgress, models.SubtaskStatusFailed},
		{models.SubtaskStatusInProgress, models.SubtaskStatusQueued},
		{models.SubtaskStatusInProgress, models.SubtaskStatusAbandoned},
	}
	for _, tc := range legal {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Errorf("Expected %s -> %s legal, got %v", tc.from, tc.to, err)
		}
	}

	illegal := []struct{ from, to models.SubtaskStatus }{
		{models.SubtaskStatusQueued, models.SubtaskStatusSucceeded},
		{models.SubtaskStatusSucceeded, models.SubtaskStatusQueued},
		{models.SubtaskStatusFailed, models.SubtaskStatusInProgress},
		{models.SubtaskStatusAbandoned, models.SubtaskStatusQueued},
		{models.SubtaskStatusSucceeded, models.SubtaskStatusFailed},
	}
	for _, tc := range illegal {
		if err := ValidateTransition(tc.from, tc.to); err == nil {
			t.Errorf("Expected %s -> %s illegal", tc.from, tc.to)
		}
	}
}
