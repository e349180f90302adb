// Package oracle plans work for a query and judges execution results.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/fentz26/regent/internal/models"
)

// ErrEmptyPlan reports that the model produced no usable subtasks.
var ErrEmptyPlan = errors.New("no usable subtasks in plan")

// PlanError wraps any failure to produce a plan. The orchestrator
// treats it as fatal for the job.
type PlanError struct {
	Err error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("planning: %v", e.Err)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// Verdict is the reflector's judgement of a finished execution round.
//
// Complete means the query is answered; Answer carries the final text
// when the model provides one. When Complete is false, Revised holds
// the replacement subtasks for the next round. An incomplete verdict
// with no revisions means the model has nothing further to try.
type Verdict struct {
	Complete bool                 `json:"complete"`
	Answer   string               `json:"answer"`
	Feedback string               `json:"feedback"`
	Revised  []models.SubtaskSpec `json:"revised"`
}

// Oracle decomposes queries into subtask specs and evaluates outcomes.
type Oracle interface {
	// Plan turns query into an ordered list of subtask specs.
	// Failures come back as *PlanError.
	Plan(ctx context.Context, query string) ([]models.SubtaskSpec, error)

	// Reflect judges whether the executed subtasks satisfy the query.
	Reflect(ctx context.Context, query string, subtasks []*models.Subtask) (*Verdict, error)
}
