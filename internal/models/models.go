// Package models defines the core domain types for Regent.
package models

import "time"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one top-level query submission tracked by the registry.
type Job struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Status     JobStatus `json:"status"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Iterations int       `json:"iterations"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SubtaskStatus represents the state of one decomposed unit of a job.
type SubtaskStatus string

const (
	SubtaskStatusQueued     SubtaskStatus = "queued"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusSucceeded  SubtaskStatus = "succeeded"
	SubtaskStatusFailed     SubtaskStatus = "failed"
	SubtaskStatusAbandoned  SubtaskStatus = "abandoned"
)

// Terminal reports whether the subtask can no longer change state.
func (s SubtaskStatus) Terminal() bool {
	switch s {
	case SubtaskStatusSucceeded, SubtaskStatusFailed, SubtaskStatusAbandoned:
		return true
	}
	return false
}

// Subtask is one decomposed unit of work belonging to a job. Subtask state
// lives in memory for the duration of a run; only the parent job persists.
type Subtask struct {
	ID            int           `json:"id"`
	Description   string        `json:"description"`
	Tool          string        `json:"tool,omitempty"`
	Status        SubtaskStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	Result        *ToolResult   `json:"result,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Supersedes    int           `json:"supersedes,omitempty"`
	SupersededBy  int           `json:"superseded_by,omitempty"`
	NextAttemptAt time.Time     `json:"-"`
}

// SubtaskSpec is a planner- or reflector-proposed subtask before it enters
// the queue. Supersedes names the subtask id it replaces, zero for additions.
type SubtaskSpec struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Tool        string `json:"tool,omitempty"`
	Supersedes  int    `json:"supersedes,omitempty"`
}

// ToolResult is the normalized output envelope every tool invocation is
// reduced to, regardless of source tool.
type ToolResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
