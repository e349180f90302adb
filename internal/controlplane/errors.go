package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound   = errors.New("job not found")
	ErrEmptyQuery = errors.New("query must not be empty")
	ErrBadStatus  = errors.New("unknown status filter")
)
