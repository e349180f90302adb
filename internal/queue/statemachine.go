package queue

import (
	"fmt"

	"github.com/fentz26/regent/internal/models"
)

// allowedTransitions is the authoritative subtask state machine. Terminal
// states have no outgoing edges; in_progress -> queued is the retry edge.
var allowedTransitions = map[models.SubtaskStatus]map[models.SubtaskStatus]struct{}{
	models.SubtaskStatusQueued: {
		models.SubtaskStatusInProgress: {},
		models.SubtaskStatusAbandoned:  {},
	},
	models.SubtaskStatusInProgress: {
		models.SubtaskStatusSucceeded: {},
		models.SubtaskStatusFailed:    {},
		models.SubtaskStatusQueued:    {},
		models.SubtaskStatusAbandoned: {},
	},
	models.SubtaskStatusSucceeded: {},
	models.SubtaskStatusFailed:    {},
	models.SubtaskStatusAbandoned: {},
}

// ValidateTransition returns an error when from -> to is not a legal edge.
func ValidateTransition(from, to models.SubtaskStatus) error {
	targets, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("unknown subtask status %q", from)
	}
	if _, ok := targets[to]; !ok {
		return fmt.Errorf("illegal subtask transition %s -> %s", from, to)
	}
	return nil
}
