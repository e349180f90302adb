package executor

import (
	"context"
	"errors"
	"net"

	"github.com/fentz26/regent/internal/dispatch"
	"github.com/fentz26/regent/internal/tools"
)

// Class is the retry classification of a failed execution attempt.
type Class int

const (
	// ClassTransient marks failures worth retrying: timeouts, network
	// errors, anything that may succeed on a later attempt.
	ClassTransient Class = iota
	// ClassPermanent marks failures retrying cannot fix: unroutable
	// subtasks, invalid input, unsupported requests.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify decides whether a failure is transient or permanent. Tagged tool
// errors carry their own classification; unrecognized errors default to
// transient so a flaky collaborator gets its retry budget.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	if errors.Is(err, dispatch.ErrUnroutable) {
		return ClassPermanent
	}

	var terr *tools.Error
	if errors.As(err, &terr) {
		if terr.Transient {
			return ClassTransient
		}
		return ClassPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ClassTransient
	}

	return ClassTransient
}
