// Package dispatch routes subtasks to registered tools and normalizes their
// heterogeneous outputs into a uniform result envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/regent/internal/models"
	"github.com/fentz26/regent/internal/tools"
)

// ErrUnroutable indicates no registered tool can handle a subtask. Callers
// treat this as a permanent failure.
var ErrUnroutable = errors.New("no tool can handle subtask")

// Dispatcher maps each subtask to exactly one capable tool.
type Dispatcher struct {
	registry *tools.Registry
}

// New creates a dispatcher over a tool registry.
func New(registry *tools.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch routes one subtask, invokes the selected tool, and returns the
// normalized result. Tool failures come back as *tools.Error carrying the
// retry classification; routing failures wrap ErrUnroutable.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *models.Subtask) (*models.ToolResult, error) {
	tool := d.resolve(sub)
	if tool == nil {
		if sub.Tool != "" {
			return nil, fmt.Errorf("%w: unknown tool %q", ErrUnroutable, sub.Tool)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnroutable, sub.Description)
	}

	raw, err := tool.Invoke(ctx, sub.Description)
	if err != nil {
		var terr *tools.Error
		if errors.As(err, &terr) {
			return nil, err
		}
		// Untagged tool errors default to transient.
		return nil, tools.NewTransientError(tool.Name(), err)
	}

	return &models.ToolResult{
		Content:  raw,
		Metadata: map[string]string{"tool": tool.Name()},
	}, nil
}

// resolve picks the tool for a subtask: exact-name match on the planner's
// hint when present, otherwise the best capability-tag match against the
// description.
func (d *Dispatcher) resolve(sub *models.Subtask) tools.Tool {
	if sub.Tool != "" {
		t, ok := d.registry.Get(sub.Tool)
		if !ok {
			return nil
		}
		return t
	}
	return d.matchByTags(sub.Description)
}

// matchByTags scores every registered tool by whole-word capability-tag hits
// in the description. Highest score wins; registration order breaks ties.
func (d *Dispatcher) matchByTags(description string) tools.Tool {
	text := strings.ToLower(description)

	var best tools.Tool
	bestScore := 0
	for _, t := range d.registry.List() {
		score := 0
		for _, tag := range t.CapabilityTags() {
			if containsWord(text, strings.ToLower(tag)) {
				score++
			}
		}
		if score > bestScore {
			best = t
			bestScore = score
		}
	}
	return best
}

// containsWord checks if text contains keyword as a whole word.
func containsWord(text, keyword string) bool {
	// For multi-word keywords like "look up", use simple contains
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}

	// For single words, check word boundaries
	words := strings.Fields(text)
	for _, word := range words {
		// Clean punctuation from word
		cleaned := strings.Trim(word, ".,;:!?\"'()[]{}")
		if cleaned == keyword {
			return true
		}
	}
	return false
}
