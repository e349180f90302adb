package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/tools/wikipedia"
)

// lookupUserAgent identifies the client to the Wikipedia API, which rejects
// anonymous user agents.
const lookupUserAgent = "regent/0.1 (https://github.com/fentz26/regent)"

// WikipediaTool resolves encyclopedic lookup subtasks.
type WikipediaTool struct {
	client wikipedia.Tool
}

// NewWikipediaTool creates a wikipedia lookup tool.
func NewWikipediaTool() *WikipediaTool {
	return &WikipediaTool{client: wikipedia.New(lookupUserAgent)}
}

func (w *WikipediaTool) Name() string {
	return "wikipedia"
}

func (w *WikipediaTool) Description() string {
	return "Look up reference information about people, places, concepts, and history on Wikipedia."
}

func (w *WikipediaTool) CapabilityTags() []string {
	return []string{"lookup", "wikipedia", "wiki", "define", "definition", "encyclopedia", "history", "biography"}
}

// Invoke looks the description up on Wikipedia. Network failures are
// transient; an empty topic is permanent.
func (w *WikipediaTool) Invoke(ctx context.Context, input string) (string, error) {
	topic := strings.TrimSpace(input)
	if topic == "" {
		return "", NewPermanentError(w.Name(), errors.New("empty lookup topic"))
	}

	res, err := w.client.Call(ctx, topic)
	if err != nil {
		return "", NewTransientError(w.Name(), err)
	}
	return res, nil
}
