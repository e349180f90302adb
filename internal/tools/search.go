package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// SearchTool answers web-lookup subtasks through DuckDuckGo.
type SearchTool struct {
	client *duckduckgo.Tool
}

// NewSearchTool creates a search tool returning up to maxResults hits.
func NewSearchTool(maxResults int) (*SearchTool, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("create duckduckgo client: %w", err)
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web for real-time information such as news, facts, and current events."
}

func (s *SearchTool) CapabilityTags() []string {
	return []string{"search", "find", "web", "news", "current", "latest", "weather", "today", "price"}
}

// Invoke runs a web search on the subtask description. Network failures are
// transient; an empty query is permanent.
func (s *SearchTool) Invoke(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", NewPermanentError(s.Name(), errors.New("empty search query"))
	}

	res, err := s.client.Call(ctx, query)
	if err != nil {
		return "", NewTransientError(s.Name(), err)
	}
	return res, nil
}
