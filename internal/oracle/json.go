package oracle

import (
	"fmt"
	"regexp"
	"strings"
)

var codeFenceRE = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON pulls the first open..close span out of a model response,
// tolerating markdown code fences and surrounding prose. Models wrap JSON
// in fences or chat filler often enough that strict parsing is hopeless.
func extractJSON(content string, open, close byte) (string, error) {
	s := strings.TrimSpace(content)
	if m := codeFenceRE.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON %c...%c in response", open, close)
	}
	return s[start : end+1], nil
}

func extractJSONArray(content string) (string, error) {
	return extractJSON(content, '[', ']')
}

func extractJSONObject(content string) (string, error) {
	return extractJSON(content, '{', '}')
}
