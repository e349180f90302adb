package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fentz26/regent/internal/models"
)

// Each successful result line in the aggregate is cut at this length.
const resultExcerptLimit = 500

// buildResponse synthesizes the job's aggregate answer from its terminal
// subtasks, used whenever the reflector does not supply one. Successful
// results come first as a numbered list, then failed subtasks with their
// last errors. Abandoned subtasks were superseded and are not reported.
func buildResponse(subtasks []models.Subtask, feedback string) string {
	var b strings.Builder

	n := 0
	for _, st := range subtasks {
		if st.Status != models.SubtaskStatusSucceeded || st.Result == nil {
			continue
		}
		if n == 0 {
			b.WriteString("Successfully completed tasks yielded:\n")
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, truncate(st.Result.Content, resultExcerptLimit))
	}

	wroteHeader := false
	for _, st := range subtasks {
		if st.Status != models.SubtaskStatusFailed {
			continue
		}
		if !wroteHeader {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("Some tasks encountered issues:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "Task %d failed: %s\n", st.ID, st.LastError)
	}

	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		if feedback != "" {
			return feedback
		}
		return "No subtasks produced results."
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
