package recall

import (
	"fmt"
	"strings"
)

const (
	truncationMarker  = "... (truncated)"
	contextMessageCap = 200
)

// BuildPromptContext renders ranked results into a prompt-injectable
// block bounded by a rough token budget B (estimated as characters/4, so
// B here is already in characters): a header, then per result a title
// line, score percentage, and context message previews, stopping before
// the budget is exceeded and emitting a truncation marker.
func BuildPromptContext(results []Result, budgetChars int) string {
	var b strings.Builder
	b.WriteString("## Relevant past conversations\n\n")

	for _, r := range results {
		block := formatResultBlock(r)
		if b.Len()+len(block) > budgetChars {
			b.WriteString(truncationMarker)
			break
		}
		b.WriteString(block)
	}

	return b.String()
}

func formatResultBlock(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%.0f%% match)\n", r.Session.Title, r.DecayedScore*100)
	for _, m := range r.ContextMessages {
		preview := m.Content
		if r := []rune(preview); len(r) > contextMessageCap {
			preview = string(r[:contextMessageCap])
		}
		fmt.Fprintf(&b, "  %s: %s\n", m.Role, preview)
	}
	b.WriteString("\n")
	return b.String()
}
