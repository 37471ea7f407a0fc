package query

import (
	"fmt"
	"strings"
)

// formatMarkdown renders the final answer document: the answer body followed
// by a sources section listing every citation.
func formatMarkdown(answer string, sources []SourceRef) string {
	var b strings.Builder
	b.WriteString(answer)
	if len(sources) == 0 {
		return b.String()
	}

	b.WriteString("\n\n## Sources\n")
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.SourceURI
		}
		fmt.Fprintf(&b, "\n%d. **%s**", s.Citation, title)
		if s.SectionPath != "" {
			fmt.Fprintf(&b, " - %s", s.SectionPath)
		}
		fmt.Fprintf(&b, " (`%s`)", s.SourceURI)
	}
	return b.String()
}

// excerpt bounds text to maxChars runes on a rune boundary, marking
// truncation with an ellipsis.
func excerpt(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return strings.TrimSpace(string(runes[:maxChars])) + "..."
}
