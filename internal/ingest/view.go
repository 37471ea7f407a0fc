package ingest

import (
	"fmt"
	"sort"
	"strings"
)

// Retrieval-view templates. The view is what gets embedded and lexically
// indexed; the stored chunk body is always the plain facts.
const (
	// ViewFactsOnly indexes the chunk text as-is.
	ViewFactsOnly = "facts_only"

	// ViewFactsPlusEnrich prepends the section heading and appends sorted
	// enrichment snippets (asset descriptions and the like). Sorting keeps
	// the rendered view, and therefore vectors and cache keys, stable.
	ViewFactsPlusEnrich = "facts_plus_enrich"
)

// ViewInput is the material available to a retrieval-view template.
type ViewInput struct {
	Heading    string
	Body       string
	Enrichment []string
}

// RenderView renders the searchable text for a chunk under the given
// template. Unknown templates fall back to facts_only rather than failing:
// a missing view must never block ingestion.
func RenderView(template string, in ViewInput) string {
	switch template {
	case ViewFactsPlusEnrich:
		var b strings.Builder
		if in.Heading != "" {
			fmt.Fprintf(&b, "%s\n\n", in.Heading)
		}
		b.WriteString(in.Body)
		if len(in.Enrichment) > 0 {
			snippets := append([]string{}, in.Enrichment...)
			sort.Strings(snippets)
			b.WriteString("\n\n")
			b.WriteString(strings.Join(snippets, "\n"))
		}
		return b.String()
	default:
		return in.Body
	}
}
