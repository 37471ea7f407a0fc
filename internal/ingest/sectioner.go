package ingest

import (
	"strings"

	"github.com/quarrylabs/quarry/internal/config"
)

// PreamblePath is the breadcrumb assigned to text before the first heading.
const PreamblePath = "__preamble__"

// Section is one structural unit of a document, identified by its breadcrumb
// path and document-order ordinal.
type Section struct {
	Path    string // breadcrumb, e.g. "Install / Linux"; PreamblePath for the preamble
	Heading string // heading text of this section, empty for the preamble
	Level   int    // heading level, 0 for the preamble
	Ordinal int    // document-order index
	Text    string
}

// SectionerOptions control heading sectioning.
type SectionerOptions struct {
	// PreamblePolicy decides what happens to text before the first heading:
	// config.PreambleSeparate, PreambleMergeIntoFirst or PreambleDrop.
	PreamblePolicy string

	// IncludeHeading keeps the heading line at the top of the section text.
	IncludeHeading bool

	// MaxLevel caps the heading depth that starts a new section; deeper
	// headings stay inside their parent's body.
	MaxLevel int
}

// DefaultSectionerOptions returns the standard sectioning behavior.
func DefaultSectionerOptions() SectionerOptions {
	return SectionerOptions{
		PreamblePolicy: config.PreambleSeparate,
		IncludeHeading: true,
		MaxLevel:       6,
	}
}

// SplitSections splits normalized document text into heading-delimited
// sections. The breadcrumb stack tracks ancestor headings: a level-n heading
// pops the stack to depth n-1 and pushes itself, so each section's path
// reflects its position in the outline.
//
// A document with no headings yields a single preamble section (subject to
// the preamble policy).
func SplitSections(text string, opts SectionerOptions) []Section {
	if opts.MaxLevel < 1 {
		opts.MaxLevel = 6
	}

	type rawSection struct {
		path    string
		heading string
		level   int
		lines   []string
	}

	var stack []string // ancestor headings, including the current one
	var sections []rawSection
	current := &rawSection{path: PreamblePath} // preamble until the first heading

	flush := func() {
		sections = append(sections, *current)
	}

	for _, line := range strings.Split(text, "\n") {
		level, title := parseHeading(line)
		if level == 0 || level > opts.MaxLevel {
			current.lines = append(current.lines, line)
			continue
		}

		flush()
		if level-1 < len(stack) {
			stack = stack[:level-1]
		}
		stack = append(stack, title)

		current = &rawSection{
			path:    strings.Join(stack, " / "),
			heading: title,
			level:   level,
		}
		if opts.IncludeHeading {
			current.lines = append(current.lines, line)
		}
	}
	flush()

	// sections[0] is always the preamble, possibly empty.
	preamble := sections[0]
	rest := sections[1:]
	preambleText := strings.Trim(strings.Join(preamble.lines, "\n"), "\n")

	var out []Section
	ordinal := 0
	emit := func(s rawSection) {
		body := strings.Trim(strings.Join(s.lines, "\n"), "\n")
		if body == "" {
			return
		}
		out = append(out, Section{
			Path:    s.path,
			Heading: s.heading,
			Level:   s.level,
			Ordinal: ordinal,
			Text:    body,
		})
		ordinal++
	}

	if preambleText != "" {
		switch opts.PreamblePolicy {
		case config.PreambleDrop:
		case config.PreambleMergeIntoFirst:
			if len(rest) > 0 {
				rest[0].lines = append(append([]string{}, preamble.lines...), rest[0].lines...)
			} else {
				emit(preamble)
			}
		default: // config.PreambleSeparate
			emit(preamble)
		}
	}
	for _, s := range rest {
		emit(s)
	}
	return out
}

// parseHeading returns the level and title of an ATX heading line, or (0, "")
// for a non-heading line.
func parseHeading(line string) (int, string) {
	i := 0
	for i < len(line) && i < 7 && line[i] == '#' {
		i++
	}
	if i == 0 || i > 6 {
		return 0, ""
	}
	if i >= len(line) || (line[i] != ' ' && line[i] != '\t') {
		return 0, ""
	}
	return i, strings.TrimSpace(line[i:])
}
