package ingest

import (
	"strings"
	"testing"

	"github.com/quarrylabs/quarry/internal/config"
)

const sectionedDoc = `intro paragraph

# Install

general install notes

## Linux

apt-get instructions

## macOS

brew instructions

# Usage

run the binary
`

func TestSplitSectionsBreadcrumbs(t *testing.T) {
	t.Parallel()

	secs := SplitSections(sectionedDoc, DefaultSectionerOptions())

	wantPaths := []string{
		PreamblePath,
		"Install",
		"Install / Linux",
		"Install / macOS",
		"Usage",
	}
	if len(secs) != len(wantPaths) {
		t.Fatalf("got %d sections, want %d: %+v", len(secs), len(wantPaths), secs)
	}
	for i, want := range wantPaths {
		if secs[i].Path != want {
			t.Errorf("section %d path = %q, want %q", i, secs[i].Path, want)
		}
		if secs[i].Ordinal != i {
			t.Errorf("section %d ordinal = %d", i, secs[i].Ordinal)
		}
	}
	if !strings.HasPrefix(secs[1].Text, "# Install") {
		t.Errorf("heading line missing from section text: %q", secs[1].Text)
	}
	if secs[2].Heading != "Linux" || secs[2].Level != 2 {
		t.Errorf("section 2 = %+v", secs[2])
	}
}

func TestSplitSectionsSiblingAfterDeepHeading(t *testing.T) {
	t.Parallel()

	doc := "# A\n\nbody a\n\n### Deep\n\ndeep body\n\n## B\n\nbody b\n"
	secs := SplitSections(doc, DefaultSectionerOptions())

	var paths []string
	for _, s := range secs {
		paths = append(paths, s.Path)
	}
	// The level-2 heading pops back to depth 1 under A, not under Deep.
	want := []string{"A", "A / Deep", "A / B"}
	if strings.Join(paths, "|") != strings.Join(want, "|") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestSplitSectionsPreamblePolicies(t *testing.T) {
	t.Parallel()

	doc := "before any heading\n\n# First\n\nbody\n"

	t.Run("separate", func(t *testing.T) {
		opts := DefaultSectionerOptions()
		secs := SplitSections(doc, opts)
		if len(secs) != 2 {
			t.Fatalf("got %d sections", len(secs))
		}
		if secs[0].Path != PreamblePath || secs[0].Level != 0 {
			t.Errorf("preamble section = %+v", secs[0])
		}
	})

	t.Run("merge_into_first", func(t *testing.T) {
		opts := DefaultSectionerOptions()
		opts.PreamblePolicy = config.PreambleMergeIntoFirst
		secs := SplitSections(doc, opts)
		if len(secs) != 1 {
			t.Fatalf("got %d sections", len(secs))
		}
		if !strings.Contains(secs[0].Text, "before any heading") {
			t.Errorf("preamble not merged: %q", secs[0].Text)
		}
		if secs[0].Path != "First" {
			t.Errorf("path = %q", secs[0].Path)
		}
	})

	t.Run("drop", func(t *testing.T) {
		opts := DefaultSectionerOptions()
		opts.PreamblePolicy = config.PreambleDrop
		secs := SplitSections(doc, opts)
		if len(secs) != 1 {
			t.Fatalf("got %d sections", len(secs))
		}
		if strings.Contains(secs[0].Text, "before any heading") {
			t.Error("dropped preamble leaked into first section")
		}
	})

	t.Run("merge_into_first without headings", func(t *testing.T) {
		opts := DefaultSectionerOptions()
		opts.PreamblePolicy = config.PreambleMergeIntoFirst
		secs := SplitSections("just text, no headings\n", opts)
		if len(secs) != 1 || secs[0].Path != PreamblePath {
			t.Fatalf("sections = %+v", secs)
		}
	})
}

func TestSplitSectionsMaxLevel(t *testing.T) {
	t.Parallel()

	opts := DefaultSectionerOptions()
	opts.MaxLevel = 1
	secs := SplitSections("# Top\n\nbody\n\n## Nested\n\nnested body\n", opts)
	if len(secs) != 1 {
		t.Fatalf("got %d sections, want 1", len(secs))
	}
	if !strings.Contains(secs[0].Text, "## Nested") {
		t.Error("deep heading should stay in parent body")
	}
}

func TestSplitSectionsNoHeadings(t *testing.T) {
	t.Parallel()

	secs := SplitSections("plain text only\n", DefaultSectionerOptions())
	if len(secs) != 1 {
		t.Fatalf("got %d sections", len(secs))
	}
	if secs[0].Path != PreamblePath || secs[0].Text != "plain text only" {
		t.Errorf("section = %+v", secs[0])
	}
}

func TestSplitSectionsEmptySectionsSkipped(t *testing.T) {
	t.Parallel()

	opts := DefaultSectionerOptions()
	opts.IncludeHeading = false
	secs := SplitSections("# Empty\n\n# Full\n\nbody\n", opts)
	if len(secs) != 1 {
		t.Fatalf("got %d sections: %+v", len(secs), secs)
	}
	if secs[0].Path != "Full" {
		t.Errorf("path = %q", secs[0].Path)
	}
}

func TestParseHeading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line      string
		wantLevel int
		wantTitle string
	}{
		{"# Title", 1, "Title"},
		{"### Deep  ", 3, "Deep"},
		{"####### Too deep", 0, ""},
		{"#NoSpace", 0, ""},
		{"plain", 0, ""},
		{"", 0, ""},
	}
	for _, tt := range tests {
		level, title := parseHeading(tt.line)
		if level != tt.wantLevel || title != tt.wantTitle {
			t.Errorf("parseHeading(%q) = (%d, %q), want (%d, %q)",
				tt.line, level, title, tt.wantLevel, tt.wantTitle)
		}
	}
}
