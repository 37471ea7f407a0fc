package textnorm

import (
	"strings"
	"testing"
)

func TestCanonicalNoiseInvariance(t *testing.T) {
	t.Parallel()

	base := "Title\n\nbody line one\nbody line two"

	tests := []struct {
		name  string
		input string
	}{
		{"clean", base},
		{"bom", "\uFEFF" + base},
		{"crlf", strings.ReplaceAll(base, "\n", "\r\n")},
		{"cr", strings.ReplaceAll(base, "\n", "\r")},
		{"trailing spaces", "Title  \n\nbody line one\t\nbody line two   "},
		{"leading trailing newlines", "\n\n" + base + "\n\n"},
		{"zero width joiner", strings.Replace(base, "Title", "Ti‍tle", 1)},
	}

	want, err := Canonical(base, DefaultProfileID)
	if err != nil {
		t.Fatalf("Canonical(base) error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonical(tt.input, DefaultProfileID)
			if err != nil {
				t.Fatalf("Canonical() error: %v", err)
			}
			if got != want {
				t.Errorf("Canonical() = %q, want %q", got, want)
			}
		})
	}
}

func TestCanonicalKeepsTabsAndNewlines(t *testing.T) {
	t.Parallel()

	got, err := Canonical("a\tb\nc", DefaultProfileID)
	if err != nil {
		t.Fatalf("Canonical() error: %v", err)
	}
	if got != "a\tb\nc" {
		t.Errorf("Canonical() = %q, want %q", got, "a\tb\nc")
	}
}

func TestCanonicalNFKC(t *testing.T) {
	t.Parallel()

	// Fullwidth "ABC" compatibility-normalizes to ASCII.
	got, err := Canonical("ＡＢＣ", DefaultProfileID)
	if err != nil {
		t.Fatalf("Canonical() error: %v", err)
	}
	if got != "ABC" {
		t.Errorf("Canonical() = %q, want %q", got, "ABC")
	}
}

func TestCanonicalUnknownProfile(t *testing.T) {
	t.Parallel()

	if _, err := Canonical("x", "v2"); err == nil {
		t.Fatal("Canonical() with unknown profile: want error, got nil")
	}
	if _, err := ContentHash("x", "v2"); err == nil {
		t.Fatal("ContentHash() with unknown profile: want error, got nil")
	}
}

func TestContentHashStable(t *testing.T) {
	t.Parallel()

	a, err := ContentHash("hello world", DefaultProfileID)
	if err != nil {
		t.Fatalf("ContentHash() error: %v", err)
	}
	b, err := ContentHash("\uFEFFhello world  ", DefaultProfileID)
	if err != nil {
		t.Fatalf("ContentHash() error: %v", err)
	}
	if a != b {
		t.Errorf("hashes differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}

func TestNormalizeDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"blank only", "\n\n  \n", ""},
		{"collapses blank runs", "a\n\n\n\nb", "a\n\nb\n"},
		{"trailing newline added", "a", "a\n"},
		{"crlf and bom", "\uFEFFa\r\nb\r\n", "a\nb\n"},
		{"rtrim lines", "a  \nb\t\n", "a\nb\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeDocument(tt.input); got != tt.want {
				t.Errorf("NormalizeDocument(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
