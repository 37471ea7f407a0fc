// Package textnorm implements the canonicalization profiles applied to text
// before hashing, caching, and embedding.
//
// Canonicalization makes chunk fingerprints insensitive to encoding noise
// (BOM, CRLF line endings, trailing whitespace) without changing visible
// content. Every canonicalization pass is identified by a profile ID which is
// itself an input to chunk IDs and embedding cache keys: changing the rules
// means introducing a new profile, never silently altering an existing one.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultProfileID is the profile used when none is configured.
const DefaultProfileID = "default"

// ErrUnknownProfile is returned when a profile ID has no registered rules.
var ErrUnknownProfile = fmt.Errorf("unknown text normalization profile")

// Known returns whether the given profile ID is registered.
func Known(profileID string) bool {
	return profileID == DefaultProfileID
}

// Canonical canonicalizes text under the given profile:
//
//   - strip a leading byte-order mark
//   - Unicode-normalize (NFKC)
//   - unify CRLF/CR line endings to \n
//   - drop control and format characters except \n and \t
//   - right-trim spaces and tabs on each line
//   - trim leading/trailing newlines
//
// The result is the exact input to chunk fingerprinting and to the embedder,
// so cache keys always describe the vector that was actually computed.
func Canonical(text, profileID string) (string, error) {
	if !Known(profileID) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, profileID)
	}

	text = strings.TrimPrefix(text, "\uFEFF")
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r != '\n' && r != '\t' && (unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r)) {
			continue
		}
		b.WriteRune(r)
	}

	lines := strings.Split(b.String(), "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n"), nil
}

// ContentHash returns the hex sha256 of the canonical form of text.
func ContentHash(text, profileID string) (string, error) {
	c, err := Canonical(text, profileID)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeDocument pre-normalizes a whole document for stable sectioning and
// chunking. It is intentionally weaker than Canonical: it stabilizes section
// and chunk boundaries across platforms without rewriting content.
//
//   - strip a leading byte-order mark
//   - unify CRLF/CR line endings to \n
//   - right-trim spaces and tabs on each line
//   - collapse runs of blank lines into a single blank line
//   - end a non-empty document with exactly one trailing newline
func NormalizeDocument(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		if strings.TrimSpace(ln) == "" {
			blankRun++
			if blankRun <= 1 {
				out = append(out, "")
			}
			continue
		}
		blankRun = 0
		out = append(out, ln)
	}

	s := strings.Trim(strings.Join(out, "\n"), "\n")
	if s == "" {
		return ""
	}
	return s + "\n"
}
