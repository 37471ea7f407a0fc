package ingest

import (
	"regexp"
	"strings"
)

// chunkSeparators in preference order. The chunker tries to split on the
// coarsest separator that keeps pieces under the target size.
var chunkSeparators = []string{"\n\n", "\n", " "}

// Piece is one chunk of section text. Start and End are rune-offsets into
// the section text of the piece's own content; Text may begin with an
// overlap seed carried over from the previous piece.
type Piece struct {
	Text  string
	Start int
	End   int
}

// ChunkerOptions control recursive chunking.
type ChunkerOptions struct {
	// TargetChars is the soft maximum chunk length in runes.
	TargetChars int

	// OverlapChars seeds each chunk after the first with the tail of its
	// predecessor, so context spanning a boundary is searchable in both.
	// The seed counts toward TargetChars.
	OverlapChars int
}

// SplitChunks splits section text into pieces of at most TargetChars runes,
// overlap seed included, preferring paragraph, then line, then word
// boundaries, and falling back to hard rune slices for pathological unbroken
// runs. A piece may exceed the target only when a single fragment plus the
// seed already does.
// Separators stay attached to the preceding fragment so rejoining pieces
// reproduces the input.
func SplitChunks(text string, opts ChunkerOptions) []Piece {
	if opts.TargetChars < 1 {
		opts.TargetChars = 1200
	}
	if opts.OverlapChars < 0 {
		opts.OverlapChars = 0
	}
	if opts.OverlapChars >= opts.TargetChars {
		opts.OverlapChars = opts.TargetChars - 1
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	fragments := splitRecursive([]rune(text), chunkSeparators, opts.TargetChars)
	return mergeFragments(fragments, opts)
}

type fragment struct {
	runes []rune
	start int
}

// splitRecursive cuts text into fragments no longer than target runes. Each
// level splits on one separator; oversized fragments recurse with the finer
// separators, and a fragment with no separators left is sliced hard.
func splitRecursive(runes []rune, seps []string, target int) []fragment {
	return splitFrom(fragment{runes: runes}, seps, target)
}

func splitFrom(f fragment, seps []string, target int) []fragment {
	if len(f.runes) <= target {
		if len(f.runes) == 0 {
			return nil
		}
		return []fragment{f}
	}
	if len(seps) == 0 {
		var out []fragment
		for off := 0; off < len(f.runes); off += target {
			end := min(off+target, len(f.runes))
			out = append(out, fragment{runes: f.runes[off:end], start: f.start + off})
		}
		return out
	}

	sep := []rune(seps[0])
	var out []fragment
	pieceStart := 0
	i := 0
	for i <= len(f.runes)-len(sep) {
		if string(f.runes[i:i+len(sep)]) != seps[0] {
			i++
			continue
		}
		// Separator reattachment: the separator belongs to the piece it ends.
		pieceEnd := i + len(sep)
		piece := fragment{runes: f.runes[pieceStart:pieceEnd], start: f.start + pieceStart}
		out = append(out, splitFrom(piece, seps[1:], target)...)
		pieceStart = pieceEnd
		i = pieceEnd
	}
	if pieceStart < len(f.runes) {
		piece := fragment{runes: f.runes[pieceStart:], start: f.start + pieceStart}
		out = append(out, splitFrom(piece, seps[1:], target)...)
	}
	return out
}

// mergeFragments greedily packs adjacent fragments into windows of at most
// TargetChars runes. Each completed window seeds the next with its trailing
// OverlapChars runes, and the seed counts against the next window's budget.
func mergeFragments(frags []fragment, opts ChunkerOptions) []Piece {
	if len(frags) == 0 {
		return nil
	}

	var out []Piece
	var buf []rune // window text, overlap seed included
	seedLen := 0   // length of the seed at the head of buf
	start := frags[0].start
	end := start

	for _, f := range frags {
		if len(buf) > seedLen && len(buf)+len(f.runes) > opts.TargetChars {
			out = append(out, Piece{Text: string(buf), Start: start, End: end})
			seedLen = min(opts.OverlapChars, len(buf))
			buf = append([]rune(nil), buf[len(buf)-seedLen:]...)
			start = f.start
		}
		buf = append(buf, f.runes...)
		end = f.start + len(f.runes)
	}
	out = append(out, Piece{Text: string(buf), Start: start, End: end})
	return out
}

var assetURIPattern = regexp.MustCompile(`asset://([0-9a-fA-F]{16,64})`)

// ExtractAssetIDs returns the asset ids mentioned as asset:// URIs in text,
// deduplicated in order of first appearance.
func ExtractAssetIDs(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range assetURIPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
