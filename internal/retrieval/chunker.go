package retrieval

import (
	"strings"
	"unicode/utf8"
)

// #region separators
// Separators are tried in order: section breaks, lines, sentences, words,
// and finally single characters.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// #endregion separators

// #region split
// SplitText breaks text into chunks of at most size runes, recursing to finer
// separators for pieces that are still too large. Consecutive chunks share up
// to overlap runes of trailing context.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultConfig().ChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []string
	for _, c := range splitRecursive(text, Separators, size, overlap) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func splitRecursive(text string, separators []string, size, overlap int) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var chunks, small []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) <= size {
			small = append(small, piece)
			continue
		}
		chunks = append(chunks, merge(small, size, overlap)...)
		small = nil
		if len(rest) > 0 {
			chunks = append(chunks, splitRecursive(piece, rest, size, overlap)...)
		} else {
			chunks = append(chunks, piece)
		}
	}
	return append(chunks, merge(small, size, overlap)...)
}

// splitKeep splits on sep and keeps the separator at the end of each piece,
// so joining the pieces restores the input.
func splitKeep(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	return strings.SplitAfter(text, sep)
}

// #endregion split

// #region merge
// merge packs small pieces into windows of at most size runes. When a window
// fills, the next one starts from the trailing pieces that fit in overlap.
func merge(pieces []string, size, overlap int) []string {
	var out, window []string
	total := 0
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > size && len(window) > 0 {
			out = append(out, strings.Join(window, ""))
			for total > overlap || (total+n > size && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if len(window) > 0 {
		out = append(out, strings.Join(window, ""))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// #endregion merge
