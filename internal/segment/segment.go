// Package segment splits accumulated narration text into playback units.
package segment

import "strings"

// Splitter divides text at sentence-ending delimiters. Two delimiter classes
// are used: strong terminators (。) end a sentence, clause separators (、)
// break at clause boundaries for a more granular speech cadence. Both classes
// split identically; the distinction exists so the policy stays tunable.
type Splitter struct {
	Strong string // strong sentence terminators
	Clause string // clause separators
}

// Default returns the splitter used for Japanese narration.
func Default() Splitter {
	return Splitter{
		Strong: "。",
		Clause: "、",
	}
}

// Split returns the delimiter-bounded pieces of text in order, delimiters
// removed. The last element is the unterminated remainder and is empty when
// the input ends with a delimiter. Split("") returns [""].
//
// Split is a pure function of its input: the full text is re-split on every
// delta instead of patched incrementally. Transcript-sized inputs make the
// recomputation cheap.
func (s Splitter) Split(text string) []string {
	segs := make([]string, 0, strings.Count(text, "")/8+1)
	var cur strings.Builder

	for _, r := range text {
		if s.isDelimiter(r) {
			segs = append(segs, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}

	// Trailing remainder, always present even when empty.
	return append(segs, cur.String())
}

func (s Splitter) isDelimiter(r rune) bool {
	return strings.ContainsRune(s.Strong, r) || strings.ContainsRune(s.Clause, r)
}
