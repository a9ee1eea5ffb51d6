// Package caption reduces a stream of partial transcripts to a short,
// flicker-free caption and tracks whether the caption is stalled.
//
// [Reduce] is the pure reduction. [TranscriptState] accumulates partials
// across recognizer segment resets and applies it under a
// debounce: the displayed caption changes only while transcription is
// active, at most once per interval, and only when the reduction differs.
// [Monitor] maps the age of the last audio update to a [Status].
package caption

import "strings"

// DefaultWords is the number of trailing words shown.
const DefaultWords = 2

// punctuation is removed from the selected tokens.
var punctuation = strings.NewReplacer(
	".", "", ",", "", "!", "", "?", "", ";", "", ":", "",
)

// Reduce takes the trailing words whitespace-delimited tokens of text,
// strips [.,!?;:] from them, upper-cases them and joins them by single
// spaces. Tokens that were only punctuation are dropped after selection,
// so "brown fox ." reduces to "FOX". words <= 0 keeps every token.
func Reduce(text string, words int) string {
	tokens := strings.Fields(text)
	if words > 0 && len(tokens) > words {
		tokens = tokens[len(tokens)-words:]
	}
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.ToUpper(punctuation.Replace(tok)); tok != "" {
			out = append(out, tok)
		}
	}
	return strings.Join(out, " ")
}

// normalize is the comparison form of a token.
func normalize(tok string) string {
	return strings.ToLower(punctuation.Replace(tok))
}
