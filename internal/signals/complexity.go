package signals

import (
	"strings"
	"unicode"
)

// Weights of the complexity blend. They sum to 1.
const (
	lengthWeight = 0.5
	clauseWeight = 0.3
	markerWeight = 0.2

	// wordsForMaxLength is the word count at which the length term saturates.
	wordsForMaxLength = 30
	// extraClausesForMax is how many clauses beyond the first saturate the clause term.
	extraClausesForMax = 3
	markersForMax      = 2
)

var conjunctions = map[string]bool{
	"and": true, "or": true, "but": true, "also": true, "plus": true, "then": true,
}

var multiPartMarkers = []string{
	"compare", "comparison", "versus", "vs", "difference between", "better than",
	"worse than", "pros and cons", "trade off", "tradeoff", "on the other hand",
	"step by step", "whereas", "as well as", "in addition", "which is better",
	"first", "second", "finally",
}

// TokenCount is the whitespace-separated word count.
func TokenCount(message string) int {
	return len(strings.Fields(message))
}

// Complexity scores a message in [0,1] from its length, the number of
// distinct clauses, and multi-part or comparative phrasing. It never
// decreases when words or clauses are appended.
func Complexity(message string) float64 {
	words := TokenCount(message)
	if words == 0 {
		return 0
	}
	length := min(float64(words)/wordsForMaxLength, 1)
	clauses := min(float64(ClauseCount(message)-1)/extraClausesForMax, 1)
	markers := min(float64(markerCount(message))/markersForMax, 1)
	return Clamp01(lengthWeight*length + clauseWeight*clauses + markerWeight*markers)
}

// ClauseCount splits on question marks, semicolons and coordinating
// conjunctions and counts the non-empty segments. It is at least 1 for any
// non-blank message.
func ClauseCount(message string) int {
	count := 0
	inSegment := false
	flush := func() {
		if inSegment {
			count++
			inSegment = false
		}
	}
	for _, field := range strings.Fields(message) {
		word := strings.ToLower(strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if conjunctions[word] {
			flush()
			continue
		}
		if word != "" {
			inSegment = true
		}
		if strings.ContainsAny(field, "?;") {
			flush()
		}
	}
	flush()
	if count == 0 && strings.TrimSpace(message) != "" {
		return 1
	}
	return count
}

func markerCount(message string) int {
	text := " " + NormalizeText(message) + " "
	n := 0
	for _, m := range multiPartMarkers {
		n += strings.Count(text, " "+m+" ")
	}
	return n
}

// NormalizeText lowercases and collapses every run of non-alphanumeric
// characters into one space, so phrase matching works at word boundaries.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
