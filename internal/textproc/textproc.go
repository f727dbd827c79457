// Package textproc turns page text into index words and free-text queries
// into search terms. Both sides split on the same boundaries so a word the
// fetcher stored is found by the same word typed into a query.
package textproc

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// SnippetSentences is how many leading sentences make up a page snippet.
const SnippetSentences = 3

// MaxWordLength is the longest word, in bytes, that is indexed or searched.
// Longer runs of letters are dropped.
const MaxWordLength = 128

func split(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := words[:0]
	for _, w := range words {
		if len(w) <= MaxWordLength {
			kept = append(kept, w)
		}
	}
	return kept
}

// Words returns the page's words in document order, case preserved.
// Duplicates are kept; the node lowercases when indexing.
func Words(text string) []string {
	return split(text)
}

// Terms normalizes a query into distinct lowercase terms in first-seen order.
// Stop words are dropped unless the query consists only of stop words.
func Terms(query string) []string {
	seen := make(map[string]struct{})
	var all, content []string
	for _, w := range split(strings.ToLower(query)) {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		all = append(all, w)
		if _, stop := stopWords[w]; !stop {
			content = append(content, w)
		}
	}
	if len(content) > 0 {
		return content
	}
	return all
}

// Snippet returns the first SnippetSentences sentences of text, terminated
// with a period.
func Snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	sentences := strings.Split(text, ".")
	kept := make([]string, 0, SnippetSentences)
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		kept = append(kept, s)
		if len(kept) == SnippetSentences {
			break
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, ". ") + "."
}
